package dispatch

import (
	"fmt"

	"go.uber.org/zap"

	"tabledep/internal/metrics"
	"tabledep/internal/model"
)

// Dispatcher delivers notifications of one dependency instance to a snapshot
// of subscribers, synchronously and in order.
type Dispatcher struct {
	naming      string
	logger      *zap.Logger
	promMetrics *metrics.Metrics
}

func NewDispatcher(naming string, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.GlobalMetrics
	}
	return &Dispatcher{naming: naming, logger: logger, promMetrics: m}
}

// Deliver invokes every handler with evt. Failures and panics are isolated per
// handler. The first consistency error returned by a handler is re-raised
// after all handlers have run.
func Deliver[E any](d *Dispatcher, kind string, handlers []Handler[E], evt E) error {
	var consistency error
	for i, h := range handlers {
		err := invoke(h, evt)
		if err == nil {
			continue
		}
		d.promMetrics.SubscriberFailures.Inc()
		if model.IsConsistency(err) {
			d.logger.Error("subscriber raised consistency error",
				zap.String("kind", kind), zap.Int("subscriber", i), zap.String("naming", d.naming), zap.Error(err))
			if consistency == nil {
				consistency = err
			}
			continue
		}
		d.logger.Warn("subscriber failed",
			zap.String("kind", kind), zap.Int("subscriber", i), zap.String("naming", d.naming), zap.Error(err))
	}
	return consistency
}

func invoke[E any](h Handler[E], evt E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("subscriber panic: %w", e)
				return
			}
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h(evt)
}
