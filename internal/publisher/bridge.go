package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tabledep/internal/metrics"
	"tabledep/internal/model"
	"tabledep/internal/transformer"
)

// Bridge is a change subscriber that forwards dynamic change events to a
// Publisher as JSON envelopes.
type Bridge struct {
	pub         Publisher
	transformer *transformer.Transformer
	maxRetries  int
	timeout     time.Duration
	logger      *zap.Logger
	promMetrics *metrics.Metrics
}

type BridgeOptions struct {
	Source     string
	MaxRetries int
	// Timeout bounds one Handle call including retries.
	Timeout time.Duration
}

func NewBridge(pub Publisher, opts BridgeOptions, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Bridge{
		pub:         pub,
		transformer: transformer.NewTransformer(opts.Source),
		maxRetries:  opts.MaxRetries,
		timeout:     opts.Timeout,
		logger:      logger,
		promMetrics: metrics.GlobalMetrics,
	}
}

// Handle publishes evt. It has the signature of a change subscriber.
func (b *Bridge) Handle(evt model.ChangedEvent[model.ColumnValues]) error {
	env, err := b.transformer.Transform(evt)
	if err != nil {
		b.promMetrics.BridgeFailures.Inc()
		return fmt.Errorf("transform: %w", err)
	}
	subject, err := SubjectForEnvelope(env)
	if err != nil {
		b.promMetrics.BridgeFailures.Inc()
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.promMetrics.BridgeFailures.Inc()
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	msg := Message{Subject: subject, ID: env.EventID, Data: data}
	if err := b.pub.PublishWithRetries(ctx, msg, b.maxRetries); err != nil {
		b.promMetrics.BridgeFailures.Inc()
		b.logger.Warn("bridge publish failed", zap.String("subject", subject), zap.String("event_id", env.EventID), zap.Error(err))
		return err
	}
	b.promMetrics.BridgePublished.Inc()
	return nil
}
