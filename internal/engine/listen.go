package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tabledep/internal/dispatch"
	"tabledep/internal/model"
)

// listen waits for notifications until ctx is cancelled or a fatal error
// occurs. Each wait is bounded by watchdog; a wait that outlives it is
// abandoned and a new one is issued.
func (d *Dependency[P]) listen(ctx context.Context, c *cycle, timeout, watchdog time.Duration) {
	defer c.wg.Done()
	defer func() {
		if c.stopping.Load() {
			go d.finishStop(c)
		}
	}()
	d.promMetrics.ActiveDependencies.Inc()
	defer d.promMetrics.ActiveDependencies.Dec()

	columns := d.selection.ColumnNames()
	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, watchdog)
		payload, err := d.transport.AwaitNext(waitCtx, timeout)
		stalled := waitCtx.Err() != nil && ctx.Err() == nil
		cancel()

		switch {
		case err == nil:
			backoff = 0
			if d.deliver(c, func() bool {
				err := d.handle(payload, columns)
				return err != nil && d.fail(ctx, err)
			}) {
				return
			}
		case ctx.Err() != nil:
			return
		case errors.Is(err, model.ErrTimedOut):
			d.promMetrics.WaitTimeouts.Inc()
			d.logger.Debug("no notification within timeout", zap.Duration("timeout", timeout))
		case stalled:
			d.promMetrics.WatchdogExpirations.Inc()
			d.logger.Warn("wait exceeded watchdog timeout, restarting wait",
				zap.Duration("watchdog", watchdog), zap.Error(err))
		default:
			if d.deliver(c, func() bool { return d.fail(ctx, err) }) {
				return
			}
			d.promMetrics.TransportErrors.Inc()
			backoff = sleepWithBackoff(ctx, backoff)
		}
	}
}

// deliver runs fn with c marked as dispatching so that subscribers may call
// Stop. It returns fn's result.
func (d *Dependency[P]) deliver(c *cycle, fn func() bool) bool {
	d.dispatching.Store(c)
	defer d.dispatching.Store(nil)
	return fn()
}

// handle decodes one payload and delivers it to change subscribers.
func (d *Dependency[P]) handle(payload []byte, columns []string) error {
	start := time.Now()
	bag, err := d.codec.DecodeBag(payload, columns)
	if err != nil {
		return err
	}
	entity, err := d.materializer.Materialize(bag)
	if err != nil {
		return err
	}
	evt := model.ChangedEvent[P]{
		Identity:   d.identity,
		Sequence:   d.seq.Add(1),
		ChangeType: bag.ChangeType,
		Payload:    entity,
		ReceivedAt: start,
	}
	if err := dispatch.Deliver(d.dispatcher, "change", d.changes.Snapshot(), evt); err != nil {
		return err
	}
	d.promMetrics.ChangesDispatched.Inc()
	d.promMetrics.DispatchLatency.Observe(uint64(time.Since(start).Microseconds()))
	return nil
}

// fail reports err to error subscribers and reports whether the loop must end.
// Errors caused by cancellation are not reported.
func (d *Dependency[P]) fail(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	fatal := model.IsFatal(err)
	var decodeErr *model.MessageDecodeError
	switch {
	case fatal:
		d.logger.Error("listen loop failed", zap.Error(err))
	case errors.As(err, &decodeErr):
		d.promMetrics.DecodeErrors.Inc()
		d.logger.Warn("discarding undecodable message", zap.Error(err))
	default:
		d.logger.Warn("transport error", zap.Error(err))
	}

	if fatal {
		d.transition(model.StatusStoppedDueToError)
	}
	evt := model.ErrorEvent{Identity: d.identity, Err: err, Fatal: fatal}
	if cerr := dispatch.Deliver(d.dispatcher, "error", d.errs.Snapshot(), evt); cerr != nil {
		d.logger.Warn("error subscriber raised consistency error", zap.Error(cerr))
	}
	return fatal
}

// keepAlive refreshes the registry heartbeat on its own ticker so that long
// waits, backoff and slow subscribers do not let the registration expire.
func (d *Dependency[P]) keepAlive(ctx context.Context, c *cycle, watchdog time.Duration) {
	defer c.wg.Done()
	ttl := 2 * watchdog
	// The registry writes at most once per ttl/4; ticking faster keeps the
	// gap between writes near ttl/4.
	t := time.NewTicker(ttl / 8)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := d.opts.Registry.Heartbeat(ctx, d.identity.NamingConvention, ttl); err != nil {
				d.logger.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}
