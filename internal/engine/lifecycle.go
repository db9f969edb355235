package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tabledep/internal/codec"
	"tabledep/internal/dispatch"
	"tabledep/internal/mapping"
	"tabledep/internal/materializer"
	"tabledep/internal/metrics"
	"tabledep/internal/model"
)

const closeTimeout = 30 * time.Second

// Dependency watches one table and delivers its row changes as payloads of
// type P. Use NewDynamic or NewTyped to build one.
type Dependency[P any] struct {
	opts         Options
	identity     model.Identity
	selection    mapping.Selection
	updateOf     []string
	codec        *codec.Codec
	materializer materializer.Materializer[P]
	provisioner  SchemaProvisioner
	transport    NotificationTransport
	dispatcher   *dispatch.Dispatcher
	logger       *zap.Logger
	promMetrics  *metrics.Metrics

	changes  dispatch.Handlers[model.ChangedEvent[P]]
	statuses dispatch.Handlers[model.StatusEvent]
	errs     dispatch.Handlers[model.ErrorEvent]

	status atomic.Int32
	seq    atomic.Uint64
	// dispatching is the cycle whose loop is delivering notifications.
	dispatching atomic.Pointer[cycle]
	closed      atomic.Bool

	mu          sync.Mutex
	run         *cycle
	provisioned bool
}

// cycle is one Start/Stop run: the listen loop and the heartbeat goroutine.
type cycle struct {
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool
}

// NewDynamic builds a dependency whose change payload maps column names to
// their text values. With an empty mapper every table column is tracked.
func NewDynamic(ctx context.Context, opts Options, prov SchemaProvisioner, transport NotificationTransport) (*Dependency[model.ColumnValues], error) {
	d, err := prepare[model.ColumnValues](ctx, opts, prov, transport, nil)
	if err != nil {
		return nil, err
	}
	d.materializer = materializer.NewDynamic(d.codec, d.opts.IncludeOldValues)
	return d, nil
}

// NewTyped builds a dependency that populates instances of T. Properties are
// matched to columns by explicit mapping, then `column` tag, then name.
func NewTyped[T any](ctx context.Context, opts Options, prov SchemaProvisioner, transport NotificationTransport) (*Dependency[model.Record[T]], error) {
	m, err := mapping.ModelOf[T]()
	if err != nil {
		return nil, &model.ArgumentError{Name: "model", Reason: err.Error()}
	}
	d, err := prepare[model.Record[T]](ctx, opts, prov, transport, m)
	if err != nil {
		return nil, err
	}
	typed, err := materializer.NewTyped[T](d.codec, d.selection, d.opts.IncludeOldValues)
	if err != nil {
		return nil, err
	}
	d.materializer = typed
	return d, nil
}

func prepare[P any](ctx context.Context, opts Options, prov SchemaProvisioner, transport NotificationTransport, m *mapping.Model) (*Dependency[P], error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if prov == nil || transport == nil {
		return nil, &model.ArgumentError{Name: "collaborators", Reason: "provisioner and transport are required"}
	}

	for _, v := range opts.Validators {
		if err := v.Validate(ctx, opts.Schema, opts.Table); err != nil {
			return nil, &model.ProvisioningError{Op: "validate", Err: err}
		}
	}
	exists, err := prov.TableExists(ctx, opts.Schema, opts.Table)
	if err != nil {
		return nil, &model.ProvisioningError{Op: "table exists", Err: err}
	}
	if !exists {
		return nil, &model.ProvisioningError{Op: "table exists", Err: fmt.Errorf("table %s.%s not found", opts.Schema, opts.Table)}
	}
	catalog, err := prov.Columns(ctx, opts.Schema, opts.Table)
	if err != nil {
		return nil, &model.ProvisioningError{Op: "columns", Err: err}
	}

	sel, err := mapping.Select(opts.Table, catalog, m, opts.Mapper)
	if err != nil {
		return nil, err
	}
	updateOf, err := mapping.ResolveUpdateOf(opts.UpdateOf, opts.TriggerType, catalog, m, opts.Mapper)
	if err != nil {
		return nil, err
	}

	naming := NewNamingConvention()
	logger := opts.Logger.With(zap.String("naming", naming), zap.String("table", opts.Schema+"."+opts.Table))
	d := &Dependency[P]{
		opts: opts,
		identity: model.Identity{
			Server:           opts.Server,
			Database:         opts.Database,
			Schema:           opts.Schema,
			Table:            opts.Table,
			NamingConvention: naming,
		},
		selection:   sel,
		updateOf:    updateOf,
		codec:       opts.Codec,
		provisioner: prov,
		transport:   transport,
		dispatcher:  dispatch.NewDispatcher(naming, opts.Metrics, logger),
		logger:      logger,
		promMetrics: opts.Metrics,
	}
	logger.Info("dependency created",
		zap.Strings("columns", sel.ColumnNames()),
		zap.Strings("update_of", updateOf),
		zap.String("trigger", opts.TriggerType.String()),
		zap.Bool("old_values", opts.IncludeOldValues))
	return d, nil
}

// Start provisions the server-side objects and launches the listen loop.
// timeout bounds one wait for a notification; watchdog bounds a wait that
// never reports back.
func (d *Dependency[P]) Start(ctx context.Context, timeout, watchdog time.Duration) error {
	if timeout <= 0 {
		return &model.ArgumentError{Name: "timeout", Reason: "must be positive"}
	}
	if watchdog <= 0 {
		return &model.ArgumentError{Name: "watchdog timeout", Reason: "must be positive"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Status().Running() {
		return model.ErrAlreadyStarted
	}
	if watchdog <= timeout {
		d.logger.Warn("watchdog timeout does not exceed wait timeout; waits may be abandoned early",
			zap.Duration("timeout", timeout), zap.Duration("watchdog", watchdog))
	}
	// A loop stopped by a fatal error leaves its objects behind.
	if err := d.teardown(ctx); err != nil {
		d.logger.Warn("cleanup before restart failed", zap.Error(err))
	}

	d.transition(model.StatusStarting)
	spec := d.objectSpec(timeout, watchdog)
	created, err := d.provisioner.CreateChangeObjects(ctx, spec)
	if err != nil {
		d.transition(model.StatusStoppedDueToError)
		return &model.ProvisioningError{Op: "create objects", Err: err}
	}
	d.provisioned = true
	if err := d.transport.Open(ctx, spec); err != nil {
		if dropErr := d.teardown(ctx); dropErr != nil {
			d.logger.Warn("drop objects after failed open", zap.Error(dropErr))
		}
		d.transition(model.StatusStoppedDueToError)
		return &model.ProvisioningError{Op: "open transport", Err: err}
	}
	if d.opts.Registry != nil {
		if err := d.opts.Registry.Register(ctx, d.identity.NamingConvention, d.identity.Schema, 2*watchdog); err != nil {
			d.logger.Warn("register naming convention failed", zap.Error(err))
		}
	}
	d.transition(model.StatusStarted)
	d.logger.Info("change objects provisioned", zap.Strings("objects", created))

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &cycle{cancel: cancel}
	d.run = c
	d.seq.Store(0)
	d.transition(model.StatusWaitingForNotification)
	c.wg.Add(1)
	go d.listen(loopCtx, c, timeout, watchdog)
	if d.opts.Registry != nil {
		c.wg.Add(1)
		go d.keepAlive(loopCtx, c, watchdog)
	}
	return nil
}

// Stop halts the listen loop, waits for it to exit and drops the server-side
// objects. Calling Stop on a stopped dependency does nothing.
//
// Stop called while a subscriber is running, including from the subscriber
// itself, cannot wait for the loop. It cancels the loop and reports Stopped;
// the objects are dropped once the running delivery returns. Subscribers
// later in the same delivery still see the event.
func (d *Dependency[P]) Stop(ctx context.Context) error {
	if c := d.dispatching.Load(); c != nil {
		d.stopFromLoop(c)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.run == nil && !d.provisioned {
		return nil
	}
	err := d.teardown(ctx)
	if d.Status() != model.StatusStoppedDueToError {
		d.transition(model.StatusStopped)
	}
	return err
}

// Close stops the dependency once; later and concurrent calls return at once.
// Errors are logged.
func (d *Dependency[P]) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		d.logger.Warn("stop on close failed", zap.Error(err))
	}
}

// stopFromLoop handles Stop while c is delivering notifications. The loop
// drops the objects itself on exit through finishStop.
func (d *Dependency[P]) stopFromLoop(c *cycle) {
	if !c.stopping.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	if d.Status() != model.StatusStoppedDueToError {
		d.transition(model.StatusStopped)
	}
}

// finishStop tears down c unless a Start or Stop already did.
func (d *Dependency[P]) finishStop(c *cycle) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run != c {
		return
	}
	if err := d.teardown(ctx); err != nil {
		d.logger.Warn("teardown after stop from subscriber failed", zap.Error(err))
	}
}

// teardown cancels the loop, waits for it and releases server-side objects.
// Caller holds d.mu.
func (d *Dependency[P]) teardown(ctx context.Context) error {
	if d.run != nil {
		d.run.cancel()
		d.run.wg.Wait()
		d.run = nil
	}
	if !d.provisioned {
		return nil
	}
	var errs []error
	if err := d.transport.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if err := d.provisioner.DropChangeObjects(ctx, d.identity.Schema, d.identity.NamingConvention); err != nil {
		errs = append(errs, fmt.Errorf("drop objects: %w", err))
	}
	if d.opts.Registry != nil {
		if err := d.opts.Registry.Unregister(ctx, d.identity.NamingConvention); err != nil {
			d.logger.Warn("unregister naming convention failed", zap.Error(err))
		}
	}
	d.provisioned = false
	d.logger.Info("change objects dropped")
	return errors.Join(errs...)
}

func (d *Dependency[P]) transition(s model.Status) {
	prev := model.Status(d.status.Swap(int32(s)))
	if prev == s {
		return
	}
	d.promMetrics.StatusTransitions.Inc()
	d.logger.Info("status changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	evt := model.StatusEvent{Identity: d.identity, Status: s}
	if err := dispatch.Deliver(d.dispatcher, "status", d.statuses.Snapshot(), evt); err != nil {
		d.logger.Warn("status subscriber raised consistency error", zap.Error(err))
	}
}

func (d *Dependency[P]) objectSpec(timeout, watchdog time.Duration) ObjectSpec {
	return ObjectSpec{
		NamingConvention: d.identity.NamingConvention,
		Schema:           d.identity.Schema,
		Table:            d.identity.Table,
		Columns:          append(model.Catalog(nil), d.selection.Columns...),
		TriggerType:      d.opts.TriggerType,
		UpdateOf:         append([]string(nil), d.updateOf...),
		IncludeOldValues: d.opts.IncludeOldValues,
		Encoding:         d.codec.Name(),
		Timeout:          timeout,
		WatchdogTimeout:  watchdog,
	}
}

// OnChanged subscribes to change events and returns the unsubscribe function.
func (d *Dependency[P]) OnChanged(fn dispatch.Handler[model.ChangedEvent[P]]) func() {
	return d.changes.Subscribe(fn)
}

// OnStatusChanged subscribes to status transitions.
func (d *Dependency[P]) OnStatusChanged(fn dispatch.Handler[model.StatusEvent]) func() {
	return d.statuses.Subscribe(fn)
}

// OnError subscribes to runtime failures of the listen loop.
func (d *Dependency[P]) OnError(fn dispatch.Handler[model.ErrorEvent]) func() {
	return d.errs.Subscribe(fn)
}

func (d *Dependency[P]) Status() model.Status {
	return model.Status(d.status.Load())
}

func (d *Dependency[P]) Identity() model.Identity { return d.identity }
func (d *Dependency[P]) Table() string { return d.identity.Table }
func (d *Dependency[P]) Schema() string { return d.identity.Schema }
func (d *Dependency[P]) NamingConvention() string { return d.identity.NamingConvention }
func (d *Dependency[P]) UpdateOf() []string { return append([]string(nil), d.updateOf...) }

// InterestedColumns returns the tracked columns in wire order.
func (d *Dependency[P]) InterestedColumns() []model.TableColumnInfo {
	return append([]model.TableColumnInfo(nil), d.selection.Columns...)
}
