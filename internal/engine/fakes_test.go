package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tabledep/internal/codec"
	"tabledep/internal/model"
)

var paymentsCatalog = model.Catalog{
	{Name: "Id", Ordinal: 1, SQLType: "integer"},
	{Name: "Name", Ordinal: 2, SQLType: "text"},
	{Name: "Amount", Ordinal: 3, SQLType: "numeric(10,2)"},
}

type fakeProvisioner struct {
	mu        sync.Mutex
	catalog   model.Catalog
	missing   bool
	createErr error
	created   int
	dropped   int
	lastSpec  ObjectSpec
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{catalog: paymentsCatalog}
}

func (p *fakeProvisioner) Columns(ctx context.Context, schema, table string) (model.Catalog, error) {
	return p.catalog, nil
}

func (p *fakeProvisioner) TableExists(ctx context.Context, schema, table string) (bool, error) {
	return !p.missing, nil
}

func (p *fakeProvisioner) CreateChangeObjects(ctx context.Context, spec ObjectSpec) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created++
	p.lastSpec = spec
	return []string{spec.NamingConvention + "_queue", spec.NamingConvention + "_tr"}, nil
}

func (p *fakeProvisioner) DropChangeObjects(ctx context.Context, schema, namingConvention string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped++
	return nil
}

func (p *fakeProvisioner) counts() (created, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created, p.dropped
}

// fakeTransport hands out queued payloads and errors. With stall set it
// ignores the wait timeout and blocks until its context ends.
type fakeTransport struct {
	payloads chan []byte
	errs     chan error
	stall    atomic.Bool
	waits    atomic.Int32
	opened   atomic.Int32
	closed   atomic.Int32
	openErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		payloads: make(chan []byte, 16),
		errs:     make(chan error, 4),
	}
}

func (f *fakeTransport) Open(ctx context.Context, spec ObjectSpec) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened.Add(1)
	return nil
}

func (f *fakeTransport) AwaitNext(ctx context.Context, timeout time.Duration) ([]byte, error) {
	f.waits.Add(1)
	if f.stall.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p := <-f.payloads:
		return p, nil
	case err := <-f.errs:
		return nil, err
	case <-t.C:
		return nil, model.ErrTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close(ctx context.Context) error {
	f.closed.Add(1)
	return nil
}

type fakeRegistry struct {
	mu           sync.Mutex
	registered   map[string]time.Duration
	heartbeats   int
	unregistered []string
}

func (r *fakeRegistry) Register(ctx context.Context, namingConvention, schema string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered == nil {
		r.registered = make(map[string]time.Duration)
	}
	r.registered[namingConvention] = ttl
	return nil
}

func (r *fakeRegistry) Heartbeat(ctx context.Context, namingConvention string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return nil
}

func (r *fakeRegistry) Unregister(ctx context.Context, namingConvention string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, namingConvention)
	return nil
}

type denyValidator struct{}

func (denyValidator) Validate(ctx context.Context, schema, table string) error {
	return errors.New("permission denied for table payments")
}

type recorder[E any] struct {
	mu     sync.Mutex
	events []E
}

func (r *recorder[E]) handle(e E) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder[E]) snapshot() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]E(nil), r.events...)
}

func (r *recorder[E]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// encodeRow builds a wire payload for the payments catalog. A nil old map
// means no old values.
func encodeRow(t *testing.T, ct model.ChangeType, current, old map[string]string) []byte {
	t.Helper()
	return encodeColumns(t, ct, paymentsCatalog.Names(), current, old)
}

func encodeColumns(t *testing.T, ct model.ChangeType, columns []string, current, old map[string]string) []byte {
	t.Helper()
	bag := &model.MessageBag{ChangeType: ct}
	for col, v := range current {
		bag.Messages = append(bag.Messages, model.Message{Recipient: col, Body: []byte(v)})
	}
	for col, v := range old {
		bag.Messages = append(bag.Messages, model.Message{Recipient: col, Body: []byte(v), IsOldValue: true})
	}
	return encodeBag(t, bag, columns)
}

func encodeBag(t *testing.T, bag *model.MessageBag, columns []string) []byte {
	t.Helper()
	payload, err := codec.MustNew("UTF8", "").EncodeBag(bag, columns)
	require.NoError(t, err)
	return payload
}
