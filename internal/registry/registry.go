package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tabledep/internal/metrics"
)

// Entry is one live naming convention and the schema holding its objects.
type Entry struct {
	NamingConvention string
	Schema           string
}

// Store persists registered naming conventions and their heartbeats.
type Store interface {
	Save(ctx context.Context, e Entry, ttl time.Duration) error
	Touch(ctx context.Context, namingConvention string, ttl time.Duration) error
	Delete(ctx context.Context, namingConvention string) error
	// Expired lists entries whose heartbeat is gone.
	Expired(ctx context.Context) ([]Entry, error)
}

// Dropper removes the server-side objects of a naming convention.
type Dropper interface {
	DropChangeObjects(ctx context.Context, schema, namingConvention string) error
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore keeps entries in process. Useful for tests and single-process runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Save(ctx context.Context, e Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.NamingConvention] = memoryEntry{entry: e, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, namingConvention string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.entries[namingConvention]
	if !ok {
		return errors.New("naming convention not registered")
	}
	me.expiresAt = s.now().Add(ttl)
	s.entries[namingConvention] = me
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, namingConvention string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, namingConvention)
	return nil
}

func (s *MemoryStore) Expired(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []Entry
	for _, me := range s.entries {
		if !now.Before(me.expiresAt) {
			out = append(out, me.entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NamingConvention < out[j].NamingConvention })
	return out, nil
}

// Manager registers dependencies and refreshes their heartbeats, writing to
// the store at most once per quarter TTL for each naming convention.
type Manager struct {
	store       Store
	logger      *zap.Logger
	promMetrics *metrics.Metrics
	now         func() time.Time

	mu        sync.Mutex
	lastTouch map[string]time.Time
}

func NewManager(store Store, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.GlobalMetrics
	}
	return &Manager{
		store:       store,
		logger:      logger,
		promMetrics: m,
		now:         time.Now,
		lastTouch:   make(map[string]time.Time),
	}
}

func (m *Manager) Register(ctx context.Context, namingConvention, schema string, ttl time.Duration) error {
	if err := m.store.Save(ctx, Entry{NamingConvention: namingConvention, Schema: schema}, ttl); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastTouch[namingConvention] = m.now()
	m.mu.Unlock()
	m.logger.Debug("naming convention registered", zap.String("naming", namingConvention), zap.Duration("ttl", ttl))
	return nil
}

func (m *Manager) Heartbeat(ctx context.Context, namingConvention string, ttl time.Duration) error {
	now := m.now()
	m.mu.Lock()
	last, ok := m.lastTouch[namingConvention]
	if ok && now.Sub(last) < ttl/4 {
		m.mu.Unlock()
		return nil
	}
	m.lastTouch[namingConvention] = now
	m.mu.Unlock()
	return m.store.Touch(ctx, namingConvention, ttl)
}

func (m *Manager) Unregister(ctx context.Context, namingConvention string) error {
	m.mu.Lock()
	delete(m.lastTouch, namingConvention)
	m.mu.Unlock()
	return m.store.Delete(ctx, namingConvention)
}

// CleanupOrphans drops the objects of every registered naming convention whose
// heartbeat expired and returns how many were removed. A failed drop keeps the
// entry for the next run.
func (m *Manager) CleanupOrphans(ctx context.Context, dropper Dropper) (int, error) {
	expired, err := m.store.Expired(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	dropped := 0
	for _, e := range expired {
		if err := dropper.DropChangeObjects(ctx, e.Schema, e.NamingConvention); err != nil {
			m.logger.Warn("drop orphaned objects failed", zap.String("naming", e.NamingConvention), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if err := m.store.Delete(ctx, e.NamingConvention); err != nil {
			errs = append(errs, err)
			continue
		}
		dropped++
		m.promMetrics.OrphansDropped.Inc()
		m.logger.Info("orphaned objects dropped", zap.String("naming", e.NamingConvention), zap.String("schema", e.Schema))
	}
	return dropped, errors.Join(errs...)
}
