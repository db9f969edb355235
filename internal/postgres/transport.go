package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tabledep/internal/engine"
	"tabledep/internal/model"
)

const drainBatch = 256

// Transport listens on the channel of one dependency and hands out queued
// payloads in queue order. Notifications only wake the listener; the queue is
// the source of truth, so notifications coalesced by the server lose nothing.
type Transport struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu      sync.Mutex
	conn    *pgx.Conn
	spec    engine.ObjectSpec
	pending [][]byte
}

func NewTransport(pool *pgxpool.Pool, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{pool: pool, logger: logger}
}

// Open takes a dedicated connection out of the pool and starts listening.
func (t *Transport) Open(ctx context.Context, spec engine.ObjectSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return errors.New("transport already open")
	}
	t.spec = spec
	t.pending = nil
	return t.connect(ctx)
}

func (t *Transport) connect(ctx context.Context) error {
	pc, err := t.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	conn := pc.Hijack()
	if _, err := conn.Exec(ctx, listenSQL(t.spec.NamingConvention)); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("listen: %w", classify(err))
	}
	t.conn = conn
	t.logger.Info("listening for notifications", zap.String("channel", namesFor(t.spec.NamingConvention).channel))
	return nil
}

// AwaitNext returns the next queued payload, waiting up to timeout for one to
// arrive. It returns model.ErrTimedOut when nothing arrived in time.
func (t *Transport) AwaitNext(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, &model.FatalTransportError{Err: errors.New("transport not open")}
	}
	if t.conn.IsClosed() {
		if err := t.reconnect(ctx); err != nil {
			return nil, err
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		if p, ok := t.pop(); ok {
			return p, nil
		}
		if err := t.drain(ctx); err != nil {
			return nil, err
		}
		if p, ok := t.pop(); ok {
			return p, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, model.ErrTimedOut
		}
		waitCtx, cancel := context.WithTimeout(ctx, remaining)
		_, err := t.conn.WaitForNotification(waitCtx)
		cancel()
		switch {
		case err == nil:
			// Drain on the next iteration.
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
			if err := t.drain(ctx); err != nil {
				return nil, err
			}
			if p, ok := t.pop(); ok {
				return p, nil
			}
			return nil, model.ErrTimedOut
		default:
			return nil, fmt.Errorf("wait for notification: %w", classify(err))
		}
	}
}

func (t *Transport) pop() ([]byte, bool) {
	if len(t.pending) == 0 {
		return nil, false
	}
	p := t.pending[0]
	t.pending = t.pending[1:]
	return p, true
}

func (t *Transport) drain(ctx context.Context) error {
	rows, err := t.conn.Query(ctx, drainSQL(t.spec.Schema, t.spec.NamingConvention), drainBatch)
	if err != nil {
		return fmt.Errorf("drain queue: %w", classify(err))
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("scan queue row: %w", err)
		}
		t.pending = append(t.pending, payload)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("drain queue: %w", classify(err))
	}
	return nil
}

// reconnect replaces a closed listen connection. Failure to reconnect is fatal.
func (t *Transport) reconnect(ctx context.Context) error {
	t.logger.Warn("listen connection closed, reconnecting")
	t.conn = nil
	if err := t.connect(ctx); err != nil {
		return &model.FatalTransportError{Err: fmt.Errorf("reconnect: %w", err)}
	}
	return nil
}

// Close stops listening and closes the dedicated connection. Undelivered
// payloads are discarded.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	conn := t.conn
	t.conn = nil
	t.pending = nil
	if conn.IsClosed() {
		return nil
	}
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		t.logger.Debug("unlisten failed", zap.Error(err))
	}
	return conn.Close(ctx)
}

var _ engine.NotificationTransport = (*Transport)(nil)
