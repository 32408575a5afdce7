package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

// Lock is a store.ExclusiveLock backed by pg_try_advisory_lock. Every
// acquisition is pinned to its own *sql.Conn drawn from db's pool, never
// the shared pool itself, because the lock is scoped to the session that
// took it: releasing or losing that one connection releases the lock.
type Lock struct {
	db           *sql.DB
	logger       es.Logger
	pingInterval time.Duration
}

// NewLock creates a new Postgres advisory lock over db's connection pool.
func NewLock(db *sql.DB, logger es.Logger) *Lock {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	return &Lock{db: db, logger: logger, pingInterval: 30 * time.Second}
}

// TryAcquire implements store.ExclusiveLock.
func (l *Lock) TryAcquire(ctx context.Context, id int64) (store.Held, bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: acquire session connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("postgres: pg_try_advisory_lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	held := &heldLock{
		conn:     conn,
		id:       id,
		lost:     make(chan struct{}),
		logger:   l.logger,
		interval: l.pingInterval,
	}
	go held.watch()
	return held, true, nil
}

type heldLock struct {
	conn      *sql.Conn
	id        int64
	lost      chan struct{}
	closeOnce sync.Once
	logger    es.Logger
	interval  time.Duration
}

func (h *heldLock) markLost() {
	h.closeOnce.Do(func() { close(h.lost) })
}

// watch pings the pinned connection periodically; a broken session
// implicitly releases pg_try_advisory_lock, and the holder must learn of
// it to terminate rather than believe it still owns the lock.
func (h *heldLock) watch() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), h.interval/2)
		err := h.conn.PingContext(ctx)
		cancel()
		if err != nil {
			h.logger.Error(context.Background(), "advisory lock session lost", "id", h.id, "error", err)
			h.markLost()
			return
		}
		select {
		case <-h.lost:
			return
		default:
		}
	}
}

// Release implements store.Held.
func (h *heldLock) Release(ctx context.Context) error {
	select {
	case <-h.lost:
		return nil
	default:
	}
	_, err := h.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, h.id)
	closeErr := h.conn.Close()
	h.markLost()
	if err != nil {
		return fmt.Errorf("postgres: pg_advisory_unlock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("postgres: close session connection: %w", closeErr)
	}
	return nil
}

// Lost implements store.Held.
func (h *heldLock) Lost() <-chan struct{} {
	return h.lost
}
