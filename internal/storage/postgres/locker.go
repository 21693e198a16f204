package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"trade-metrics-lab/internal/storage"
)

// Locker implements storage.Locker with session-level advisory locks.
// Every key is held on one dedicated session opened from the pool's config but
// outside it, so held locks never take connections away from queries.
// Keys already held in this process are refused locally: advisory locks are
// reentrant within a session.
type Locker struct {
	pool *Pool

	mu   sync.Mutex
	conn *pgx.Conn
	held map[string]*pgx.Conn
}

// NewLocker creates a new advisory Locker. The lock session is opened lazily.
func NewLocker(pool *Pool) *Locker {
	return &Locker{pool: pool, held: make(map[string]*pgx.Conn)}
}

var _ storage.Locker = (*Locker)(nil)

// session returns the live lock connection, reconnecting when needed.
// Caller holds l.mu.
func (l *Locker) session(ctx context.Context) (*pgx.Conn, error) {
	if l.conn != nil && !l.conn.IsClosed() {
		return l.conn, nil
	}
	conn, err := pgx.ConnectConfig(ctx, l.pool.Config().ConnConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("open lock session: %w", err)
	}
	// locks of a dead session are gone server-side
	clear(l.held)
	l.conn = conn
	return conn, nil
}

// drop closes a broken session. Caller holds l.mu.
func (l *Locker) drop(conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Close(ctx)
	if l.conn == conn {
		l.conn = nil
	}
}

// TryLock acquires key without waiting. Returns ErrLockHeld if taken.
func (l *Locker) TryLock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.held[key]; ok && !c.IsClosed() {
		return nil, storage.ErrLockHeld
	}

	conn, err := l.session(ctx)
	if err != nil {
		return nil, err
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&locked); err != nil {
		if ctx.Err() == nil {
			l.drop(conn)
		}
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		return nil, storage.ErrLockHeld
	}
	l.held[key] = conn

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, conn) })
	}, nil
}

func (l *Locker) release(key string, conn *pgx.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] != conn {
		return
	}
	delete(l.held, key)
	if conn.IsClosed() {
		return
	}

	// Unlock even if the caller's context is done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
		// Closing the session drops its locks.
		l.drop(conn)
	}
}

// Close ends the lock session, dropping every lock still held.
func (l *Locker) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.drop(l.conn)
	}
	clear(l.held)
}
