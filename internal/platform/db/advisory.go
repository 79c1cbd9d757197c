package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker serializes work across processes with PostgreSQL session
// advisory locks. Each held lock pins one pooled connection until released,
// and the locked context runs repository statements on that connection so
// the holder never needs a second one from the pool.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// Lock blocks until the advisory lock for key is held or ctx is done.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection for advisory lock: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		// The session may still hold or be waiting on the lock; drop it.
		conn.Conn().Close(context.Background())
		conn.Release()
		return nil, nil, fmt.Errorf("advisory lock %s: %w", key, err)
	}

	var once sync.Once
	return WithConn(ctx, conn), func() {
		once.Do(func() {
			if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
				conn.Conn().Close(context.Background())
			}
			conn.Release()
		})
	}, nil
}
