package postgres

import (
	"context"
	"fmt"
)

// TryRunLock takes a session-level advisory lock on a dedicated connection.
// ok=false means another process holds it. release must be called when ok.
func (db *DB) TryRunLock(ctx context.Context, key int64) (release func(), ok bool, err error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	return func() {
		// unlock on a fresh context, the run context may be done already
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}, true, nil
}
