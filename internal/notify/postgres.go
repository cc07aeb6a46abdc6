package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresNotifier signals across processes with LISTEN/NOTIFY on the shared
// database.
type PostgresNotifier struct {
	pool *pgxpool.Pool
}

// NewPostgresNotifier creates a notifier on an existing pool.
func NewPostgresNotifier(pool *pgxpool.Pool) *PostgresNotifier {
	return &PostgresNotifier{pool: pool}
}

// Notify sends a NOTIFY on the feed data channel.
func (n *PostgresNotifier) Notify(ctx context.Context) error {
	if _, err := n.pool.Exec(ctx, "SELECT pg_notify($1, '')", Channel); err != nil {
		return fmt.Errorf("notify %s: %w", Channel, err)
	}
	return nil
}

// Wait LISTENs on a dedicated connection until a notification arrives or the
// timeout elapses.
func (n *PostgresNotifier) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire listen connection: %w", err)
	}
	defer func() {
		// The connection goes back to the pool; without UNLISTEN the next
		// acquirer would inherit the subscription and its queued
		// notifications. ctx may already be cancelled here.
		unlistenCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlistenCtx, "UNLISTEN "+Channel); err != nil {
			_ = conn.Conn().Close(unlistenCtx)
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return false, fmt.Errorf("listen %s: %w", Channel, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = conn.Conn().WaitForNotification(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ Notifier = (*PostgresNotifier)(nil)
