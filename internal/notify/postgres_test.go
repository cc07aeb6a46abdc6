package notify

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Single-connection pool so consecutive Wait calls reuse the same session.
func setupTestNotifier(t *testing.T) (*PostgresNotifier, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := pgxpool.New(ctx, dsn+"&pool_max_conns=1")
	require.NoError(t, err, "failed to create pool")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return NewPostgresNotifier(pool), cleanup
}

func TestPostgresNotifierWaitReceivesNotify(t *testing.T) {
	notifier, cleanup := setupTestNotifier(t)
	defer cleanup()

	ctx := context.Background()
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = notifier.Notify(ctx)
	}()

	notified, err := notifier.Wait(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, notified)
}

func TestPostgresNotifierWaitUnsubscribesOnRelease(t *testing.T) {
	notifier, cleanup := setupTestNotifier(t)
	defer cleanup()

	ctx := context.Background()

	notified, err := notifier.Wait(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, notified)

	// Nobody is waiting now. If the released connection still listened, this
	// notification would be queued on it and handed to the next Wait.
	require.NoError(t, notifier.Notify(ctx))
	time.Sleep(200 * time.Millisecond)

	notified, err = notifier.Wait(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, notified)
}
