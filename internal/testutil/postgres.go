package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/eventsync/internal/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgURL  string
	pgErr  error
)

// PostgresPool returns a pool on a migrated, empty database. TEST_DATABASE_URL
// is used when set; otherwise one throwaway container is started per test
// binary. The test is skipped when neither is available.
func PostgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		pgOnce.Do(func() { pgURL, pgErr = startPostgres(ctx) })
		if pgErr != nil {
			t.Skipf("postgres container unavailable: %v", pgErr)
		}
		url = pgURL
	}

	pool, err := database.NewPostgresPool(ctx, url, 0, DiscardLogger())
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE events, offline_queue, sync_log, devices RESTART IDENTITY`)
	require.NoError(t, err)
	return pool
}

func startPostgres(ctx context.Context) (string, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("eventsync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return "", err
	}
	return container.ConnectionString(ctx, "sslmode=disable")
}
