package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/testforge/trackingtester/migrations"
)

// startDB runs a throwaway PostgreSQL container with the schema applied.
// The container is terminated when the test ends.
func startDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("trackingtester_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "starting postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return conn.PingContext(ctx) == nil }, 30*time.Second, 500*time.Millisecond)

	db := &DB{DB: conn}
	require.NoError(t, db.Migrate(ctx, migrations.FS))
	return db
}

// resetRuns empties tracking_runs between subtests.
func resetRuns(t *testing.T, db *DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), "TRUNCATE TABLE tracking_runs")
	require.NoError(t, err)
}
