// Package testutil provides a migrated PostgreSQL database for integration tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"snapfuseAPI/internal/store"
)

const postgresImage = "postgres:16-alpine"

// SetupTestDB returns a migrated, empty database. TEST_DATABASE_URL is used
// when set; otherwise a throwaway postgres container is started. Skipped
// under -short.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		ctr, err := postgres.Run(ctx, postgresImage,
			postgres.WithDatabase("snapfuse_test"),
			postgres.WithUsername("snapfuse"),
			postgres.WithPassword("snapfuse"),
			postgres.BasicWaitStrategies(),
		)
		testcontainers.CleanupContainer(t, ctr)
		if err != nil {
			t.Fatalf("failed to start postgres container: %v", err)
		}

		dbURL, err = ctr.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("failed to get connection string: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping test database: %v", err)
	}
	if err := store.Migrate(pool); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	CleanupTestDB(t, pool)
	return pool
}

// CleanupTestDB empties every table; users cascade to their jobs,
// transactions and payments.
func CleanupTestDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE users, processed_webhook_events CASCADE`)
	if err != nil {
		t.Fatalf("failed to clean test database: %v", err)
	}
}
