// Package pgtest connects tests to a throwaway PostgreSQL database.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"librarycatalog/internal/store/postgres"
)

// DSN builds a connection string from the standard PG* variables, falling back to local defaults.
// TEST_DATABASE_URL wins when set.
func DSN() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("PGHOST", "localhost"),
		getEnv("PGPORT", "5432"),
		getEnv("PGUSER", "user"),
		getEnv("PGPASSWORD", "password"),
		getEnv("PGDATABASE", "testdb"),
	)
}

// lockKey serialises test packages that share the database; go test runs packages in parallel.
const lockKey = 7_310_251

// Open connects with driver, applies the schema and empties every table.
// It skips the test if the database cannot be reached.
func Open(t testing.TB, driver string) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	db, err := postgres.Open(ctx, driver, DSN(), postgres.WithPingTries(1))
	if err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	conn, err := db.Connx(ctx)
	if err != nil {
		t.Fatalf("failed to reserve connection: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		t.Fatalf("failed to take test lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey)
		conn.Close()
	})

	if err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE events, loans, books, authors, credentials, users`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	return db
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
