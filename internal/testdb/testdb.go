//go:build integration

// Package testdb provides utilities for tests that run against a real
// Postgres database. Tests skip when no database is configured, except in
// CI where a missing database is a failure.
package testdb

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/phrazzld/signal-api/internal/platform/postgres/migrations"
	"github.com/pressly/goose/v3"
)

// Environment variables consulted for the test database, in order.
const (
	EnvTestDatabaseURL = "SIGNAL_TEST_DATABASE_URL"
	EnvDatabaseURL     = "DATABASE_URL"
)

var ciVariables = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "CIRCLECI"}

// IsCI reports whether the tests run under a CI provider.
func IsCI() bool {
	for _, name := range ciVariables {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// URL returns the configured test database URL, or "" if there is none.
func URL() string {
	for _, name := range []string{EnvTestDatabaseURL, EnvDatabaseURL} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

var migrateOnce sync.Once
var migrateErr error

// Open connects to the test database and applies the migrations once per
// test binary.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	dsn := URL()
	if dsn == "" {
		if IsCI() {
			t.Fatalf("no test database: set %s", EnvTestDatabaseURL)
		}
		t.Skipf("%s not set", EnvTestDatabaseURL)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("failed to ping test database: %v", err)
	}

	migrateOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		if migrateErr = goose.SetDialect("postgres"); migrateErr == nil {
			migrateErr = goose.Up(db, ".")
		}
	})
	if migrateErr != nil {
		t.Fatalf("failed to migrate test database: %v", migrateErr)
	}
	return db
}

// BeginTx opens the test database and starts a transaction that is rolled
// back when the test finishes, so tests never see each other's rows.
func BeginTx(t *testing.T) *sql.Tx {
	t.Helper()

	db := Open(t)
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}
