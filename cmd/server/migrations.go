package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/platform/postgres/migrations"
	"github.com/pressly/goose/v3"
)

// slogGooseLogger adapts the goose logger interface to slog.
type slogGooseLogger struct {
	logger  *slog.Logger
	verbose bool
}

// Printf forwards goose progress messages.
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if l.verbose {
		l.logger.Info(msg)
		return
	}
	l.logger.Debug(msg)
}

// Fatalf logs at error level. It does not exit; the error reaches main
// through the returned value instead.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

var migrationCommands = map[string]bool{
	"up":      true,
	"down":    true,
	"status":  true,
	"version": true,
	"reset":   true,
}

// handleMigrations opens the database and runs one goose command against the
// embedded migrations.
func handleMigrations(ctx context.Context, cfg *config.Config, logger *slog.Logger, command string, verbose bool) error {
	if !migrationCommands[command] {
		return fmt.Errorf("unknown migration command %q", command)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is empty: set SIGNAL_DATABASE_URL")
	}

	db, err := setupAppDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	return runMigrations(ctx, db, logger, command, verbose)
}

// runMigrations executes command with goose. Tests call it with a database
// of their own.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger, command string, verbose bool) error {
	log := logger.With(
		"component", "migrations",
		"command", command,
		"correlation_id", uuid.NewString())

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&slogGooseLogger{logger: log, verbose: verbose})
	goose.SetVerbose(verbose)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	start := time.Now()
	log.Info("running migrations")

	if err := goose.RunContext(ctx, command, db, "."); err != nil {
		log.Error("migration failed", "error", err, "duration", time.Since(start).String())
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	log.Info("migrations finished", "duration", time.Since(start).String())
	return nil
}
