// Package main implements the entry point for the signal-api server, which
// runs recommendation tasks in the background and streams their progress to
// viewers over server-sent events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/platform/logger"
)

func main() {
	migrateCmd := flag.String("migrate", "", "run a migration command (up, down, status, version, reset) and exit")
	verbose := flag.Bool("verbose", false, "log every migration step")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before configuration")
	flag.Parse()

	if err := run(*envFile, *migrateCmd, *verbose); err != nil {
		log.Fatalf("signal-api: %v", err)
	}
}

// run loads configuration and either executes a migration command or serves
// until SIGINT/SIGTERM.
func run(envFile, migrateCmd string, verbose bool) error {
	cfg, logger, err := initializeApp(envFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrateCmd != "" {
		return handleMigrations(ctx, cfg, logger, migrateCmd, verbose)
	}

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// initializeApp loads the dotenv file, configuration and logger.
func initializeApp(envFile string) (*config.Config, *slog.Logger, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"storage_driver", cfg.Storage.Driver,
		"progress_log", cfg.Storage.ProgressLog,
		"max_concurrent", cfg.Task.MaxConcurrent)
	if cfg.Database.URL != "" {
		l.Debug("database configuration", "url", maskDatabaseURL(cfg.Database.URL))
	}
	return cfg, l, nil
}

// loadEnvFile loads KEY=VALUE pairs into the environment. A missing file is
// not an error; variables already set are not overridden.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
