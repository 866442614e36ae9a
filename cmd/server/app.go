package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/signal-api/internal/analysis"
	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/events"
	"github.com/phrazzld/signal-api/internal/pipeline"
	"github.com/phrazzld/signal-api/internal/platform/gemini"
	"github.com/phrazzld/signal-api/internal/platform/marketdata"
	"github.com/phrazzld/signal-api/internal/platform/postgres"
	"github.com/phrazzld/signal-api/internal/platform/redisstore"
	"github.com/phrazzld/signal-api/internal/platform/universe"
	"github.com/phrazzld/signal-api/internal/store"
	"github.com/phrazzld/signal-api/internal/store/memory"
	"github.com/phrazzld/signal-api/internal/task"
	"github.com/redis/go-redis/v9"
)

// backends are the persistence components selected by configuration.
type backends struct {
	tasks    store.TaskStore
	results  store.ResultStore
	progress store.ProgressStore
}

// application holds the long-lived components of a running server.
type application struct {
	config      *config.Config
	logger      *slog.Logger
	manager     *task.Manager
	broadcaster *events.Broadcaster
	router      http.Handler

	db      *sql.DB
	redis   *redis.Client
	closers []func() error
}

// newApplication opens the configured backends and assembles the task
// manager, the pipeline and the HTTP router.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	b, err := app.openBackends(ctx)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	var cache marketdata.Cache
	if app.redis != nil {
		cache = redisstore.NewBarCache(app.redis, cfg.Redis.KeyPrefix, cfg.MarketData.CacheTTL)
	}

	generator, err := gemini.NewGenerator(ctx, logger, cfg.LLM)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	deps := pipeline.Dependencies{
		Fetcher:  marketdata.NewClient(cfg.MarketData, cache),
		Scorer:   pipeline.ScorerFunc(analysis.Analyze),
		Streamer: generator,
		Universe: universe.New(cfg.Universe),
	}
	if err := app.assemble(ctx, b, deps); err != nil {
		app.cleanup()
		return nil, err
	}
	return app, nil
}

// openBackends connects Postgres and Redis as far as the storage settings
// require them.
func (a *application) openBackends(ctx context.Context) (backends, error) {
	cfg := a.config

	needsDB := cfg.Storage.Driver == config.DriverPostgres || cfg.Storage.ProgressLog == config.DriverPostgres
	if needsDB {
		if cfg.Database.URL == "" {
			return backends{}, errors.New("postgres storage selected but SIGNAL_DATABASE_URL is empty")
		}
		db, err := setupAppDatabase(ctx, cfg.Database, a.logger)
		if err != nil {
			return backends{}, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
	}

	if cfg.Storage.ProgressLog == config.DriverRedis && !cfg.Redis.Enabled() {
		return backends{}, errors.New("redis progress log selected but SIGNAL_REDIS_ADDR is empty")
	}
	if cfg.Redis.Enabled() {
		client, err := redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			return backends{}, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		a.logger.Info("redis connection established", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	}

	var b backends
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		b.tasks = postgres.NewPostgresTaskStore(a.db)
		b.results = postgres.NewPostgresResultStore(a.db)
	default:
		b.tasks = memory.NewTaskStore()
		b.results = memory.NewResultStore()
	}

	switch cfg.Storage.ProgressLog {
	case config.DriverPostgres:
		b.progress = postgres.NewPostgresProgressStore(a.db)
	case config.DriverRedis:
		b.progress = redisstore.NewProgressStore(a.redis, cfg.Redis.KeyPrefix, cfg.Redis.ProgressTTL)
	default:
		b.progress = memory.NewProgressStore()
	}

	a.logger.Info("storage backends selected",
		"tasks", cfg.Storage.Driver,
		"progress_log", cfg.Storage.ProgressLog)
	return b, nil
}

// assemble wires the broadcaster, pipeline and manager on top of b, then
// recovers tasks left running by a previous process.
func (a *application) assemble(ctx context.Context, b backends, deps pipeline.Dependencies) error {
	a.broadcaster = events.NewBroadcaster(b.progress, a.logger, a.config.Broadcast)

	deps.Publisher = a.broadcaster
	deps.Results = b.results
	p, err := pipeline.New(deps, a.config.Pipeline, a.config.Fusion.Alpha, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	manager, err := task.NewManager(task.Config{
		Tasks:         b.tasks,
		Results:       b.results,
		Progress:      b.progress,
		Publisher:     a.broadcaster,
		Runner:        p,
		MaxConcurrent: a.config.Task.MaxConcurrent,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create task manager: %w", err)
	}
	a.manager = manager

	a.broadcaster.Start()
	a.closers = append([]func() error{func() error {
		a.broadcaster.Stop()
		return nil
	}}, a.closers...)

	recovered, err := manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	if recovered > 0 {
		a.logger.Warn("marked interrupted tasks as failed", "count", recovered)
	}

	a.router = newRouter(a.logger, manager, a.broadcaster)
	return nil
}

// cleanup releases everything opened by newApplication, broadcaster first.
func (a *application) cleanup() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Error("failed to release resource", "error", err)
		}
	}
	a.closers = nil
}
