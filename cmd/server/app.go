package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/scry-tasks/internal/api"
	"github.com/phrazzld/scry-tasks/internal/config"
	"github.com/phrazzld/scry-tasks/internal/content"
	"github.com/phrazzld/scry-tasks/internal/gateway"
	"github.com/phrazzld/scry-tasks/internal/gateway/anthropic"
	"github.com/phrazzld/scry-tasks/internal/gateway/gemini"
	"github.com/phrazzld/scry-tasks/internal/gateway/openai"
	"github.com/phrazzld/scry-tasks/internal/metrics"
	"github.com/phrazzld/scry-tasks/internal/platform/memory"
	"github.com/phrazzld/scry-tasks/internal/platform/postgres"
	"github.com/phrazzld/scry-tasks/internal/prompt"
	"github.com/phrazzld/scry-tasks/internal/queue"
	"github.com/phrazzld/scry-tasks/internal/router"
	"github.com/phrazzld/scry-tasks/internal/service/auth"
	"github.com/phrazzld/scry-tasks/internal/store"
	"github.com/phrazzld/scry-tasks/internal/task"
	"github.com/phrazzld/scry-tasks/internal/telemetry"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Set only for the postgres storage driver.
	db   *sql.DB
	pool *pgxpool.Pool

	store     store.TaskStore
	transport queue.Transport
	loader    content.Loader

	jwtService auth.JWTService
	pipeline   *task.Pipeline
	processor  *task.Processor

	closers []func(context.Context) error
}

// adapterFactory builds the backend adapters. Tests replace it.
type adapterFactory func(ctx context.Context, llm config.LLMConfig) (map[router.Backend]gateway.Adapter, error)

// newApplication creates a new application instance with all dependencies
// initialized. Callers must call close when done.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, adapters adapterFactory) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	ready := false
	defer func() {
		if !ready {
			app.close(context.Background())
		}
	}()

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.closers = append(app.closers, shutdownTelemetry)

	docs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	app.loader = newContentLoader(docs, cfg.Content)

	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	if adapters == nil {
		adapters = backendAdapters
	}
	backends, err := adapters(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AI backends: %w", err)
	}
	gw, err := gateway.New(cfg.Gateway, backends, logger, app.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	policy, err := router.NewPolicy(cfg.Router)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize routing policy: %w", err)
	}

	prompts, err := prompt.NewLibrary(cfg.LLM.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}

	app.processor, err = task.NewProcessor(
		app.store,
		app.loader,
		policy,
		prompts,
		gw,
		task.ProcessorConfig{
			ClaimLease:  cfg.Worker.ClaimLease,
			MaxAttempts: gw.MaxAttempts(),
		},
		logger,
		app.metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task processor: %w", err)
	}

	app.pipeline = task.NewPipeline(app.store, app.transport, logger, app.metrics)

	ready = true
	logger.Info("application initialized",
		"storage_driver", cfg.Storage.Driver,
		"backends", len(backends),
		"max_attempts", gw.MaxAttempts())
	return app, nil
}

// setupStorage creates the task store and queue for the configured driver.
// It returns the loader for stored payloads, which may be nil when nothing
// but inline text can be loaded.
func (app *application) setupStorage(ctx context.Context) (content.Loader, error) {
	cfg := app.config

	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.db = db
		app.closers = append(app.closers, func(context.Context) error { return db.Close() })

		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.pool = pool
		app.closers = append(app.closers, func(context.Context) error {
			pool.Close()
			return nil
		})

		q := postgres.NewQueue(db, pool, postgres.QueueConfig{
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			Prefetch:          cfg.Queue.Prefetch,
			PollInterval:      cfg.Queue.PollInterval,
		}, app.logger)
		app.transport = q
		app.closers = append(app.closers, func(context.Context) error { return q.Close() })

		app.store = postgres.NewPostgresTaskStore(db)
		app.logger.Info("database connection established")
		return postgres.NewDocumentLoader(db), nil

	case "memory":
		q := memory.NewQueue(memory.QueueConfig{
			Capacity:          cfg.Queue.Buffer,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			Prefetch:          cfg.Queue.Prefetch,
			PollInterval:      cfg.Queue.PollInterval,
		}, app.logger)
		app.transport = q
		app.closers = append(app.closers, func(context.Context) error { return q.Close() })
		app.store = memory.NewTaskStore()

		if cfg.Content.DocumentDir == "" {
			return nil, nil
		}
		return content.DirLoader{Root: cfg.Content.DocumentDir}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newContentLoader serves inline text directly and every stored reference
// kind through a cache in front of docs.
func newContentLoader(docs content.Loader, cfg config.ContentConfig) content.Loader {
	loaders := content.MultiLoader{
		content.KindText: content.InlineLoader{},
	}
	if docs == nil {
		return loaders
	}

	cached := content.NewCachingLoader(docs, cfg.CacheTTL)
	for _, kind := range []content.Kind{content.KindDocument, content.KindConversation, content.KindAudio} {
		loaders[kind] = cached
	}
	return loaders
}

// backendAdapters creates an adapter for every backend with credentials.
func backendAdapters(ctx context.Context, llm config.LLMConfig) (map[router.Backend]gateway.Adapter, error) {
	adapters := make(map[router.Backend]gateway.Adapter)

	if llm.OpenAIAPIKey != "" {
		a, err := openai.New(llm.OpenAIAPIKey, llm.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		adapters[router.BackendOpenAI] = a
	}
	if llm.GeminiAPIKey != "" {
		a, err := gemini.New(ctx, llm.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		adapters[router.BackendGemini] = a
	}
	if llm.AnthropicAPIKey != "" {
		a, err := anthropic.New(llm.AnthropicAPIKey, llm.AnthropicBaseURL)
		if err != nil {
			return nil, err
		}
		adapters[router.BackendAnthropic] = a
	}

	if len(adapters) == 0 {
		return nil, errors.New("no AI backend credentials configured")
	}
	return adapters, nil
}

// handler builds the HTTP surface.
func (app *application) handler() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Tasks:     app.pipeline,
		Validator: app.jwtService,
		Gatherer:  app.registry,
		Logger:    app.logger,
	})
}

// runHTTP serves the API until ctx is cancelled, then shuts down gracefully.
func (app *application) runHTTP(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// runWorkers consumes the queue with the worker pool and runs the staleness
// sweeper until ctx is cancelled. In-flight tasks get the shutdown timeout to
// finish; anything cut off is redelivered.
func (app *application) runWorkers(ctx context.Context) error {
	wc := app.config.Worker

	pool := task.NewWorkerPool(
		app.transport,
		app.processor,
		task.WorkerPoolConfig{WorkerCount: wc.Count},
		app.logger,
		app.metrics,
	)
	sweeper := task.NewSweeper(app.store, app.transport, task.SweeperConfig{
		Interval:   wc.SweepInterval,
		StaleAfter: wc.StaleAfter,
		ClaimLease: wc.ClaimLease,
		Batch:      wc.SweepBatch,
	}, app.logger, app.metrics)

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		if err := pool.Stop(stopCtx); err != nil {
			return fmt.Errorf("worker pool did not stop cleanly: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// close releases resources in reverse order of creation.
func (app *application) close(ctx context.Context) {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			app.logger.Error("error during shutdown", "error", err)
		}
	}
	app.closers = nil
	app.logger.Info("application shutdown completed")
}
