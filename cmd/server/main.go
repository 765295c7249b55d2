package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liamcoop/automations/handlers"
	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/internal/metrics"
	"github.com/liamcoop/automations/rules"
	"github.com/liamcoop/automations/workspaceengine"
)

// App owns the long-lived components behind the server
type App struct {
	cfg        *config.Config
	db         *sql.DB
	engine     *rules.Engine
	workspaces *workspaceengine.Manager
	server     *Server
}

// NewApp wires stores, handlers, metrics and engines from cfg.
// An empty database URL runs everything in memory.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{cfg: cfg}

	var (
		store    rules.RuleStore
		pgExecs  *rules.PostgresExecutionStore
		execLog  = rules.NewExecutionLog(cfg.Engine.ExecutionLogSize)
		sink     rules.ExecutionSink = execLog
		registry = prometheus.NewRegistry()
	)

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		app.db = db
		store = rules.NewPostgresRuleStore(db)
		pgExecs = rules.NewPostgresExecutionStore(db)
		sink = rules.MultiSink{execLog, pgExecs}
	} else {
		logger.Warn("DATABASE_URL not set, rules and executions are kept in memory")
		store = rules.NewInMemoryRuleStore()
	}

	executor := rules.NewExecutor()
	logSink := handlers.NewLogSink()
	handlers.RegisterAll(executor, handlers.Deps{
		Webhook:   &handlers.WebhookConfig{Timeout: cfg.Webhook.Timeout, UserAgent: cfg.Webhook.UserAgent},
		Notifier:  logSink,
		Mailer:    logSink,
		Chat:      logSink,
		Delegator: logSink,
		Entities:  logSink,
	})

	engineMetrics := metrics.New(cfg.Metrics, registry)

	opts := []rules.Option{
		rules.WithQueueSize(cfg.Engine.QueueSize),
		rules.WithReentryWait(cfg.Engine.ReentryWait),
		rules.WithExecutionSink(sink),
		rules.WithObserver(engineMetrics),
		rules.WithCacheConfig(rules.CacheConfig{TTL: cfg.Engine.RulesCacheTTL}),
	}

	engine, err := rules.NewEngine(store, executor, opts...)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	app.engine = engine

	if cfg.Engine.RulesFile != "" {
		seed, err := rules.LoadRulesFile(cfg.Engine.RulesFile)
		if err != nil {
			app.Close()
			return nil, err
		}
		created, err := engine.Seed(seed)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to seed rules (%d created): %w", len(created), err)
		}
		logger.Info("Seeded rules", "file", cfg.Engine.RulesFile, "count", len(created))
	}

	app.workspaces = workspaceengine.NewManager(store, executor, opts...)
	if app.db != nil {
		if err := app.workspaces.LoadWorkspaces(ctx, app.db); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to load workspaces: %w", err)
		}
		logger.Info("Loaded workspaces", "workspaces", app.workspaces.Workspaces())
	}

	var m *metrics.EngineMetrics
	if cfg.Metrics.Enabled {
		m = engineMetrics
	}
	app.server = NewServer(ServerDeps{
		DB:             app.db,
		Engine:         engine,
		Workspaces:     app.workspaces,
		Executions:     execLog,
		ExecutionStore: pgExecs,
		Metrics:        m,
	})
	return app, nil
}

// Run serves HTTP and drains the event queues until ctx is cancelled, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		// Cancellation is not passed to the loop so Close can drain the queue
		if err := a.engine.Run(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Engine stopped", "error", err)
		}
	}()
	a.workspaces.Start(context.WithoutCancel(ctx))

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:      a.server,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", a.cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	a.engine.Close()
	a.workspaces.Close()
	loops.Wait()
	a.Close()

	logger.Info("Server stopped")
	return runErr
}

// Close releases the database connection
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func main() {
	configPath := flag.String("config", os.Getenv("AUTOMATIONS_CONFIG"), "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	level, _ := logger.ParseLevel(cfg.Logging.Level)
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("Server failed", "error", err)
	}

	if err := logger.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
}
