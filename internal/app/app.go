package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"tracelayer/internal/config"
	"tracelayer/internal/db"
	"tracelayer/internal/engine"
	"tracelayer/internal/llm"
	"tracelayer/internal/migrate"
	"tracelayer/internal/server"
	"tracelayer/internal/telemetry"
)

// Options controls how a workspace is opened.
type Options struct {
	Workspace  string
	ConfigPath string
	Logger     *slog.Logger
	// Telemetry builds the Prometheus-backed meter provider.
	Telemetry bool
	// RecoverRuns marks runs left active by a previous process as failed.
	RecoverRuns bool
}

// App is an opened workspace: database, config and the engine built on them.
type App struct {
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Telemetry *telemetry.Provider
	Logger    *slog.Logger
}

// LoadConfig resolves configuration: an explicit path wins, then the workspace
// tracelayer.yml, then built-in defaults.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open opens the workspace database, applies migrations and wires the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("database ready", "db", db.Path(opts.Workspace), "schema_version", version)

	a := &App{DB: conn, Config: cfg, Logger: logger}
	e := engine.New(conn, cfg)
	e.Logger = logger
	if opts.Telemetry {
		tp, err := telemetry.NewProvider(ctx, "tracelayer")
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		metrics, err := telemetry.NewMetrics(tp.Meter())
		if err != nil {
			_ = tp.Shutdown(ctx)
			conn.Close()
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.Telemetry = tp
		e.Metrics = metrics
		e.Hub.Metrics = metrics
		e.LLM = llm.NewFactory(cfg.Pipeline.Providers, cfg.RequestTimeout(), metrics)
	}
	a.Engine = e

	if opts.RecoverRuns {
		n, err := e.RecoverOrphanedRuns(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("recover runs: %w", err)
		}
		if n > 0 {
			logger.Warn("marked interrupted runs as failed", "count", n)
		}
	}
	return a, nil
}

// Handler builds the HTTP API for the opened workspace.
func (a *App) Handler(auth server.AuthConfig) (http.Handler, error) {
	var metrics http.Handler
	if a.Telemetry != nil {
		metrics = a.Telemetry.Handler
	}
	return server.New(server.Config{
		Engine:   a.Engine,
		BasePath: a.Config.Server.BasePath,
		Auth:     auth,
		Metrics:  metrics,
		Logger:   a.Logger,
	})
}

// Close cancels active runs, flushes metrics and closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown runs: %w", err))
	}
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
