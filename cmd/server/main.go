// Package main is the entrypoint for the vegchange API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/vegchange/internal/api"
	"github.com/kiranshivaraju/vegchange/internal/api/handler"
	mw "github.com/kiranshivaraju/vegchange/internal/api/middleware"
	"github.com/kiranshivaraju/vegchange/internal/api/response"
	"github.com/kiranshivaraju/vegchange/internal/cache"
	"github.com/kiranshivaraju/vegchange/internal/config"
	"github.com/kiranshivaraju/vegchange/internal/export"
	"github.com/kiranshivaraju/vegchange/internal/jobs"
	"github.com/kiranshivaraju/vegchange/internal/orchestrator"
	"github.com/kiranshivaraju/vegchange/internal/raster"
	"github.com/kiranshivaraju/vegchange/internal/store"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "raster_engine", cfg.Raster.Engine, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create raster engine
	engine, err := raster.NewEngine(cfg.Raster)
	if err != nil {
		return fmt.Errorf("create raster engine: %w", err)
	}
	slog.Info("raster engine initialized", "engine", engine.Name())

	// 6. Job store, orchestrator and workers
	pgStore := store.NewPostgresStore(pool)
	jobStore := jobs.NewMemoryStore(cfg.Jobs.MaxRetained)
	tracker := export.NewTracker(engine, redisCache, cfg.Export.StatusTTL, slog.Default())

	orch := orchestrator.New(engine, jobStore,
		orchestrator.WithDefaults(analysisDefaults(cfg.Analysis)),
		orchestrator.WithExporter(tracker),
		orchestrator.WithLogger(slog.Default()),
	)

	dispatcher := orchestrator.NewDispatcher(orch, cfg.Jobs.Workers, cfg.Jobs.QueueSize, slog.Default())
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	sweeper, err := jobs.NewSweeper(jobStore, cfg.Jobs.Retention, cfg.Jobs.SweepSchedule, slog.Default())
	if err != nil {
		return fmt.Errorf("create job sweeper: %w", err)
	}
	go sweeper.Run(ctx)

	// 7. Build router with dependencies
	sites := handler.NewSites(pgStore, redisCache)
	analysis := handler.NewAnalysis(orch, dispatcher, sites)
	keys := handler.NewKeys(pgStore)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Redis.RateLimitPerMin),

		HealthHandler: healthHandler(pgStore, redisCache, engine),

		CreateAnalysis: analysis.Create,
		GetAnalysis:    analysis.Get,
		CancelAnalysis: analysis.Cancel,
		ListAnalyses:   analysis.List,

		ListPeriods: handler.Periods,
		ListIndices: handler.Indices,

		CreateSite: sites.Create,
		ListSites:  sites.List,
		GetSite:    sites.Get,

		ExportStatus: handler.NewExportStatusHandler(tracker),

		CreateKeyHandler: keys.Create,
		ListKeysHandler:  keys.List,
		RevokeKeyHandler: keys.Revoke,
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully", "jobs_in_memory", jobStore.Len())
	return nil
}

// analysisDefaults overlays the configured scale and cloud threshold on the
// built-in analysis defaults.
func analysisDefaults(c config.AnalysisConfig) models.AnalysisConfig {
	d := models.DefaultAnalysisConfig()
	if c.ScaleMeters > 0 {
		d.ScaleMeters = c.ScaleMeters
	}
	if c.CloudThreshold > 0 {
		d.CloudThreshold = c.CloudThreshold
	}
	return d
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database, cache and raster engine connectivity.
func healthHandler(s pinger, c pinger, engine raster.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"engine":   "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := engine.Ready(r.Context()); err != nil {
			checks["engine"] = "degraded"
		}

		for _, status := range checks {
			if status != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"engine":   engine.Name(),
			"services": checks,
		})
	}
}
