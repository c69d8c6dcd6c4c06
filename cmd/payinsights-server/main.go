package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"payinsights/internal/cli"
	"payinsights/internal/config"
	apphttp "payinsights/internal/http"
	applog "payinsights/internal/log"
	"payinsights/internal/manifest"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootLogger := applog.New(applog.DefaultConfig())
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg, os.Stdout, applog.ComponentApp)

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		logger.Error("Failed to load report manifest", applog.FieldError, err, "path", cfg.ManifestPath)
		os.Exit(1)
	}

	src, err := cli.OpenSource(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize dataset backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if src.Cleanup != nil {
		defer src.Cleanup()
	}

	var imports apphttp.ImportHistory
	if src.Repository != nil {
		imports = src.Repository
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		Source:             src.Backend,
		Manifest:           m,
		CacheSize:          cfg.CacheSize,
		CacheTTL:           cfg.CacheTTL,
		RenderConcurrency:  cfg.RenderConcurrency,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Imports:            imports,
		Logger:             logger,
	})

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// A failed initial load leaves the server up but not ready; POST
	// /api/reload retries.
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if _, err := srv.Reload(loadCtx); err != nil {
		logger.Error("Initial dataset load failed", applog.FieldError, err, "backend", cfg.DataBackend)
	}
	loadCancel()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
	})

	go reloadPeriodically(ctx, srv, cfg, logger)

	logger.Info("Starting payinsights server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"views", len(m.Views))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

func reloadPeriodically(ctx context.Context, srv *apphttp.Server, cfg *config.Config, logger *applog.Logger) {
	if cfg.ReloadInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := srv.Reload(ctx); err != nil {
				logger.Error("Periodic reload failed", applog.FieldOperation, applog.OpReload, applog.FieldError, err)
			}
		}
	}
}
