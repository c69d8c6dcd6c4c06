package main

import (
	"context"
	"errors"
	"os"
	"time"

	"payinsights/internal/amqp"
	"payinsights/internal/cli"
	applog "payinsights/internal/log"
	"payinsights/internal/manifest"
	"payinsights/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	bootLogger := applog.New(applog.DefaultConfig())
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg, os.Stdout, applog.ComponentWorker)

	logger.Info("Starting payinsights-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the report worker")
		os.Exit(1)
	}

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

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRequestQueue, cfg.AMQPResultKey, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	reportWorker := worker.NewReportWorker(src.Backend, m, amqpClient, cfg.RenderConcurrency, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Requests arriving before a successful load trigger a lazy load.
	if err := reportWorker.Load(ctx); err != nil {
		logger.Error("Initial dataset load failed", applog.FieldError, err)
	}

	go reportWorker.RunReloader(ctx, cfg.ReloadInterval)

	if err := amqpClient.ConsumeReportRequests(ctx, reportWorker.HandleReportRequest); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", applog.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
