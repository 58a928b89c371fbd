package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/config"
	"github.com/dunamismax/bitwear/internal/telemetry"
	"github.com/dunamismax/bitwear/internal/webhook"
	"github.com/dunamismax/bitwear/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Env, "bitwear-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "bitwear-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
		Environment:  cfg.Env,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Tracking.SigningSecret,
		Timeout:        cfg.Tracking.Timeout,
		MaxAttempts:    cfg.Tracking.MaxAttempts,
		InitialBackoff: cfg.Tracking.InitialBackoff,
		MaxBackoff:     cfg.Tracking.MaxBackoff,
		PreferIPv4:     cfg.Providers.PreferIPv4,
		Logger:         logger.With().Str("component", "webhook").Logger(),
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Tracking, webhookClient)
	if err != nil {
		return fmt.Errorf("worker setup: %w", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("worker metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Bool("tracking_configured", cfg.Tracking.WebhookURL != "").
		Msg("starting worker")

	// Run blocks until SIGINT or SIGTERM.
	runErr := srv.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown failed")
	}
	return runErr
}
