package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/bitwear/internal/api"
	"github.com/dunamismax/bitwear/internal/commerce"
	"github.com/dunamismax/bitwear/internal/config"
	"github.com/dunamismax/bitwear/internal/httpclient"
	"github.com/dunamismax/bitwear/internal/mockup"
	"github.com/dunamismax/bitwear/internal/order"
	"github.com/dunamismax/bitwear/internal/orchestrator"
	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/provider"
	"github.com/dunamismax/bitwear/internal/queue"
	"github.com/dunamismax/bitwear/internal/ratelimit"
	"github.com/dunamismax/bitwear/internal/session"
	"github.com/dunamismax/bitwear/internal/storage"
	"github.com/dunamismax/bitwear/internal/store"
	"github.com/dunamismax/bitwear/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Env, "bitwear-api")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "bitwear-api",
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	transformer, err := pipeline.NewTransformer()
	if err != nil {
		return err
	}
	defer pipeline.Shutdown()

	var (
		objectStore *storage.Client
		emitter     pipeline.Emitter = pipeline.LocalFileEmitter{OutputDir: cfg.API.ArtifactDir}
	)
	if cfg.Storage.Enabled {
		objectStore, err = storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return err
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		emitter = pipeline.ObjectStoreEmitter{Storage: objectStore}
		logger.Info().Str("bucket", objectStore.Bucket()).Msg("object storage ready")
	}

	processor, err := pipeline.NewProcessor(nil, emitter)
	if err != nil {
		return err
	}
	providerClient := httpclient.New(httpclient.Options{
		Timeout:    cfg.Providers.HTTPTimeout,
		PreferIPv4: cfg.Providers.PreferIPv4,
	})
	registry, err := provider.FromConfig(cfg, processor, providerClient, logger)
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}

	prompts, err := provider.DefaultPromptSet()
	if cfg.Providers.PromptsFile != "" {
		prompts, err = provider.LoadPromptSet(cfg.Providers.PromptsFile)
	}
	if err != nil {
		return fmt.Errorf("prompts: %w", err)
	}

	catalog, err := mockup.DefaultCatalog()
	if cfg.Catalog.File != "" {
		catalog, err = mockup.LoadCatalog(cfg.Catalog.File)
	}
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	compositor, err := mockup.NewCompositor(catalog, transformer, logger.With().Str("component", "mockup").Logger())
	if err != nil {
		return err
	}

	var attempts store.AttemptStore = store.NewMemoryAttemptStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresAttemptStore(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("attempt store: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("attempt schema: %w", err)
		}
		attempts = pg
	}

	metrics := api.NewMetrics()
	recorder := store.NewRecorder(attempts, logger.With().Str("component", "attempts").Logger())
	convLogger := logger.With().Str("component", "orchestrator").Logger()

	sessions, err := session.NewStore(session.Options{
		TTL: cfg.Sessions.TTL,
		NewOrchestrator: func(sessionID string) (*orchestrator.Orchestrator, error) {
			return orchestrator.New(orchestrator.Options{
				Providers:      registry,
				Preprocessor:   processor,
				Prompts:        prompts,
				Rand:           promptSource(cfg.Conversion.Seed, sessionID),
				DefaultMode:    cfg.Conversion.Mode,
				Attempts:       cfg.Conversion.Attempts,
				AttemptTimeout: cfg.Conversion.AttemptTimeout,
				PollInterval:   cfg.Conversion.PollInterval,
				MaxPolls:       cfg.Conversion.MaxPolls,
				Logger:         convLogger.With().Str("session_id", sessionID).Logger(),
				Observers:      []orchestrator.Observer{metrics.ObserveAttempt, recorder.Observer(sessionID)},
			})
		},
		DefaultSelection: catalog.DefaultSelection(),
		Logger:           logger.With().Str("component", "sessions").Logger(),
	})
	if err != nil {
		return err
	}
	go sessions.Run(ctx, cfg.Sessions.SweepInterval)

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close failed")
		}
	}()

	commerceClient := commerce.New(commerce.Options{
		StoreURL:    cfg.Commerce.StoreURL,
		AccessToken: cfg.Commerce.AccessToken,
		APIVersion:  cfg.Commerce.APIVersion,
		Vendor:      cfg.Commerce.Vendor,
		HTTPClient:  httpclient.New(httpclient.Options{PreferIPv4: cfg.Providers.PreferIPv4, Timeout: 60 * time.Second}),
		Logger:      logger.With().Str("component", "commerce").Logger(),
	})
	if !commerceClient.Configured() {
		logger.Warn().Msg("commerce store not configured; orders will fail until SHOPIFY_STORE_URL and SHOPIFY_ADMIN_API_TOKEN are set")
	}
	orderOpts := order.Options{
		Catalog:  catalog,
		Commerce: commerceClient,
		Mockups:  compositor,
		Tracker:  queueClient,
		Logger:   logger.With().Str("component", "order").Logger(),
	}
	if objectStore != nil {
		orderOpts.ArtifactURL = func(ctx context.Context, ref string) (string, error) {
			return objectStore.PresignedGetURL(ctx, ref, cfg.Storage.URLTTL)
		}
	}
	orders, err := order.NewService(orderOpts)
	if err != nil {
		return err
	}

	var limiter ratelimit.Limiter
	switch {
	case !cfg.RateLimit.Enabled:
	case cfg.RateLimit.Backend == "local":
		limiter, err = ratelimit.NewLocalTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.Window)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	default:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()
		limiter, err = ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, ratelimit.DefaultKeyPrefix)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	apiOpts := api.Options{
		Logger:                logger.With().Str("component", "api").Logger(),
		Sessions:              sessions,
		Compositor:            compositor,
		Transformer:           transformer,
		Emitter:               emitter,
		Orders:                orders,
		Attempts:              attempts,
		Modes:                 registeredModes(registry),
		RateLimiter:           limiter,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
		MaxUploadBytes:        cfg.API.MaxUploadBytes,
		PresignTTL:            cfg.API.PresignTTL,
		Metrics:               metrics,
		Tracer:                otel.Tracer("bitwear/api"),
	}
	if objectStore != nil {
		apiOpts.Storage = objectStore
	}
	app, err := api.NewServer(apiOpts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// ?wait=1 holds the response for a whole attempt.
		WriteTimeout: cfg.Conversion.AttemptTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Str("mode", cfg.Conversion.Mode).
			Bool("storage", cfg.Storage.Enabled).
			Bool("rate_limit", cfg.RateLimit.Enabled).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// registeredModes lists the modes whose provider is registered.
func registeredModes(registry *provider.Registry) []string {
	modes := orchestrator.DefaultModes()
	var names []string
	for _, name := range orchestrator.ModeNames(modes) {
		if _, err := registry.Get(modes[name].ProviderID); err == nil {
			names = append(names, name)
		}
	}
	return names
}

// promptSource gives each session its own variant stream. A zero seed leaves
// the orchestrator on an unseeded source; a fixed seed makes a session's
// sequence reproducible from its id.
func promptSource(seed int64, sessionID string) provider.Rand {
	if seed == 0 {
		return nil
	}
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	return rand.New(rand.NewPCG(uint64(seed), h.Sum64()))
}
