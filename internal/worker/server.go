// Package worker consumes order-tracking tasks from asynq and delivers them
// to the tracking webhook.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/bitwear/internal/config"
	"github.com/dunamismax/bitwear/internal/queue"
	"github.com/dunamismax/bitwear/internal/webhook"
)

type Server struct {
	logger   zerolog.Logger
	server   *asynq.Server
	webhook  webhookSender
	endpoint string
	metrics  *metrics
	tracer   trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	trackingCfg config.TrackingConfig,
	webhookClient *webhook.Client,
) (*Server, error) {
	if webhookClient == nil {
		return nil, errors.New("webhook client is required")
	}

	s := newServer(logger, webhookClient, trackingCfg.WebhookURL)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
				return min(time.Duration(1<<min(n, 10))*time.Second, 10*time.Minute)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn().
					Err(err).
					Str("type", task.Type()).
					Int("retry", retried).
					Int("max_retry", maxRetry).
					Msg("task failed")
			}),
		},
	)
	return s, nil
}

func newServer(logger zerolog.Logger, sender webhookSender, endpoint string) *Server {
	return &Server{
		logger:   logger,
		webhook:  sender,
		endpoint: strings.TrimSpace(endpoint),
		metrics:  newMetrics(),
		tracer:   otel.Tracer("bitwear/worker"),
	}
}

func (s *Server) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTrackOrder, s.handleTrackOrder)
	return mux
}

func (s *Server) Run() error {
	return s.server.Run(s.Mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTrackOrder(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "failed"

	payload, err := queue.ParseTrackOrderPayload(task)
	if err != nil {
		s.metrics.deliveriesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.track_order", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("order.id", payload.OrderID),
		attribute.String("order.product_type", payload.ProductType),
		attribute.Int64("order.commerce_product_id", payload.ShopifyProductID),
	)
	defer span.End()
	defer func() {
		s.metrics.deliveryDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.deliveriesTotal.WithLabelValues(outcome).Inc()
	}()

	endpoint := payload.WebhookURL
	if endpoint == "" {
		endpoint = s.endpoint
	}
	if endpoint == "" {
		outcome = "skipped"
		s.logger.Info().Str("order_id", payload.OrderID).Msg("tracking webhook not configured; skipping")
		return nil
	}

	body := payload
	body.WebhookURL = ""
	if err := s.webhook.Send(ctx, endpoint, webhook.EventOrderCreated, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tracking delivery failed")
		s.logger.Warn().Err(err).Str("order_id", payload.OrderID).Msg("tracking delivery failed")
		return fmt.Errorf("deliver tracking: %w", err)
	}

	outcome = "delivered"
	span.SetStatus(codes.Ok, "delivered")
	s.logger.Info().Str("order_id", payload.OrderID).Dur("duration", time.Since(startedAt)).Msg("order tracked")
	return nil
}
