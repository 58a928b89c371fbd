// Package api exposes the conversion wizard over HTTP: sessions, uploads,
// conversion attempts, garment customization and order submission.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/mockup"
	"github.com/dunamismax/bitwear/internal/order"
	"github.com/dunamismax/bitwear/internal/orchestrator"
	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/ratelimit"
	"github.com/dunamismax/bitwear/internal/session"
	"github.com/dunamismax/bitwear/internal/storage"
	"github.com/dunamismax/bitwear/internal/store"
)

var errStorageUnavailable = errors.New("object storage is unavailable")

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	Stat(ctx context.Context, objectKey string) (storage.ObjectInfo, bool, error)
	ReadObjectLimited(ctx context.Context, objectKey string, limit int64) ([]byte, error)
	RemoveObject(ctx context.Context, objectKey string) error
}

type orderSubmitter interface {
	Submit(ctx context.Context, art domain.Artifact, artifactRef string, customer order.Customer, sel mockup.Selection) (order.Result, error)
}

type Options struct {
	Logger     zerolog.Logger
	Sessions   *session.Store
	Compositor *mockup.Compositor
	// Transformer validates uploads. Defaults to pipeline.NewTransformer.
	Transformer pipeline.Transformer
	// Emitter persists approved artifacts. Nil keeps them in memory only.
	Emitter  pipeline.Emitter
	Storage  objectStorage
	Orders   orderSubmitter
	Attempts store.AttemptStore
	Modes    []string

	RateLimiter           ratelimit.Limiter
	RateLimitUserIDHeader string
	MaxUploadBytes        int64
	PresignTTL            time.Duration
	Metrics               *Metrics
	Tracer                trace.Tracer
}

type Server struct {
	logger      zerolog.Logger
	sessions    *session.Store
	compositor  *mockup.Compositor
	catalog     *mockup.Catalog
	transformer pipeline.Transformer
	emitter     pipeline.Emitter
	storage     objectStorage
	orders      orderSubmitter
	attempts    store.AttemptStore
	modes       []string

	rateLimiter           ratelimit.Limiter
	rateLimitUserIDHeader string
	maxUploadBytes        int64
	presignTTL            time.Duration
	metrics               *Metrics
	tracer                trace.Tracer
	router                chi.Router
}

func NewServer(opts Options) (*Server, error) {
	if opts.Sessions == nil {
		return nil, errors.New("api server requires a session store")
	}
	if opts.Compositor == nil {
		return nil, errors.New("api server requires a mockup compositor")
	}
	if opts.Transformer == nil {
		t, err := pipeline.NewTransformer()
		if err != nil {
			return nil, err
		}
		opts.Transformer = t
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = pipeline.MaxSourceBytes
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if len(opts.Modes) == 0 {
		opts.Modes = orchestrator.ModeNames(orchestrator.DefaultModes())
	}

	s := &Server{
		logger:                opts.Logger,
		sessions:              opts.Sessions,
		compositor:            opts.Compositor,
		catalog:               opts.Compositor.Catalog(),
		transformer:           opts.Transformer,
		emitter:               opts.Emitter,
		storage:               opts.Storage,
		orders:                opts.Orders,
		attempts:              opts.Attempts,
		modes:                 opts.Modes,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		maxUploadBytes:        opts.MaxUploadBytes,
		presignTTL:            opts.PresignTTL,
		metrics:               opts.Metrics,
		tracer:                opts.Tracer,
		router:                chi.NewRouter(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.metrics.withHTTPMetrics, s.withTracing, s.withRequestLog)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/v1/catalog", s.handleCatalog)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Route("/v1/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Get("/attempts", s.handleListAttempts)

		r.Put("/source", s.handlePutSource)
		r.Delete("/source", s.handleDeleteSource)
		r.Post("/source/presign", s.handlePresignSource)
		r.Post("/source/commit", s.handleCommitSource)

		limited := r.With(s.withRateLimit)
		limited.Post("/convert", s.handleConvert)
		limited.Post("/regenerate", s.handleRegenerate)
		limited.Post("/retry", s.handleRetry)
		r.Post("/approve", s.handleApprove)

		r.Put("/artifact", s.handlePutArtifact)
		r.Get("/candidate", s.handleGetCandidate)
		r.Get("/artifact", s.handleGetArtifact)

		r.Put("/selection", s.handlePutSelection)
		r.Get("/placement", s.handlePlacement)
		r.Get("/preview", s.handlePreview)
		limited.Post("/order", s.handleOrder)
	})
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		event := s.logger.Debug()
		if recorder.status >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", routeLabel(r)).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type catalogPosition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type catalogProduct struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Price     int               `json:"price"`
	PriceText string            `json:"price_text"`
	Positions []catalogPosition `json:"positions"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	products := make([]catalogProduct, 0, len(s.catalog.Products))
	for _, p := range s.catalog.Products {
		item := catalogProduct{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price,
			PriceText: domain.FormatPrice(p.Price),
			Positions: make([]catalogPosition, 0, len(p.Positions)),
		}
		for _, pos := range p.Positions {
			item.Positions = append(item.Positions, catalogPosition{ID: pos.ID, Name: pos.Name, Icon: pos.Icon})
		}
		products = append(products, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"colors":   s.catalog.Colors,
		"sizes":    s.catalog.Sizes,
		"canvas":   s.catalog.Canvas,
		"defaults": s.catalog.DefaultSelection(),
		"modes":    s.modes,
	})
}

// session resolves the {sessionID} path parameter, writing 404 when the
// session is unknown or expired.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return nil, false
	}
	return sess, true
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

// decodeOptionalJSON treats an empty body as the zero value.
func decodeOptionalJSON(r *http.Request, into any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, into)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeImage(w http.ResponseWriter, img domain.EncodedImage) {
	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

type errorBody struct {
	Error     string           `json:"error"`
	Kind      domain.ErrorKind `json:"kind,omitempty"`
	Recovery  domain.Recovery  `json:"recovery,omitempty"`
	Retryable bool             `json:"retryable"`
	Fields    []string         `json:"fields,omitempty"`
}

// writeError maps the package sentinels and the domain taxonomy onto status
// codes and the uniform error body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		de   *domain.Error
		verr *order.ValidationError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Fields: verr.Fields})
	case errors.Is(err, orchestrator.ErrBusy):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Retryable: true})
	case errors.Is(err, orchestrator.ErrNoAttemptsLeft):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Recovery: domain.RecoverySupplyOwn})
	case errors.Is(err, orchestrator.ErrNoSource):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Recovery: domain.RecoveryGoBack})
	case errors.Is(err, orchestrator.ErrNoCandidate), errors.Is(err, order.ErrNoArtifact):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, errStorageUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.As(err, &de):
		msg := de.Message
		if msg == "" {
			msg = de.Kind.UserMessage()
		}
		writeJSON(w, statusForKind(de.Kind), errorBody{
			Error:     msg,
			Kind:      de.Kind,
			Recovery:  de.Kind.Recovery(),
			Retryable: de.Kind.Retryable(),
		})
	default:
		s.logger.Error().Err(err).Msg("unhandled api error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindDecode:
		return http.StatusUnprocessableEntity
	case domain.KindConfiguration:
		return http.StatusBadRequest
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
