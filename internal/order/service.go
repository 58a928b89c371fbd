// Package order turns an approved artifact and a product selection into a
// storefront product, then hands the order to tracking.
package order

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/bitwear/internal/commerce"
	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/id"
	"github.com/dunamismax/bitwear/internal/mockup"
	"github.com/dunamismax/bitwear/internal/queue"
)

var ErrNoArtifact = errors.New("no approved pixel art")

// ValidationError lists the customer fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid order fields: " + strings.Join(e.Fields, ", ")
}

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (c Customer) Validate() error {
	var bad []string
	if strings.TrimSpace(c.Name) == "" {
		bad = append(bad, "name")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(c.Email)); err != nil {
		bad = append(bad, "email")
	}
	if strings.TrimSpace(c.Phone) == "" {
		bad = append(bad, "phone")
	}
	if strings.TrimSpace(c.Address) == "" {
		bad = append(bad, "address")
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad}
	}
	return nil
}

// Order is transient: it is handed to the storefront and tracking and never
// stored here.
type Order struct {
	ID        string           `json:"id"`
	Date      time.Time        `json:"date"`
	Customer  Customer         `json:"customer"`
	Selection mockup.Selection `json:"selection"`
	Price     int              `json:"price"`
	PriceText string           `json:"price_text"`
}

type TrackingState string

const (
	TrackingQueued   TrackingState = "queued"
	TrackingDisabled TrackingState = "disabled"
	TrackingFailed   TrackingState = "failed"
)

type Result struct {
	Order          Order         `json:"order"`
	ProductID      int64         `json:"product_id"`
	ProductURL     string        `json:"product_url"`
	PixelArtURL    string        `json:"pixel_art_url"`
	Mockups        int           `json:"mockups"`
	MockupFailures int           `json:"mockup_failures,omitempty"`
	Tracking       TrackingState `json:"tracking"`
}

type Commerce interface {
	CreateProduct(ctx context.Context, in commerce.ProductInput) (commerce.Product, error)
	UploadProductImage(ctx context.Context, productID int64, img domain.EncodedImage, filename string) (commerce.Image, error)
	ProductURL(p commerce.Product) string
}

type Mockups interface {
	CompositeAll(ctx context.Context, art domain.EncodedImage, sel mockup.Selection, format string) ([]mockup.Rendered, error)
}

type Tracker interface {
	EnqueueTrackOrder(ctx context.Context, payload queue.TrackOrderPayload) (*asynq.TaskInfo, error)
}

// ArtifactURL resolves a persisted artifact reference to a fetchable URL.
type ArtifactURL func(ctx context.Context, ref string) (string, error)

type Options struct {
	Catalog     *mockup.Catalog
	Commerce    Commerce
	Mockups     Mockups
	Tracker     Tracker
	ArtifactURL ArtifactURL
	Now         func() time.Time
	Logger      zerolog.Logger
}

type Service struct {
	opts   Options
	tracer trace.Tracer
}

func NewService(opts Options) (*Service, error) {
	if opts.Catalog == nil {
		return nil, errors.New("order service requires a catalog")
	}
	if opts.Commerce == nil {
		return nil, errors.New("order service requires a commerce client")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{opts: opts, tracer: otel.Tracer("bitwear/order")}, nil
}

// Submit creates the product with the artifact and its mockups attached and
// queues the tracking hand-off. Only the storefront calls decide success;
// tracking failures are logged and reported in Result.Tracking.
func (s *Service) Submit(ctx context.Context, art domain.Artifact, artifactRef string, customer Customer, sel mockup.Selection) (Result, error) {
	if art.Empty() {
		return Result{}, ErrNoArtifact
	}
	if err := customer.Validate(); err != nil {
		return Result{}, err
	}
	if err := s.opts.Catalog.Validate(sel); err != nil {
		return Result{}, err
	}
	price, err := s.opts.Catalog.Price(sel.Product)
	if err != nil {
		return Result{}, err
	}

	now := s.opts.Now().UTC()
	ord := Order{
		ID:        id.OrderID(now),
		Date:      now,
		Customer:  customer,
		Selection: sel,
		Price:     price,
		PriceText: domain.FormatPrice(price),
	}

	ctx, span := s.tracer.Start(ctx, "order.submit", trace.WithAttributes(
		attribute.String("order.id", ord.ID),
		attribute.String("order.product", sel.Product),
		attribute.String("order.position", sel.Position),
	))
	defer span.End()

	res, err := s.publish(ctx, ord, art, artifactRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commerce failed")
		s.opts.Logger.Error().Err(err).Str("order_id", ord.ID).Msg("order submission failed")
		return Result{}, err
	}

	res.Tracking = s.track(ctx, res)
	s.opts.Logger.Info().
		Str("order_id", ord.ID).
		Int64("product_id", res.ProductID).
		Int("mockups", res.Mockups).
		Str("tracking", string(res.Tracking)).
		Msg("order submitted")
	return res, nil
}

func (s *Service) publish(ctx context.Context, ord Order, art domain.Artifact, artifactRef string) (Result, error) {
	sel := ord.Selection
	product, err := s.opts.Commerce.CreateProduct(ctx, commerce.ProductInput{
		Title:       fmt.Sprintf("Custom %s - %s", sel.Product, ord.ID),
		ProductType: sel.Product,
		Color:       sel.Color,
		Size:        sel.Size,
		Position:    sel.Position,
		Price:       ord.Price,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Order: ord, ProductID: product.ID, ProductURL: s.opts.Commerce.ProductURL(product)}

	artImage, err := s.opts.Commerce.UploadProductImage(ctx, product.ID, art.EncodedImage, "pixel-art-"+ord.ID+extension(art.MimeType))
	if err != nil {
		return Result{}, err
	}
	res.PixelArtURL = artImage.Src
	if res.PixelArtURL == "" && artifactRef != "" && s.opts.ArtifactURL != nil {
		if u, err := s.opts.ArtifactURL(ctx, artifactRef); err != nil {
			s.opts.Logger.Warn().Err(err).Str("order_id", ord.ID).Msg("artifact url lookup failed")
		} else {
			res.PixelArtURL = u
		}
	}

	if s.opts.Mockups == nil {
		return res, nil
	}
	rendered, err := s.opts.Mockups.CompositeAll(ctx, art.EncodedImage, sel, "png")
	if err != nil {
		s.opts.Logger.Warn().Err(err).Str("order_id", ord.ID).Msg("mockup rendering failed")
		return res, nil
	}
	for _, m := range rendered {
		name := fmt.Sprintf("mockup-%s-%s-%s.png", ord.ID, m.Product, m.Position)
		if _, err := s.opts.Commerce.UploadProductImage(ctx, product.ID, m.EncodedImage, name); err != nil {
			res.MockupFailures++
			s.opts.Logger.Warn().Err(err).Str("order_id", ord.ID).Str("position", m.Position).Msg("mockup upload failed")
			continue
		}
		res.Mockups++
	}
	return res, nil
}

func (s *Service) track(ctx context.Context, res Result) TrackingState {
	if s.opts.Tracker == nil {
		return TrackingDisabled
	}
	ord := res.Order
	_, err := s.opts.Tracker.EnqueueTrackOrder(ctx, queue.TrackOrderPayload{
		OrderID:           ord.ID,
		OrderDate:         ord.Date,
		CustomerName:      ord.Customer.Name,
		CustomerEmail:     ord.Customer.Email,
		CustomerPhone:     ord.Customer.Phone,
		CustomerAddress:   ord.Customer.Address,
		ProductType:       ord.Selection.Product,
		ProductColor:      ord.Selection.Color,
		ProductSize:       ord.Selection.Size,
		ProductPosition:   ord.Selection.Position,
		TotalPrice:        ord.Price,
		PixelArtURL:       res.PixelArtURL,
		ShopifyProductID:  res.ProductID,
		ShopifyProductURL: res.ProductURL,
	})
	switch {
	case errors.Is(err, queue.ErrAlreadyQueued):
		s.opts.Logger.Info().Str("order_id", ord.ID).Msg("tracking already queued")
	case err != nil:
		s.opts.Logger.Warn().Err(err).Str("order_id", ord.ID).Msg("tracking enqueue failed")
		return TrackingFailed
	}
	return TrackingQueued
}

func extension(mime string) string {
	switch mime {
	case domain.MimeJPEG:
		return ".jpg"
	case domain.MimeWebP:
		return ".webp"
	default:
		return ".png"
	}
}
