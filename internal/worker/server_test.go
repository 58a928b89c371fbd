package worker

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/queue"
	"github.com/dunamismax/bitwear/internal/webhook"
)

type captureSender struct {
	endpoint string
	event    string
	payload  any
	err      error
}

func (c *captureSender) Send(_ context.Context, endpoint, event string, payload any) error {
	c.endpoint = endpoint
	c.event = event
	c.payload = payload
	return c.err
}

func trackTask(t *testing.T, payload queue.TrackOrderPayload) *asynq.Task {
	t.Helper()
	task, err := queue.NewTrackOrderTask(payload)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestTrackOrderDeliversToConfiguredEndpoint(t *testing.T) {
	sender := &captureSender{}
	s := newServer(zerolog.Nop(), sender, "https://hooks.example.com/orders")

	err := s.handleTrackOrder(context.Background(), trackTask(t, queue.TrackOrderPayload{
		OrderID:     "ORD-1",
		ProductType: "tshirt",
		PixelArtURL: "https://cdn.example.com/art.png",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.endpoint != "https://hooks.example.com/orders" || sender.event != webhook.EventOrderCreated {
		t.Fatalf("unexpected delivery %s %s", sender.endpoint, sender.event)
	}
	body, ok := sender.payload.(queue.TrackOrderPayload)
	if !ok || body.OrderID != "ORD-1" || body.PixelArtURL == "" {
		t.Fatalf("unexpected payload %+v", sender.payload)
	}
}

func TestTrackOrderPayloadEndpointWins(t *testing.T) {
	sender := &captureSender{}
	s := newServer(zerolog.Nop(), sender, "https://hooks.example.com/orders")

	if err := s.handleTrackOrder(context.Background(), trackTask(t, queue.TrackOrderPayload{
		OrderID:    "ORD-2",
		WebhookURL: "https://override.example.com/hook",
	})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.endpoint != "https://override.example.com/hook" {
		t.Fatalf("unexpected endpoint %s", sender.endpoint)
	}
	if body := sender.payload.(queue.TrackOrderPayload); body.WebhookURL != "" {
		t.Fatal("expected the endpoint override to be stripped from the body")
	}
}

func TestTrackOrderSkipsWithoutEndpoint(t *testing.T) {
	sender := &captureSender{}
	s := newServer(zerolog.Nop(), sender, "")

	if err := s.handleTrackOrder(context.Background(), trackTask(t, queue.TrackOrderPayload{OrderID: "ORD-3"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.endpoint != "" {
		t.Fatal("expected no delivery")
	}
}

func TestTrackOrderFailuresAreRetried(t *testing.T) {
	sender := &captureSender{err: errors.New("webhook returned status=502")}
	s := newServer(zerolog.Nop(), sender, "https://hooks.example.com/orders")

	err := s.handleTrackOrder(context.Background(), trackTask(t, queue.TrackOrderPayload{OrderID: "ORD-4"}))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected a retryable error, got %v", err)
	}

	err = s.handleTrackOrder(context.Background(), asynq.NewTask(queue.TypeTrackOrder, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip retry for a malformed payload, got %v", err)
	}

	rec := httptest.NewRecorder()
	s.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `bitwear_worker_tracking_deliveries_total{outcome="failed"} 1`) {
		t.Fatalf("expected failed delivery metric, got:\n%s", body)
	}
}
