package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypeTrackOrder = "order:track"

// TrackOrderPayload is the order record delivered to the tracking webhook.
// Field names follow the tracking sheet's column keys.
type TrackOrderPayload struct {
	OrderID           string    `json:"orderId"`
	OrderDate         time.Time `json:"orderDate"`
	CustomerName      string    `json:"customerName"`
	CustomerEmail     string    `json:"customerEmail"`
	CustomerPhone     string    `json:"customerPhone"`
	CustomerAddress   string    `json:"customerAddress"`
	ProductType       string    `json:"productType"`
	ProductColor      string    `json:"productColor"`
	ProductSize       string    `json:"productSize"`
	ProductPosition   string    `json:"productPosition"`
	TotalPrice        int       `json:"totalPrice"`
	PixelArtURL       string    `json:"pixelArtUrl"`
	ShopifyProductID  int64     `json:"shopifyProductId"`
	ShopifyProductURL string    `json:"shopifyProductUrl"`
	// WebhookURL overrides the worker's configured endpoint.
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (p TrackOrderPayload) Validate() error {
	if strings.TrimSpace(p.OrderID) == "" {
		return errors.New("order id is required")
	}
	return nil
}

func NewTrackOrderTask(payload TrackOrderPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal track payload: %w", err)
	}
	return asynq.NewTask(TypeTrackOrder, body), nil
}

func ParseTrackOrderPayload(task *asynq.Task) (TrackOrderPayload, error) {
	var payload TrackOrderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TrackOrderPayload{}, fmt.Errorf("unmarshal track payload: %w", err)
	}
	return payload, nil
}
