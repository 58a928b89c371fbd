package queue

import (
	"testing"
	"time"
)

func TestTrackOrderTask(t *testing.T) {
	payload := TrackOrderPayload{
		OrderID:          "ORD-1700000000000-ABCDEFGHI",
		OrderDate:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CustomerName:     "Ayşe Yılmaz",
		ProductType:      "tshirt",
		TotalPrice:       1500,
		PixelArtURL:      "https://cdn.example.com/art.png",
		ShopifyProductID: 42,
	}

	task, err := NewTrackOrderTask(payload)
	if err != nil {
		t.Fatalf("NewTrackOrderTask returned error: %v", err)
	}
	if task.Type() != TypeTrackOrder {
		t.Fatalf("unexpected task type %q", task.Type())
	}

	parsed, err := ParseTrackOrderPayload(task)
	if err != nil {
		t.Fatalf("ParseTrackOrderPayload returned error: %v", err)
	}
	if parsed.OrderID != payload.OrderID || parsed.ShopifyProductID != 42 || !parsed.OrderDate.Equal(payload.OrderDate) {
		t.Fatalf("unexpected payload %+v", parsed)
	}
}

func TestTrackOrderTaskRequiresOrderID(t *testing.T) {
	if _, err := NewTrackOrderTask(TrackOrderPayload{CustomerName: "x"}); err == nil {
		t.Fatal("expected missing order id to fail")
	}
}
