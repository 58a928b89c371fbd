package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalTokenBucket(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l, err := NewLocalTokenBucket(2, time.Minute)
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "session-1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v %v", i, d, err)
		}
	}

	d, _ := l.Allow(ctx, "session-1")
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > 30*time.Second {
		t.Fatalf("expected rejection with retry-after, got %+v", d)
	}

	if d, _ := l.Allow(ctx, "session-2"); !d.Allowed {
		t.Fatal("expected a separate bucket per subject")
	}

	now = now.Add(30 * time.Second)
	if d, _ := l.Allow(ctx, "session-1"); !d.Allowed {
		t.Fatalf("expected refill after half a window, got %+v", d)
	}
}

func TestNewLocalTokenBucketValidates(t *testing.T) {
	if _, err := NewLocalTokenBucket(0, time.Minute); err == nil {
		t.Fatal("expected zero capacity to fail")
	}
	if _, err := NewLocalTokenBucket(1, 0); err == nil {
		t.Fatal("expected zero window to fail")
	}
}
