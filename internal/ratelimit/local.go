package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalTokenBucket keeps per-subject buckets in process memory, for a single
// API replica (RATE_LIMIT_BACKEND=local).
type LocalTokenBucket struct {
	capacity int
	every    rate.Limit
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocalTokenBucket(capacity int, window time.Duration) (*LocalTokenBucket, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	return &LocalTokenBucket{
		capacity: capacity,
		every:    rate.Limit(float64(capacity) / window.Seconds()),
		now:      time.Now,
		buckets:  make(map[string]*rate.Limiter),
	}, nil
}

func (l *LocalTokenBucket) Allow(_ context.Context, subject string) (Decision, error) {
	subject = normalizeSubject(subject)
	now := l.now()

	l.mu.Lock()
	bucket, ok := l.buckets[subject]
	if !ok {
		bucket = rate.NewLimiter(l.every, l.capacity)
		l.buckets[subject] = bucket
	}
	l.mu.Unlock()

	r := bucket.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int64(bucket.TokensAt(now))}, nil
}
