// Package store keeps a diagnostic log of conversion attempts. It never holds
// images or order data.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/domain"
)

type AttemptRecord struct {
	AttemptID    string     `json:"attempt_id"`
	SessionID    string     `json:"session_id"`
	Mode         string     `json:"mode"`
	Provider     string     `json:"provider"`
	VariantIndex int        `json:"variant_index"`
	Outcome      string     `json:"outcome"`
	Error        *ErrorInfo `json:"error,omitempty"`
	Polls        int        `json:"polls"`
	DurationMS   int64      `json:"duration_ms"`
	FinishedAt   time.Time  `json:"finished_at"`
}

type ErrorInfo struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

type AttemptStore interface {
	Record(ctx context.Context, rec AttemptRecord) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]AttemptRecord, error)
}

func RecordFromResult(sessionID string, r domain.GenerationResult) AttemptRecord {
	rec := AttemptRecord{
		AttemptID:    r.AttemptID,
		SessionID:    sessionID,
		Mode:         r.Mode,
		Provider:     r.Provider,
		VariantIndex: r.VariantIndex,
		Outcome:      string(r.Outcome),
		Polls:        r.Polls,
		DurationMS:   r.Duration.Milliseconds(),
		FinishedAt:   r.FinishedAt,
	}
	if r.Err != nil {
		rec.Error = &ErrorInfo{
			Kind:       string(r.Err.Kind),
			Message:    r.Err.Error(),
			StatusCode: r.Err.StatusCode,
		}
	}
	return rec
}

// Recorder turns orchestrator results into attempt records.
type Recorder struct {
	store   AttemptStore
	logger  zerolog.Logger
	timeout time.Duration
}

func NewRecorder(store AttemptStore, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, timeout: 5 * time.Second}
}

// Observer returns a callback bound to one session. Write failures are logged
// and never reach the conversion.
func (r *Recorder) Observer(sessionID string) func(domain.GenerationResult) {
	return func(res domain.GenerationResult) {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.Record(ctx, RecordFromResult(sessionID, res)); err != nil {
			r.logger.Warn().Err(err).Str("attempt_id", res.AttemptID).Msg("attempt log write failed")
		}
	}
}
