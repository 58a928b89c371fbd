package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

const attemptSchemaSQL = `
CREATE TABLE IF NOT EXISTS conversion_attempts (
	attempt_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	provider TEXT NOT NULL,
	variant_index INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	error JSONB,
	polls INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS conversion_attempts_session_idx
	ON conversion_attempts (session_id, finished_at DESC);
`

type PostgresAttemptStore struct {
	db *sql.DB
}

func NewPostgresAttemptStore(ctx context.Context, dsn string) (*PostgresAttemptStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresAttemptStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresAttemptStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, attemptSchemaSQL); err != nil {
		return fmt.Errorf("ensure conversion_attempts schema: %w", err)
	}
	return nil
}

func (s *PostgresAttemptStore) Close() error {
	return s.db.Close()
}

// Record upserts on attempt_id so a replayed observer call is harmless.
func (s *PostgresAttemptStore) Record(ctx context.Context, rec AttemptRecord) error {
	var errJSON []byte
	if rec.Error != nil {
		var err error
		if errJSON, err = json.Marshal(rec.Error); err != nil {
			return fmt.Errorf("marshal attempt error: %w", err)
		}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO conversion_attempts
		   (attempt_id, session_id, mode, provider, variant_index, outcome, error, polls, duration_ms, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (attempt_id) DO UPDATE
		   SET outcome = EXCLUDED.outcome, error = EXCLUDED.error, polls = EXCLUDED.polls,
		       duration_ms = EXCLUDED.duration_ms, finished_at = EXCLUDED.finished_at`,
		rec.AttemptID,
		rec.SessionID,
		rec.Mode,
		rec.Provider,
		rec.VariantIndex,
		rec.Outcome,
		errJSON,
		rec.Polls,
		rec.DurationMS,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion attempt: %w", err)
	}
	return nil
}

func (s *PostgresAttemptStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = defaultMemoryLimit
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT attempt_id, session_id, mode, provider, variant_index, outcome, error, polls, duration_ms, finished_at
		 FROM conversion_attempts
		 WHERE session_id = $1
		 ORDER BY finished_at DESC
		 LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversion attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var (
			rec     AttemptRecord
			errJSON []byte
		)
		if err := rows.Scan(
			&rec.AttemptID,
			&rec.SessionID,
			&rec.Mode,
			&rec.Provider,
			&rec.VariantIndex,
			&rec.Outcome,
			&errJSON,
			&rec.Polls,
			&rec.DurationMS,
			&rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversion attempt: %w", err)
		}
		if len(errJSON) > 0 {
			rec.Error = &ErrorInfo{}
			if err := json.Unmarshal(errJSON, rec.Error); err != nil {
				return nil, fmt.Errorf("unmarshal attempt error: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversion attempts: %w", err)
	}
	return out, nil
}
