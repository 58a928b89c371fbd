package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/id"
	"github.com/dunamismax/bitwear/internal/mockup"
	"github.com/dunamismax/bitwear/internal/orchestrator"
)

var ErrNotFound = errors.New("session not found")

const DefaultTTL = time.Hour

// Factory builds the orchestrator for a new session.
type Factory func(sessionID string) (*orchestrator.Orchestrator, error)

type Options struct {
	TTL              time.Duration
	NewOrchestrator  Factory
	DefaultSelection mockup.Selection
	Now              func() time.Time
	NewID            func() string
	Logger           zerolog.Logger
}

type Store struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore(opts Options) (*Store, error) {
	if opts.NewOrchestrator == nil {
		return nil, errors.New("session store requires an orchestrator factory")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = id.New
	}
	return &Store{opts: opts, sessions: make(map[string]*Session)}, nil
}

func (s *Store) Create() (*Session, error) {
	sessionID := s.opts.NewID()
	conv, err := s.opts.NewOrchestrator(sessionID)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	sess := &Session{
		ID:           sessionID,
		CreatedAt:    now,
		conv:         conv,
		lastActivity: now,
	}
	sess.SetSelection(s.opts.DefaultSelection)

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get returns the session and marks it active.
func (s *Store) Get(sessionID string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch(s.opts.Now())
	return sess, nil
}

func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if ok {
		sess.conv.Reset()
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and cancels their
// in-flight attempts. It returns how many were removed.
func (s *Store) Sweep() int {
	cutoff := s.opts.Now().Add(-s.opts.TTL)

	s.mu.Lock()
	var expired []*Session
	for key, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, key)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.conv.Reset()
	}
	if len(expired) > 0 {
		s.opts.Logger.Info().Int("expired", len(expired)).Msg("swept idle sessions")
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
