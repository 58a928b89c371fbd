// Package session keeps the per-visitor wizard state: the uploaded source,
// the conversion orchestrator, the product selection and the persisted
// artifact reference.
package session

import (
	"sync"
	"time"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/mockup"
	"github.com/dunamismax/bitwear/internal/orchestrator"
)

type Step string

const (
	StepUpload    Step = "upload"
	StepConvert   Step = "convert"
	StepCustomize Step = "customize"
	StepOrdered   Step = "ordered"
)

// OrderRef records a submitted order for the session.
type OrderRef struct {
	OrderID    string    `json:"order_id"`
	ProductID  int64     `json:"product_id"`
	ProductURL string    `json:"product_url,omitempty"`
	PlacedAt   time.Time `json:"placed_at"`
}

type Session struct {
	ID        string
	CreatedAt time.Time

	conv *orchestrator.Orchestrator

	mu           sync.Mutex
	lastActivity time.Time
	source       *domain.SourceImage
	selection    mockup.Selection
	artifactRef  string
	order        *OrderRef
}

func (s *Session) Orchestrator() *orchestrator.Orchestrator {
	return s.conv
}

// SetSource replaces the upload. Any previous conversion state is dropped.
func (s *Session) SetSource(src domain.SourceImage) {
	s.conv.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = &src
	s.artifactRef = ""
	s.order = nil
}

// ClearSource returns the session to the upload step.
func (s *Session) ClearSource() {
	s.conv.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = nil
	s.artifactRef = ""
	s.order = nil
}

func (s *Session) Source() (domain.SourceImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return domain.SourceImage{}, false
	}
	return *s.source, true
}

func (s *Session) Selection() mockup.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// SetSelection stores a validated selection and points prompt overrides at
// its product.
func (s *Session) SetSelection(sel mockup.Selection) {
	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
	s.conv.SetProduct(sel.Product)
}

func (s *Session) ArtifactRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifactRef
}

func (s *Session) SetArtifactRef(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifactRef = ref
}

func (s *Session) Order() (OrderRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == nil {
		return OrderRef{}, false
	}
	return *s.order, true
}

func (s *Session) SetOrder(ref OrderRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = &ref
}

// Step derives the wizard step. A timed-out attempt sends the user back to
// upload while the source is kept for a quick retry.
func (s *Session) Step() Step {
	st := s.conv.Status()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked(st)
}

func (s *Session) stepLocked(st orchestrator.Status) Step {
	switch {
	case s.order != nil:
		return StepOrdered
	case s.source == nil && !st.HasArtifact:
		return StepUpload
	case st.HasArtifact:
		return StepCustomize
	case st.State == orchestrator.StateTimedOut && !st.HasCandidate:
		return StepUpload
	default:
		return StepConvert
	}
}

// SourceInfo describes the upload without its bytes.
type SourceInfo struct {
	MimeType   string    `json:"mime_type"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Bytes      int       `json:"bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ErrorInfo is the user-facing view of a failed attempt.
type ErrorInfo struct {
	Kind     domain.ErrorKind `json:"kind"`
	Message  string           `json:"message"`
	Recovery domain.Recovery  `json:"recovery"`
	Detail   string           `json:"detail,omitempty"`
}

type Snapshot struct {
	ID          string              `json:"id"`
	Step        Step                `json:"step"`
	Source      *SourceInfo         `json:"source,omitempty"`
	Conversion  orchestrator.Status `json:"conversion"`
	LastError   *ErrorInfo          `json:"last_error,omitempty"`
	Selection   mockup.Selection    `json:"selection"`
	Artifact    *domain.Artifact    `json:"artifact,omitempty"`
	ArtifactRef string              `json:"artifact_ref,omitempty"`
	Order       *OrderRef           `json:"order,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (s *Session) Snapshot() Snapshot {
	st := s.conv.Status()
	artifact, hasArtifact := s.conv.Artifact()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          s.ID,
		Step:        s.stepLocked(st),
		Conversion:  st,
		Selection:   s.selection,
		ArtifactRef: s.artifactRef,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.lastActivity,
	}
	if s.source != nil {
		snap.Source = &SourceInfo{
			MimeType:   s.source.MimeType,
			Width:      s.source.Width,
			Height:     s.source.Height,
			Bytes:      len(s.source.Data),
			UploadedAt: s.source.UploadedAt,
		}
	}
	if hasArtifact {
		snap.Artifact = &artifact
	}
	if s.order != nil {
		o := *s.order
		snap.Order = &o
	}
	if r := st.LastResult; r != nil && r.Err != nil {
		snap.LastError = &ErrorInfo{
			Kind:     r.Err.Kind,
			Message:  r.Err.Kind.UserMessage(),
			Recovery: r.Err.Kind.Recovery(),
			Detail:   r.Err.Error(),
		}
	}
	return snap
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
