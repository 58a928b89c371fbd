package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/mockup"
	"github.com/dunamismax/bitwear/internal/orchestrator"
	"github.com/dunamismax/bitwear/internal/provider"
)

type stubProvider struct {
	err error
}

func (stubProvider) ID() string { return provider.IDOpenAI }

func (s stubProvider) Submit(context.Context, domain.GenerationRequest) (provider.Handle, error) {
	if s.err != nil {
		return provider.Handle{}, s.err
	}
	img := domain.EncodedImage{Data: []byte("pixel-art"), MimeType: domain.MimePNG, Width: 64, Height: 64}
	return provider.Handle{Artifact: &img}, nil
}

func (stubProvider) Poll(context.Context, provider.Handle) (provider.PollStatus, error) {
	return provider.PollStatus{State: provider.PollFailed}, nil
}

func (stubProvider) Fetch(context.Context, string) (domain.EncodedImage, error) {
	return domain.EncodedImage{}, errors.New("not used")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var defaultSelection = mockup.Selection{Product: "tshirt", Position: "center-chest", Color: "black", Size: "L"}

func newStore(t *testing.T, p provider.Provider, c *clock) *Store {
	t.Helper()
	var seq int
	store, err := NewStore(Options{
		TTL: time.Hour,
		NewOrchestrator: func(string) (*orchestrator.Orchestrator, error) {
			return orchestrator.New(orchestrator.Options{
				Providers:   provider.NewRegistry(p),
				DefaultMode: orchestrator.ModeOpenAI,
				Logger:      zerolog.Nop(),
			})
		},
		DefaultSelection: defaultSelection,
		Now:              c.Now,
		NewID: func() string {
			seq++
			return fmt.Sprintf("session-%d", seq)
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func convert(t *testing.T, sess *Session) domain.GenerationResult {
	t.Helper()
	src, _ := sess.Source()
	a, err := sess.Orchestrator().Start(context.Background(), src, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := a.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return res
}

func photo() domain.SourceImage {
	return domain.SourceImage{EncodedImage: domain.EncodedImage{Data: []byte("photo"), MimeType: domain.MimeJPEG, Width: 640, Height: 480}}
}

func TestSessionWalksThroughWizardSteps(t *testing.T) {
	store := newStore(t, stubProvider{}, &clock{now: time.Unix(1_700_000_000, 0)})

	sess, err := store.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID != "session-1" || sess.Step() != StepUpload {
		t.Fatalf("unexpected new session %s in %s", sess.ID, sess.Step())
	}
	if sess.Selection() != defaultSelection {
		t.Fatalf("unexpected default selection %+v", sess.Selection())
	}

	sess.SetSource(photo())
	if sess.Step() != StepConvert {
		t.Fatalf("expected convert step, got %s", sess.Step())
	}

	if res := convert(t, sess); res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := sess.Orchestrator().Approve(); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if sess.Step() != StepCustomize {
		t.Fatalf("expected customize step, got %s", sess.Step())
	}

	sess.SetArtifactRef("artifacts/session-1/pixel-art.png")
	sess.SetOrder(OrderRef{OrderID: "8BW-1", ProductID: 42})
	snap := sess.Snapshot()
	if snap.Step != StepOrdered || snap.Artifact == nil || snap.Order == nil || snap.Source == nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Source.Bytes != 5 || snap.ArtifactRef == "" {
		t.Fatalf("unexpected source info %+v", snap.Source)
	}

	sess.ClearSource()
	snap = sess.Snapshot()
	if snap.Step != StepUpload || snap.Artifact != nil || snap.Order != nil || snap.ArtifactRef != "" {
		t.Fatalf("expected a clean upload step, got %+v", snap)
	}
}

func TestSnapshotReportsLastError(t *testing.T) {
	rejected := domain.NewError(domain.KindProviderRejected, "openai", "content policy", nil)
	store := newStore(t, stubProvider{err: rejected}, &clock{now: time.Unix(1_700_000_000, 0)})

	sess, err := store.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess.SetSource(photo())
	if res := convert(t, sess); res.Outcome != domain.OutcomeFailure {
		t.Fatalf("unexpected result %+v", res)
	}

	snap := sess.Snapshot()
	if snap.LastError == nil || snap.LastError.Kind != domain.KindProviderRejected {
		t.Fatalf("expected rejected error, got %+v", snap.LastError)
	}
	if snap.LastError.Recovery != domain.RecoveryRetry || snap.LastError.Message == "" {
		t.Fatalf("unexpected error info %+v", snap.LastError)
	}
	if snap.Step != StepConvert {
		t.Fatalf("expected convert step after a rejection, got %s", snap.Step)
	}
}

func TestSelectionUpdatesPromptProduct(t *testing.T) {
	store := newStore(t, stubProvider{}, &clock{now: time.Unix(1_700_000_000, 0)})
	sess, _ := store.Create()

	hat := mockup.Selection{Product: "hat", Position: "front", Color: "red", Size: "M"}
	sess.SetSelection(hat)
	if sess.Selection() != hat {
		t.Fatalf("unexpected selection %+v", sess.Selection())
	}
}

func TestStoreGetAndSweep(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newStore(t, stubProvider{}, c)

	idle, _ := store.Create()
	active, _ := store.Create()

	c.Advance(50 * time.Minute)
	if _, err := store.Get(active.ID); err != nil {
		t.Fatalf("get active: %v", err)
	}
	c.Advance(20 * time.Minute)

	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected 1 expired session, got %d", removed)
	}
	if _, err := store.Get(idle.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", store.Len())
	}

	store.Delete(active.ID)
	if _, err := store.Get(active.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted session to be gone, got %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	store := newStore(t, stubProvider{}, &clock{now: time.Unix(1_700_000_000, 0)})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
