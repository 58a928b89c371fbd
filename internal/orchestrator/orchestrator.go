// Package orchestrator drives one conversion attempt at a time for a
// session: provider selection, submit, polling, timeout, the attempt budget
// and the approve/regenerate cycle. Every attempt runs in its own goroutine;
// results that arrive after a reset or a newer attempt are discarded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/id"
	"github.com/dunamismax/bitwear/internal/pixel"
	"github.com/dunamismax/bitwear/internal/provider"
)

var (
	ErrBusy           = errors.New("a conversion is already in progress")
	ErrNoAttemptsLeft = errors.New("no conversion attempts left")
	ErrNoCandidate    = errors.New("no converted image to approve")
	ErrNoSource       = errors.New("source image is required")
)

const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 120 * time.Second
)

type State string

const (
	StateIdle           State = "idle"
	StateSubmitting     State = "submitting"
	StatePolling        State = "polling"
	StateFetching       State = "fetching"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
	StateTimedOut       State = "timed_out"
	StateNoAttemptsLeft State = "no_attempts_left"
)

type Progress struct {
	Percent int    `json:"percent"`
	Text    string `json:"text"`
}

// Providers resolves provider ids. *provider.Registry implements it.
type Providers interface {
	Get(id string) (provider.Provider, error)
}

// Preprocessor runs the local pixel pipeline ahead of hybrid submissions.
// *pipeline.Processor implements it.
type Preprocessor interface {
	Pixelate(ctx context.Context, input []byte, opts pixel.Options, format string) ([]byte, pixel.Buffer, error)
}

// Observer receives one result per finished attempt, stale ones included.
type Observer func(domain.GenerationResult)

type Options struct {
	Providers    Providers
	Preprocessor Preprocessor
	Prompts      provider.PromptSet
	Rand         provider.Rand
	Modes        map[string]Mode
	DefaultMode  string

	Attempts       int
	AttemptTimeout time.Duration
	// PollInterval and MaxPolls override every async mode when positive.
	PollInterval time.Duration
	MaxPolls     int

	Sleep      func(ctx context.Context, d time.Duration) error
	Now        func() time.Time
	NewID      func() string
	Logger     zerolog.Logger
	Tracer     trace.Tracer
	OnProgress func(Progress)
	Observers  []Observer
}

type Orchestrator struct {
	opts Options

	mu           sync.Mutex
	state        State
	mode         string
	product      string
	processing   bool
	attemptsLeft int
	budgetOpened bool
	progressSeq  uint64
	generation   uint64
	cancel       context.CancelFunc
	progress     Progress
	current      *Attempt
	candidate    *domain.GenerationResult
	artifact     *domain.Artifact
	lastResult   *domain.GenerationResult

	notifyMu sync.Mutex
	notified uint64
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Providers == nil {
		return nil, errors.New("orchestrator requires a provider registry")
	}
	if len(opts.Prompts.Variants) == 0 {
		set, err := provider.DefaultPromptSet()
		if err != nil {
			return nil, err
		}
		opts.Prompts = set
	}
	if opts.Modes == nil {
		opts.Modes = DefaultModes()
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeOpenAI
	}
	if _, err := lookupMode(opts.Modes, opts.DefaultMode); err != nil {
		return nil, err
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = id.New
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/dunamismax/bitwear/orchestrator")
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Orchestrator{
		opts:         opts,
		state:        StateIdle,
		mode:         opts.DefaultMode,
		attemptsLeft: opts.Attempts,
	}, nil
}

// SetProduct selects the product whose prompt override, if any, applies to
// the next attempt.
func (o *Orchestrator) SetProduct(product string) {
	o.mu.Lock()
	o.product = product
	o.mu.Unlock()
}

// Start begins an attempt in the given mode; an empty mode keeps the current
// one. The busy guard is taken before Start returns, so a concurrent second
// call gets ErrBusy without any provider traffic. The first budgeted
// conversion of a session is free; every later one spends an attempt.
func (o *Orchestrator) Start(ctx context.Context, src domain.SourceImage, mode string) (*Attempt, error) {
	o.mu.Lock()
	if o.processing {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	m, p, err := o.resolveLocked(mode)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if src.Empty() {
		o.mu.Unlock()
		return nil, ErrNoSource
	}
	if m.Budgeted {
		if err := o.spendLocked(); err != nil {
			o.mu.Unlock()
			return nil, err
		}
	}
	a, notify := o.startLocked(ctx, src, m, p)
	o.mu.Unlock()
	notify()
	return a, nil
}

// Regenerate discards the candidate and starts again with a fresh prompt
// variant. Budgeted modes spend an attempt.
func (o *Orchestrator) Regenerate(ctx context.Context, src domain.SourceImage) (*Attempt, error) {
	return o.Start(ctx, src, "")
}

// Retry starts a new attempt in the current mode, spending the budget the
// same way Start does.
func (o *Orchestrator) Retry(ctx context.Context, src domain.SourceImage) (*Attempt, error) {
	return o.Start(ctx, src, "")
}

// spendLocked charges one budgeted conversion. The last attempt cannot be
// spent: it moves the session to StateNoAttemptsLeft, which only SupplyOwn
// gets past.
func (o *Orchestrator) spendLocked() error {
	switch {
	case o.attemptsLeft <= 0:
		o.attemptsLeft = 0
		o.state = StateNoAttemptsLeft
		return ErrNoAttemptsLeft
	case !o.budgetOpened:
		o.budgetOpened = true
		return nil
	case o.attemptsLeft == 1:
		o.attemptsLeft = 0
		o.state = StateNoAttemptsLeft
		return ErrNoAttemptsLeft
	}
	o.attemptsLeft--
	return nil
}

// Approve commits the current candidate as the session artifact.
func (o *Orchestrator) Approve() (domain.Artifact, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.processing {
		return domain.Artifact{}, ErrBusy
	}
	if o.candidate == nil || o.candidate.Artifact == nil {
		return domain.Artifact{}, ErrNoCandidate
	}

	c := o.candidate
	art := domain.Artifact{
		EncodedImage: *c.Artifact,
		AttemptID:    c.AttemptID,
		Mode:         c.Mode,
		Provider:     c.Provider,
		VariantIndex: c.VariantIndex,
		CommittedAt:  o.opts.Now().UTC(),
	}
	o.artifact = &art
	return art, nil
}

// SupplyOwn commits a user-provided image. It is the escape hatch after
// failures and works even when the attempt budget is spent.
func (o *Orchestrator) SupplyOwn(img domain.EncodedImage) (domain.Artifact, error) {
	if img.Empty() {
		return domain.Artifact{}, domain.NewError(domain.KindDecode, "supply_own", "image is empty", nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.processing {
		return domain.Artifact{}, ErrBusy
	}
	art := domain.Artifact{
		EncodedImage: img,
		Mode:         "own",
		Provider:     "user",
		VariantIndex: -1,
		UserSupplied: true,
		CommittedAt:  o.opts.Now().UTC(),
	}
	o.artifact = &art
	return art, nil
}

// Reset returns to the upload step. The in-flight attempt, if any, is
// cancelled and its late result ignored. The attempt budget is kept.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.processing = false
	o.current = nil
	o.candidate = nil
	o.artifact = nil
	o.lastResult = nil
	o.progress = Progress{}
	if o.attemptsLeft == 0 {
		o.state = StateNoAttemptsLeft
	} else {
		o.state = StateIdle
	}
}

type Status struct {
	State        State                    `json:"state"`
	Mode         string                   `json:"mode"`
	Processing   bool                     `json:"processing"`
	AttemptsLeft int                      `json:"attempts_left"`
	Budgeted     bool                     `json:"budgeted"`
	Progress     Progress                 `json:"progress"`
	AttemptID    string                   `json:"attempt_id,omitempty"`
	HasCandidate bool                     `json:"has_candidate"`
	HasArtifact  bool                     `json:"has_artifact"`
	LastResult   *domain.GenerationResult `json:"-"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		State:        o.state,
		Mode:         o.mode,
		Processing:   o.processing,
		AttemptsLeft: o.attemptsLeft,
		Budgeted:     o.opts.Modes[o.mode].Budgeted,
		Progress:     o.progress,
		HasCandidate: o.candidate != nil,
		HasArtifact:  o.artifact != nil,
	}
	if o.current != nil {
		st.AttemptID = o.current.ID
	}
	if o.lastResult != nil {
		r := *o.lastResult
		st.LastResult = &r
	}
	return st
}

// Current returns the attempt in flight, or the last one started.
func (o *Orchestrator) Current() *Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) Candidate() (domain.EncodedImage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.candidate == nil || o.candidate.Artifact == nil {
		return domain.EncodedImage{}, false
	}
	return *o.candidate.Artifact, true
}

func (o *Orchestrator) Artifact() (domain.Artifact, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.artifact == nil {
		return domain.Artifact{}, false
	}
	return *o.artifact, true
}

func (o *Orchestrator) resolveLocked(mode string) (Mode, provider.Provider, error) {
	if mode == "" {
		mode = o.mode
	}
	m, err := lookupMode(o.opts.Modes, mode)
	if err != nil {
		return Mode{}, nil, err
	}
	p, err := o.opts.Providers.Get(m.ProviderID)
	if err != nil {
		return Mode{}, nil, err
	}
	if o.opts.PollInterval > 0 && m.Async() {
		m.PollInterval = o.opts.PollInterval
	}
	if o.opts.MaxPolls > 0 && m.Async() {
		m.MaxPolls = o.opts.MaxPolls
	}
	return m, p, nil
}

// startLocked launches the attempt. The returned func delivers the initial
// progress update and must be called after o.mu is released.
func (o *Orchestrator) startLocked(ctx context.Context, src domain.SourceImage, m Mode, p provider.Provider) (*Attempt, func()) {
	o.generation++
	choice := o.opts.Prompts.Choose(o.opts.Rand, o.product)
	req := domain.GenerationRequest{
		AttemptID:      o.opts.NewID(),
		Source:         src,
		Mode:           m.Name,
		ProviderID:     p.ID(),
		Prompt:         choice.Text,
		VariantIndex:   choice.Index,
		NegativePrompt: choice.Negative,
		ProductType:    o.product,
	}

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.AttemptTimeout)
	a := &Attempt{
		ID:           req.AttemptID,
		Mode:         m.Name,
		Provider:     p.ID(),
		VariantIndex: choice.Index,
		generation:   o.generation,
		done:         make(chan struct{}),
	}

	o.mode = m.Name
	o.processing = true
	o.cancel = cancel
	o.current = a
	o.candidate = nil
	o.state = StateSubmitting
	notify := o.setProgressLocked(Progress{Percent: 10, Text: "Starting conversion"})

	o.opts.Logger.Info().
		Str("attempt_id", a.ID).
		Str("mode", m.Name).
		Str("provider", a.Provider).
		Int("variant", choice.Index).
		Msg("conversion attempt started")

	go o.run(attemptCtx, cancel, a, m, p, req)
	return a, notify
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, a *Attempt, m Mode, p provider.Provider, req domain.GenerationRequest) {
	defer cancel()

	ctx, span := o.opts.Tracer.Start(ctx, "conversion.attempt", trace.WithAttributes(
		attribute.String("attempt.id", a.ID),
		attribute.String("attempt.mode", m.Name),
		attribute.String("attempt.provider", a.Provider),
		attribute.Int("attempt.variant", a.VariantIndex),
	))
	defer span.End()

	start := o.opts.Now()
	img, polls, err := o.execute(ctx, a, m, p, req)

	result := domain.GenerationResult{
		AttemptID:    a.ID,
		Mode:         m.Name,
		Provider:     a.Provider,
		VariantIndex: a.VariantIndex,
		Polls:        polls,
		Duration:     o.opts.Now().Sub(start),
		FinishedAt:   o.opts.Now().UTC(),
	}
	switch {
	case err == nil:
		result.Outcome = domain.OutcomeSuccess
		result.Artifact = &img
	case domain.KindOf(err) == domain.KindTimeout:
		result.Outcome = domain.OutcomeTimedOut
		result.Err = domain.Classify(a.Provider, err)
	default:
		result.Outcome = domain.OutcomeFailure
		result.Err = domain.Classify(a.Provider, err)
	}

	span.SetAttributes(attribute.Int("attempt.polls", polls), attribute.String("attempt.outcome", string(result.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.finish(a, result)
}

func (o *Orchestrator) execute(ctx context.Context, a *Attempt, m Mode, p provider.Provider, req domain.GenerationRequest) (domain.EncodedImage, int, error) {
	if m.Preprocess != nil {
		o.updateProgress(a, Progress{Percent: 20, Text: "Pixelating image"})
		src, err := o.preprocess(ctx, req.Source, *m.Preprocess)
		if err != nil {
			return domain.EncodedImage{}, 0, err
		}
		req.Source = src
	}

	o.updateProgress(a, Progress{Percent: 30, Text: "Sending to " + p.ID()})
	h, err := p.Submit(ctx, req)
	if err != nil {
		return domain.EncodedImage{}, 0, err
	}
	if h.Done() {
		return *h.Artifact, 0, nil
	}
	if !m.Async() {
		return domain.EncodedImage{}, 0, domain.NewError(domain.KindConfiguration, p.ID()+".submit", "provider returned a handle but mode "+m.Name+" does not poll", nil)
	}

	o.updateState(a, StatePolling)
	for i := 1; i <= m.MaxPolls; i++ {
		if err := o.opts.Sleep(ctx, m.PollInterval); err != nil {
			return domain.EncodedImage{}, i - 1, domain.Classify(p.ID()+".poll", err)
		}

		status, err := p.Poll(ctx, h)
		if err != nil {
			return domain.EncodedImage{}, i, err
		}
		o.updateProgress(a, Progress{
			Percent: 50 + i*45/m.MaxPolls,
			Text:    fmt.Sprintf("Generating pixel art (%d/%d)", i, m.MaxPolls),
		})

		switch status.State {
		case provider.PollSucceeded:
			o.updateState(a, StateFetching)
			o.updateProgress(a, Progress{Percent: 90, Text: "Downloading result"})
			img, err := p.Fetch(ctx, status.Location)
			return img, i, err
		case provider.PollFailed:
			reason := status.Reason
			if reason == "" {
				reason = "provider reported failure"
			}
			return domain.EncodedImage{}, i, domain.NewError(domain.KindProviderFailedAsync, p.ID()+".poll", reason, nil)
		}
	}

	return domain.EncodedImage{}, m.MaxPolls, domain.NewError(domain.KindTimeout, p.ID()+".poll", fmt.Sprintf("no result after %d polls", m.MaxPolls), nil)
}

func (o *Orchestrator) preprocess(ctx context.Context, src domain.SourceImage, opts pixel.Options) (domain.SourceImage, error) {
	if o.opts.Preprocessor == nil {
		return domain.SourceImage{}, domain.NewError(domain.KindConfiguration, "preprocess", "no pixel pipeline configured", nil)
	}
	data, art, err := o.opts.Preprocessor.Pixelate(ctx, src.Data, opts, "png")
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) || ctx.Err() != nil {
			return domain.SourceImage{}, domain.Classify("preprocess", err)
		}
		return domain.SourceImage{}, domain.NewError(domain.KindDecode, "preprocess", "", err)
	}
	return domain.SourceImage{
		EncodedImage: domain.EncodedImage{Data: data, MimeType: domain.MimePNG, Width: art.Width, Height: art.Height},
		UploadedAt:   src.UploadedAt,
	}, nil
}

// finish applies a result if it still belongs to the current generation.
func (o *Orchestrator) finish(a *Attempt, result domain.GenerationResult) {
	o.mu.Lock()
	notify := func() {}
	stale := a.generation != o.generation
	if stale {
		result.Outcome = domain.OutcomeDiscarded
	} else {
		o.processing = false
		o.cancel = nil
		r := result
		o.lastResult = &r
		switch result.Outcome {
		case domain.OutcomeSuccess:
			o.candidate = &r
			o.state = StateSucceeded
			notify = o.setProgressLocked(Progress{Percent: 100, Text: "Done"})
		case domain.OutcomeTimedOut:
			o.state = StateTimedOut
			notify = o.setProgressLocked(Progress{Percent: 0, Text: result.Err.Kind.UserMessage()})
		default:
			o.state = StateFailed
			notify = o.setProgressLocked(Progress{Percent: 0, Text: result.ErrorKind().UserMessage()})
		}
	}
	o.mu.Unlock()
	notify()

	event := o.opts.Logger.Info()
	if result.Err != nil {
		event = o.opts.Logger.Warn().Err(result.Err).Str("error_kind", string(result.Err.Kind))
	}
	event.
		Str("attempt_id", a.ID).
		Str("mode", result.Mode).
		Str("outcome", string(result.Outcome)).
		Int("polls", result.Polls).
		Dur("duration", result.Duration).
		Msg("conversion attempt finished")

	for _, observe := range o.opts.Observers {
		observe(result)
	}

	a.result = result
	close(a.done)
}

func (o *Orchestrator) updateState(a *Attempt, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a.generation == o.generation {
		o.state = state
	}
}

func (o *Orchestrator) updateProgress(a *Attempt, p Progress) {
	o.mu.Lock()
	notify := func() {}
	if a.generation == o.generation {
		notify = o.setProgressLocked(p)
	}
	o.mu.Unlock()
	notify()
}

// setProgressLocked records p and returns the OnProgress call, which the
// caller runs once o.mu is released so the callback may read Status.
// Callbacks are serialized and an update that lost the race to a newer one
// is dropped. OnProgress must not start attempts itself.
func (o *Orchestrator) setProgressLocked(p Progress) func() {
	o.progress = p
	o.progressSeq++
	seq := o.progressSeq
	cb := o.opts.OnProgress
	if cb == nil {
		return func() {}
	}
	return func() {
		o.notifyMu.Lock()
		defer o.notifyMu.Unlock()
		if seq <= o.notified {
			return
		}
		o.notified = seq
		cb(p)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
