// Package provider adapts the image-generation backends to one
// submit/poll/fetch contract. Adapters classify every failure into the
// domain error taxonomy and never retry on their own.
package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/httpclient"
)

const (
	IDOpenAI    = "openai"
	IDGemini    = "gemini"
	IDReplicate = "replicate"
	IDLeonardo  = "leonardo"
	IDFilter    = "filter"
	IDDemo      = "demo"
)

type Provider interface {
	ID() string
	Submit(ctx context.Context, req domain.GenerationRequest) (Handle, error)
	Poll(ctx context.Context, h Handle) (PollStatus, error)
	Fetch(ctx context.Context, location string) (domain.EncodedImage, error)
}

// Handle identifies submitted work. Synchronous providers return the
// finished image in Artifact and leave ID empty.
type Handle struct {
	ID       string
	Artifact *domain.EncodedImage
}

func (h Handle) Done() bool {
	return h.Artifact != nil
}

type PollState string

const (
	PollPending   PollState = "pending"
	PollSucceeded PollState = "succeeded"
	PollFailed    PollState = "failed"
)

// PollStatus is one observation of remote work. Location is set when the
// state is PollSucceeded, Reason when it is PollFailed.
type PollStatus struct {
	State    PollState
	Location string
	Reason   string
}

// HTTPOptions carries what every remote adapter shares.
type HTTPOptions struct {
	Client *http.Client
	Logger zerolog.Logger
	Now    func() time.Time
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Client == nil {
		o.Client = httpclient.New(httpclient.Options{})
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// synchronous supplies Poll and Fetch for providers whose Submit returns the
// finished artifact.
type synchronous struct {
	id string
}

func (s synchronous) Poll(context.Context, Handle) (PollStatus, error) {
	return PollStatus{State: PollFailed, Reason: s.id + " is a synchronous provider"}, nil
}

func (s synchronous) Fetch(_ context.Context, location string) (domain.EncodedImage, error) {
	if !strings.HasPrefix(location, "data:") {
		return domain.EncodedImage{}, domain.NewError(domain.KindConfiguration, s.id+".fetch", "synchronous provider only serves data URLs", nil)
	}
	return DecodeDataURL(location)
}

func missingKey(id string) error {
	return domain.NewError(domain.KindConfiguration, id+".submit", id+" api key is not configured", nil)
}

func trimBase(base, fallback string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return fallback
	}
	return base
}
