package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/dunamismax/bitwear/internal/domain"
)

type ReplicateOptions struct {
	HTTPOptions
	APIKey  string
	BaseURL string
	Version string
}

// Replicate submits an img2img prediction and reports its status on poll.
type Replicate struct {
	opts ReplicateOptions
}

func NewReplicate(opts ReplicateOptions) *Replicate {
	opts.HTTPOptions = opts.withDefaults()
	opts.BaseURL = trimBase(opts.BaseURL, "https://api.replicate.com")
	opts.Logger = opts.Logger.With().Str("provider", IDReplicate).Logger()
	return &Replicate{opts: opts}
}

func (*Replicate) ID() string { return IDReplicate }

type replicateInput struct {
	Image             string  `json:"image"`
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumOutputs        int     `json:"num_outputs"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	PromptStrength    float64 `json:"prompt_strength"`
	GuidanceScale     float64 `json:"guidance_scale"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

func (p *Replicate) Submit(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	const op = "replicate.submit"
	if strings.TrimSpace(p.opts.APIKey) == "" {
		return Handle{}, missingKey(IDReplicate)
	}
	if strings.TrimSpace(p.opts.Version) == "" {
		return Handle{}, domain.NewError(domain.KindConfiguration, op, "replicate model version is not configured", nil)
	}

	payload := map[string]any{
		"version": p.opts.Version,
		"input": replicateInput{
			Image:             DataURL(req.Source.EncodedImage),
			Prompt:            req.Prompt,
			NegativePrompt:    req.NegativePrompt,
			NumOutputs:        1,
			NumInferenceSteps: 30,
			PromptStrength:    0.7,
			GuidanceScale:     9,
		},
	}
	httpReq, err := newJSONRequest(ctx, http.MethodPost, p.opts.BaseURL+"/v1/predictions", payload)
	if err != nil {
		return Handle{}, domain.NewError(domain.KindConfiguration, op, "build request", err)
	}
	p.authorize(httpReq)

	var pred replicatePrediction
	if err := doJSON(p.opts.Client, op, httpReq, &pred); err != nil {
		return Handle{}, err
	}
	if pred.ID == "" {
		return Handle{}, domain.NewError(domain.KindProviderRejected, op, "prediction id missing", nil)
	}
	p.opts.Logger.Debug().Str("attempt_id", req.AttemptID).Str("prediction_id", pred.ID).Msg("replicate prediction started")
	return Handle{ID: pred.ID}, nil
}

func (p *Replicate) Poll(ctx context.Context, h Handle) (PollStatus, error) {
	const op = "replicate.poll"
	if h.ID == "" {
		return PollStatus{}, domain.NewError(domain.KindConfiguration, op, "handle has no prediction id", nil)
	}

	httpReq, err := newJSONRequest(ctx, http.MethodGet, p.opts.BaseURL+"/v1/predictions/"+url.PathEscape(h.ID), nil)
	if err != nil {
		return PollStatus{}, domain.NewError(domain.KindConfiguration, op, "build request", err)
	}
	p.authorize(httpReq)

	var pred replicatePrediction
	if err := doJSON(p.opts.Client, op, httpReq, &pred); err != nil {
		return PollStatus{}, err
	}

	switch pred.Status {
	case "succeeded":
		location := firstOutput(pred.Output)
		if location == "" {
			return PollStatus{State: PollFailed, Reason: "prediction succeeded without output"}, nil
		}
		return PollStatus{State: PollSucceeded, Location: location}, nil
	case "failed", "canceled":
		reason := rawText(pred.Error)
		if reason == "" {
			reason = "prediction " + pred.Status
		}
		return PollStatus{State: PollFailed, Reason: reason}, nil
	default:
		return PollStatus{State: PollPending}, nil
	}
}

func (p *Replicate) Fetch(ctx context.Context, location string) (domain.EncodedImage, error) {
	return fetchNoCache(ctx, p.opts.Client, p.opts.Now, "replicate.fetch", location)
}

func (p *Replicate) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
}

// firstOutput accepts either a single URL or a list of URLs.
func firstOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
