package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/pipeline"
)

type LeonardoOptions struct {
	HTTPOptions
	APIKey        string
	BaseURL       string
	ModelID       string
	InitStrength  float64
	GuidanceScale float64
	Width         int
	Height        int
}

// Leonardo uploads the source as an init image, starts a generation and
// reports it on poll.
type Leonardo struct {
	opts LeonardoOptions
}

func NewLeonardo(opts LeonardoOptions) *Leonardo {
	opts.HTTPOptions = opts.withDefaults()
	opts.BaseURL = trimBase(opts.BaseURL, "https://cloud.leonardo.ai")
	if opts.InitStrength <= 0 {
		opts.InitStrength = 0.3
	}
	if opts.GuidanceScale <= 0 {
		opts.GuidanceScale = 7
	}
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 1024
	}
	opts.Logger = opts.Logger.With().Str("provider", IDLeonardo).Logger()
	return &Leonardo{opts: opts}
}

func (*Leonardo) ID() string { return IDLeonardo }

type leonardoInitImage struct {
	UploadInitImage struct {
		ID     string `json:"id"`
		URL    string `json:"url"`
		Fields string `json:"fields"`
	} `json:"uploadInitImage"`
}

type leonardoGenerationJob struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
}

type leonardoGeneration struct {
	GenerationsByPK *struct {
		Status          string `json:"status"`
		GeneratedImages []struct {
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

func (p *Leonardo) Submit(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	if strings.TrimSpace(p.opts.APIKey) == "" {
		return Handle{}, missingKey(IDLeonardo)
	}

	initID, err := p.uploadInitImage(ctx, req.Source.EncodedImage)
	if err != nil {
		return Handle{}, err
	}

	const op = "leonardo.generate"
	payload := map[string]any{
		"init_image_id":  initID,
		"init_strength":  p.opts.InitStrength,
		"prompt":         req.Prompt,
		"guidance_scale": p.opts.GuidanceScale,
		"width":          p.opts.Width,
		"height":         p.opts.Height,
		"num_images":     1,
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if p.opts.ModelID != "" {
		payload["modelId"] = p.opts.ModelID
	}

	httpReq, err := newJSONRequest(ctx, http.MethodPost, p.opts.BaseURL+"/api/rest/v1/generations", payload)
	if err != nil {
		return Handle{}, domain.NewError(domain.KindConfiguration, op, "build request", err)
	}
	p.authorize(httpReq)

	var job leonardoGenerationJob
	if err := doJSON(p.opts.Client, op, httpReq, &job); err != nil {
		return Handle{}, err
	}
	if job.SDGenerationJob.GenerationID == "" {
		return Handle{}, domain.NewError(domain.KindProviderRejected, op, "generation id missing", nil)
	}
	p.opts.Logger.Debug().Str("attempt_id", req.AttemptID).Str("generation_id", job.SDGenerationJob.GenerationID).Msg("leonardo generation started")
	return Handle{ID: job.SDGenerationJob.GenerationID}, nil
}

// uploadInitImage registers an init image and posts the bytes to the
// presigned form it returns. Form fields go first, the file last.
func (p *Leonardo) uploadInitImage(ctx context.Context, img domain.EncodedImage) (string, error) {
	const op = "leonardo.upload"

	ext := pipeline.FormatForMime(img.MimeType)
	if ext == "jpeg" {
		ext = "jpg"
	}
	httpReq, err := newJSONRequest(ctx, http.MethodPost, p.opts.BaseURL+"/api/rest/v1/init-image", map[string]string{"extension": ext})
	if err != nil {
		return "", domain.NewError(domain.KindConfiguration, op, "build request", err)
	}
	p.authorize(httpReq)

	var init leonardoInitImage
	if err := doJSON(p.opts.Client, op, httpReq, &init); err != nil {
		return "", err
	}
	target := init.UploadInitImage
	if target.ID == "" || target.URL == "" {
		return "", domain.NewError(domain.KindProviderRejected, op, "init image response incomplete", nil)
	}

	fields := map[string]string{}
	if target.Fields != "" {
		if err := json.Unmarshal([]byte(target.Fields), &fields); err != nil {
			return "", domain.NewError(domain.KindProviderRejected, op, "init image fields are not a JSON object", err)
		}
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return "", domain.NewError(domain.KindDecode, op, "build form", err)
		}
	}
	part, err := w.CreateFormFile("file", "upload."+ext)
	if err != nil {
		return "", domain.NewError(domain.KindDecode, op, "build form", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return "", domain.NewError(domain.KindDecode, op, "build form", err)
	}
	if err := w.Close(); err != nil {
		return "", domain.NewError(domain.KindDecode, op, "build form", err)
	}

	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, &body)
	if err != nil {
		return "", domain.NewError(domain.KindProviderRejected, op, "invalid upload url", err)
	}
	uploadReq.Header.Set("Content-Type", w.FormDataContentType())
	if _, _, err := doRaw(p.opts.Client, op, uploadReq); err != nil {
		return "", err
	}
	return target.ID, nil
}

func (p *Leonardo) Poll(ctx context.Context, h Handle) (PollStatus, error) {
	const op = "leonardo.poll"
	if h.ID == "" {
		return PollStatus{}, domain.NewError(domain.KindConfiguration, op, "handle has no generation id", nil)
	}

	httpReq, err := newJSONRequest(ctx, http.MethodGet, p.opts.BaseURL+"/api/rest/v1/generations/"+url.PathEscape(h.ID), nil)
	if err != nil {
		return PollStatus{}, domain.NewError(domain.KindConfiguration, op, "build request", err)
	}
	p.authorize(httpReq)

	var gen leonardoGeneration
	if err := doJSON(p.opts.Client, op, httpReq, &gen); err != nil {
		return PollStatus{}, err
	}
	if gen.GenerationsByPK == nil {
		return PollStatus{State: PollPending}, nil
	}

	switch status := strings.ToUpper(gen.GenerationsByPK.Status); status {
	case "COMPLETE":
		for _, img := range gen.GenerationsByPK.GeneratedImages {
			if img.URL != "" {
				return PollStatus{State: PollSucceeded, Location: img.URL}, nil
			}
		}
		return PollStatus{State: PollFailed, Reason: "no images generated"}, nil
	case "FAILED":
		return PollStatus{State: PollFailed, Reason: "generation failed"}, nil
	default:
		return PollStatus{State: PollPending}, nil
	}
}

func (p *Leonardo) Fetch(ctx context.Context, location string) (domain.EncodedImage, error) {
	return fetchNoCache(ctx, p.opts.Client, p.opts.Now, "leonardo.fetch", location)
}

func (p *Leonardo) authorize(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.opts.APIKey))
}
