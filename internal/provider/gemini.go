package provider

import (
	"encoding/base64"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dunamismax/bitwear/internal/domain"
)

type GeminiOptions struct {
	HTTPOptions
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
}

// Gemini asks generateContent for an image-only response to the source photo
// and the prompt.
type Gemini struct {
	synchronous
	opts GeminiOptions
}

func NewGemini(opts GeminiOptions) *Gemini {
	opts.HTTPOptions = opts.withDefaults()
	opts.BaseURL = trimBase(opts.BaseURL, "https://generativelanguage.googleapis.com")
	if strings.TrimSpace(opts.APIVersion) == "" {
		opts.APIVersion = "v1beta"
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = "gemini-2.5-flash-image"
	}
	opts.Logger = opts.Logger.With().Str("provider", IDGemini).Logger()
	return &Gemini{synchronous: synchronous{id: IDGemini}, opts: opts}
}

func (*Gemini) ID() string { return IDGemini }

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inlineData,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func (p *Gemini) Submit(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	const op = "gemini.submit"
	if strings.TrimSpace(p.opts.APIKey) == "" {
		return Handle{}, missingKey(IDGemini)
	}

	text := req.Prompt
	if req.NegativePrompt != "" {
		text += "\n\nAvoid: " + req.NegativePrompt
	}
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: text},
				{InlineData: &geminiBlob{MimeType: req.Source.MimeType, Data: base64.StdEncoding.EncodeToString(req.Source.Data)}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", p.opts.BaseURL, p.opts.APIVersion, url.PathEscape(p.opts.Model))
	httpReq, err := newJSONRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return Handle{}, domain.NewError(domain.KindConfiguration, op, "build request", err)
	}
	httpReq.Header.Set("x-goog-api-key", p.opts.APIKey)

	var resp geminiResponse
	if err := doJSON(p.opts.Client, op, httpReq, &resp); err != nil {
		return Handle{}, err
	}

	finish := ""
	for _, c := range resp.Candidates {
		finish = c.FinishReason
		for _, part := range c.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return Handle{}, domain.NewError(domain.KindProviderRejected, op, "invalid inline image", err)
			}
			p.opts.Logger.Debug().Str("attempt_id", req.AttemptID).Int("bytes", len(data)).Msg("gemini image received")
			return Handle{Artifact: &domain.EncodedImage{Data: data, MimeType: sniffMime(part.InlineData.MimeType, data)}}, nil
		}
	}

	msg := "no image in response"
	if finish != "" {
		msg += " (finish reason " + finish + ")"
	}
	return Handle{}, domain.NewError(domain.KindProviderRejected, op, msg, nil)
}
