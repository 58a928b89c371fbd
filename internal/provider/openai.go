package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/pixel"
)

type OpenAIOptions struct {
	HTTPOptions
	APIKey      string
	BaseURL     string
	Model       string
	Size        string
	TargetSize  int
	Transformer pipeline.Transformer
}

// OpenAI calls the image edit endpoint once and post-processes the result
// into a transparent, nearest-scaled PNG.
type OpenAI struct {
	synchronous
	opts OpenAIOptions
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.Transformer == nil {
		return nil, fmt.Errorf("openai provider requires a transformer")
	}
	opts.HTTPOptions = opts.withDefaults()
	opts.BaseURL = trimBase(opts.BaseURL, "https://api.openai.com")
	if opts.Model == "" {
		opts.Model = "gpt-image-1"
	}
	if opts.Size == "" {
		opts.Size = "1024x1024"
	}
	if opts.TargetSize <= 0 {
		opts.TargetSize = 512
	}
	opts.Logger = opts.Logger.With().Str("provider", IDOpenAI).Logger()
	return &OpenAI{synchronous: synchronous{id: IDOpenAI}, opts: opts}, nil
}

func (*OpenAI) ID() string { return IDOpenAI }

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

func (p *OpenAI) Submit(ctx context.Context, req domain.GenerationRequest) (Handle, error) {
	const op = "openai.submit"
	if strings.TrimSpace(p.opts.APIKey) == "" {
		return Handle{}, missingKey(IDOpenAI)
	}

	body, contentType, err := p.editForm(req)
	if err != nil {
		return Handle{}, domain.NewError(domain.KindDecode, op, "build form", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/v1/images/edits", bytes.NewReader(body))
	if err != nil {
		return Handle{}, domain.NewError(domain.KindConfiguration, op, "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	var resp openAIImageResponse
	if err := doJSON(p.opts.Client, op, httpReq, &resp); err != nil {
		return Handle{}, err
	}
	if len(resp.Data) == 0 {
		return Handle{}, domain.NewError(domain.KindProviderRejected, op, "no image data in response", nil)
	}

	var raw domain.EncodedImage
	switch first := resp.Data[0]; {
	case first.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return Handle{}, domain.NewError(domain.KindProviderRejected, op, "invalid b64_json", err)
		}
		raw = domain.EncodedImage{Data: data, MimeType: domain.MimePNG}
	case first.URL != "":
		raw, err = fetchNoCache(ctx, p.opts.Client, p.opts.Now, "openai.fetch", first.URL)
		if err != nil {
			return Handle{}, err
		}
	default:
		return Handle{}, domain.NewError(domain.KindProviderRejected, op, "response has neither b64_json nor url", nil)
	}

	art, err := p.postProcess(ctx, raw)
	if err != nil {
		return Handle{}, err
	}
	p.opts.Logger.Debug().Str("attempt_id", req.AttemptID).Int("bytes", len(art.Data)).Msg("openai edit completed")
	return Handle{Artifact: &art}, nil
}

func (p *OpenAI) editForm(req domain.GenerationRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mime := req.Source.MimeType
	if mime == "" {
		mime = http.DetectContentType(req.Source.Data)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="image.%s"`, pipeline.FormatForMime(mime)))
	header.Set("Content-Type", mime)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Source.Data); err != nil {
		return nil, "", err
	}

	for _, field := range [][2]string{
		{"model", p.opts.Model},
		{"prompt", req.Prompt},
		{"size", p.opts.Size},
	} {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// postProcess strips the flat background and scales down with nearest
// sampling so pixel edges stay hard.
func (p *OpenAI) postProcess(ctx context.Context, raw domain.EncodedImage) (domain.EncodedImage, error) {
	buf, _, err := p.opts.Transformer.Decode(ctx, raw.Data)
	if err != nil {
		return domain.EncodedImage{}, domain.Classify("openai.postprocess", err)
	}
	cleared := pixel.RemoveBackground(buf, pixel.DefaultBackgroundTolerance)
	size := p.opts.TargetSize
	scaled, err := pixel.Resize(cleared, size, size, pixel.Nearest)
	if err != nil {
		return domain.EncodedImage{}, domain.NewError(domain.KindDecode, "openai.postprocess", "resize", err)
	}
	data, err := p.opts.Transformer.Encode(ctx, scaled, "png", 0)
	if err != nil {
		return domain.EncodedImage{}, domain.Classify("openai.postprocess", err)
	}
	return domain.EncodedImage{Data: data, MimeType: domain.MimePNG, Width: size, Height: size}, nil
}
