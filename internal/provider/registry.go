package provider

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/config"
	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/pixel"
)

// Registry maps provider ids to adapters.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

// Get returns a ConfigurationError for unknown ids.
func (r *Registry) Get(id string) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, domain.NewError(domain.KindConfiguration, "provider", fmt.Sprintf("provider %q is not registered", id), nil)
	}
	return p, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FromConfig registers every adapter. Remote adapters without credentials
// are still registered and fail their first Submit with a
// ConfigurationError, so the caller can offer the supply-own path.
func FromConfig(cfg config.Config, processor *pipeline.Processor, client *http.Client, logger zerolog.Logger) (*Registry, error) {
	shared := HTTPOptions{Client: client, Logger: logger.With().Str("component", "provider").Logger()}
	p := cfg.Providers

	openAI, err := NewOpenAI(OpenAIOptions{
		HTTPOptions: shared,
		APIKey:      p.OpenAI.APIKey,
		BaseURL:     p.OpenAI.BaseURL,
		Model:       p.OpenAI.Model,
		Size:        p.OpenAI.Size,
		TargetSize:  p.OpenAI.TargetSize,
		Transformer: processor.Transformer(),
	})
	if err != nil {
		return nil, err
	}

	filter, err := NewFilter(processor, FilterOptionsFromConfig(cfg.Filter))
	if err != nil {
		return nil, fmt.Errorf("filter provider: %w", err)
	}
	demo, err := NewDemo(processor.Transformer())
	if err != nil {
		return nil, err
	}

	return NewRegistry(
		openAI,
		NewGemini(GeminiOptions{
			HTTPOptions: shared,
			APIKey:      p.Gemini.APIKey,
			BaseURL:     p.Gemini.BaseURL,
			APIVersion:  p.Gemini.APIVersion,
			Model:       p.Gemini.Model,
		}),
		NewReplicate(ReplicateOptions{
			HTTPOptions: shared,
			APIKey:      p.Replicate.APIKey,
			BaseURL:     p.Replicate.BaseURL,
			Version:     p.Replicate.Version,
		}),
		NewLeonardo(LeonardoOptions{
			HTTPOptions:   shared,
			APIKey:        p.Leonardo.APIKey,
			BaseURL:       p.Leonardo.BaseURL,
			ModelID:       p.Leonardo.ModelID,
			InitStrength:  p.Leonardo.InitStrength,
			GuidanceScale: p.Leonardo.GuidanceScale,
			Width:         p.Leonardo.Width,
			Height:        p.Leonardo.Height,
		}),
		filter,
		demo,
	), nil
}

// FilterOptionsFromConfig overlays configured filter values on the defaults.
func FilterOptionsFromConfig(cfg config.FilterConfig) pixel.Options {
	opts := pixel.FilterOptions()
	if cfg.TargetSize > 0 {
		opts.TargetSize = cfg.TargetSize
	}
	if cfg.Levels > 0 {
		opts.Levels = cfg.Levels
	}
	if cfg.Contrast > 0 {
		opts.Contrast = cfg.Contrast
	}
	if cfg.OutlineThreshold > 0 {
		opts.OutlineThreshold = cfg.OutlineThreshold
	}
	return opts
}
