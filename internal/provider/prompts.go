package provider

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Rand is the slice of math/rand/v2 the prompt chooser needs. Tests pass a
// seeded *rand.Rand or a fixed stub.
type Rand interface {
	IntN(n int) int
}

// PromptSet holds the rotating prompt variants, the shared negative prompt
// and per-product overrides.
type PromptSet struct {
	Variants  []string          `yaml:"variants"`
	Negative  string            `yaml:"negative"`
	Overrides map[string]string `yaml:"overrides"`
}

// PromptChoice is the text sent for one attempt. Index always refers to
// Variants, even when an override supplied the text.
type PromptChoice struct {
	Index      int
	Text       string
	Negative   string
	Overridden bool
}

// DefaultPromptSet parses the embedded prompt document.
func DefaultPromptSet() (PromptSet, error) {
	return ParsePromptSet(defaultPrompts)
}

// LoadPromptSet reads path, or the embedded document when path is empty.
func LoadPromptSet(path string) (PromptSet, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPromptSet()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PromptSet{}, fmt.Errorf("read prompts file: %w", err)
	}
	return ParsePromptSet(data)
}

func ParsePromptSet(data []byte) (PromptSet, error) {
	var set PromptSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return PromptSet{}, fmt.Errorf("parse prompts: %w", err)
	}

	variants := set.Variants[:0]
	for _, v := range set.Variants {
		if v = strings.TrimSpace(v); v != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		return PromptSet{}, errors.New("prompt set has no variants")
	}
	set.Variants = variants
	set.Negative = strings.TrimSpace(set.Negative)
	return set, nil
}

// Choose picks a variant uniformly at random. An override for productType
// replaces the text but not the reported index.
func (p PromptSet) Choose(r Rand, productType string) PromptChoice {
	if len(p.Variants) == 0 {
		return PromptChoice{Index: -1, Negative: p.Negative}
	}

	idx := 0
	if r != nil && len(p.Variants) > 1 {
		idx = r.IntN(len(p.Variants))
	}

	choice := PromptChoice{Index: idx, Text: p.Variants[idx], Negative: p.Negative}
	if override := strings.TrimSpace(p.Overrides[strings.ToLower(productType)]); override != "" {
		choice.Text = override
		choice.Overridden = true
	}
	return choice
}
