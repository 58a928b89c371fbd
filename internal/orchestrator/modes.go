package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/pixel"
	"github.com/dunamismax/bitwear/internal/provider"
)

const (
	ModeOpenAI    = "openai"
	ModeGemini    = "gemini"
	ModeReplicate = "replicate"
	ModeHybrid    = "hybrid"
	ModeLeonardo  = "leonardo"
	ModeFilter    = "filter"
	ModeDemo      = "demo"
)

// Mode binds a user-facing conversion mode to a provider and its polling
// schedule. Budgeted modes draw retries from the per-session attempt budget;
// the rest regenerate freely until approval.
type Mode struct {
	Name         string
	ProviderID   string
	PollInterval time.Duration
	MaxPolls     int
	Preprocess   *pixel.Options
	Budgeted     bool
}

func (m Mode) Async() bool {
	return m.MaxPolls > 0
}

// DefaultModes returns a fresh copy of the built-in mode table.
func DefaultModes() map[string]Mode {
	hybrid := pixel.HybridOptions()
	return map[string]Mode{
		ModeOpenAI:    {Name: ModeOpenAI, ProviderID: provider.IDOpenAI},
		ModeGemini:    {Name: ModeGemini, ProviderID: provider.IDGemini},
		ModeReplicate: {Name: ModeReplicate, ProviderID: provider.IDReplicate, PollInterval: 2 * time.Second, MaxPolls: 40},
		ModeHybrid:    {Name: ModeHybrid, ProviderID: provider.IDReplicate, PollInterval: 3 * time.Second, MaxPolls: 30, Preprocess: &hybrid},
		ModeLeonardo:  {Name: ModeLeonardo, ProviderID: provider.IDLeonardo, PollInterval: 2 * time.Second, MaxPolls: 60},
		ModeFilter:    {Name: ModeFilter, ProviderID: provider.IDFilter, Budgeted: true},
		ModeDemo:      {Name: ModeDemo, ProviderID: provider.IDDemo, Budgeted: true},
	}
}

// ModeNames lists a mode table in stable order.
func ModeNames(modes map[string]Mode) []string {
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupMode(modes map[string]Mode, name string) (Mode, error) {
	m, ok := modes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Mode{}, domain.NewError(domain.KindConfiguration, "mode", fmt.Sprintf("unknown conversion mode %q", name), nil)
	}
	return m, nil
}
