package orchestrator

import (
	"context"

	"github.com/dunamismax/bitwear/internal/domain"
)

// Attempt is a handle on one running conversion.
type Attempt struct {
	ID           string
	Mode         string
	Provider     string
	VariantIndex int

	generation uint64
	done       chan struct{}
	result     domain.GenerationResult
}

// Done is closed once the attempt has finished, including when its result
// was discarded.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Result is valid after Done is closed.
func (a *Attempt) Result() domain.GenerationResult {
	<-a.done
	return a.result
}

// Wait blocks until the attempt finishes or ctx ends.
func (a *Attempt) Wait(ctx context.Context) (domain.GenerationResult, error) {
	select {
	case <-a.done:
		return a.result, nil
	case <-ctx.Done():
		return domain.GenerationResult{}, ctx.Err()
	}
}
