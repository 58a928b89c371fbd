package pixel

import (
	"fmt"
	"math"
)

// Options configures Pixelate.
type Options struct {
	TargetSize       int      `json:"target_size" yaml:"target_size"`
	Levels           int      `json:"levels" yaml:"levels"`
	Contrast         float64  `json:"contrast" yaml:"contrast"`
	OutlineThreshold int      `json:"outline_threshold" yaml:"outline_threshold"`
	Resample         Resample `json:"resample" yaml:"resample"`
}

// FilterOptions is the local filter look: 64px, 16 levels, neutral contrast.
func FilterOptions() Options {
	return Options{TargetSize: 64, Levels: 16, Contrast: 1.0, OutlineThreshold: 50, Resample: Smooth}
}

// HybridOptions is the coarse pre-pass sent to an AI cleanup model.
func HybridOptions() Options {
	return Options{TargetSize: 24, Levels: 16, Contrast: 1.5, OutlineThreshold: 50, Resample: Nearest}
}

func (o Options) Validate() error {
	if o.TargetSize < 1 {
		return ErrInvalidSize
	}
	if o.Levels < 2 || o.Levels > 256 {
		return fmt.Errorf("%w: %d", ErrInvalidLevels, o.Levels)
	}
	if o.Contrast <= 0 || math.IsNaN(o.Contrast) {
		return fmt.Errorf("%w: %v", ErrInvalidFactor, o.Contrast)
	}
	return nil
}

// Pixelate runs resize, quantize, contrast and outline in that order. Any
// failing stage aborts the whole run.
func Pixelate(buf Buffer, opts Options) (Buffer, error) {
	if err := opts.Validate(); err != nil {
		return Buffer{}, err
	}

	out, err := ResizeToSquare(buf, opts.TargetSize, opts.Resample)
	if err != nil {
		return Buffer{}, fmt.Errorf("resize: %w", err)
	}
	out, err = QuantizeColors(out, opts.Levels)
	if err != nil {
		return Buffer{}, fmt.Errorf("quantize: %w", err)
	}
	out, err = BoostContrast(out, opts.Contrast)
	if err != nil {
		return Buffer{}, fmt.Errorf("contrast: %w", err)
	}
	return ExtractOutlines(out, opts.OutlineThreshold), nil
}
