//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	codecOnce sync.Once
	codecMu   sync.Mutex
	codecUp   bool
)

// startCodec brings libvips up on first use. Source images are capped at
// 1024px, so a small operation cache is enough.
func startCodec() {
	codecOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   64 << 20,
			MaxCacheSize:  50,
		})
		codecMu.Lock()
		codecUp = true
		codecMu.Unlock()
	})
}

// Shutdown releases libvips. Binaries call it once on exit; transformers
// must not be used afterwards.
func Shutdown() {
	codecMu.Lock()
	defer codecMu.Unlock()
	if !codecUp {
		return
	}
	vips.Shutdown()
	codecUp = false
}

func newTransformer() (Transformer, error) {
	startCodec()
	return govipsTransformer{}, nil
}
