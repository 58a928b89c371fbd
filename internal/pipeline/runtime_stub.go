//go:build !govips || !cgo

package pipeline

// Shutdown is a no-op for the pure Go codec.
func Shutdown() {}

func newTransformer() (Transformer, error) {
	return stdlibTransformer{}, nil
}
