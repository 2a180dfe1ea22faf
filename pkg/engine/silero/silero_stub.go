//go:build !onnx

// Package silero runs the Silero VAD model through ONNX Runtime. This is the
// stub variant for builds without the onnx tag: the types exist and link, but
// every operation fails with [vad.ErrPlatformUnsupported].
package silero

import (
	"fmt"

	"github.com/MrWong99/vadbridge/pkg/vad"
)

// Runtime is the stub host runtime. Bind always fails, so a bridge
// constructed with it reports unavailability at startup instead of on the
// first Init.
type Runtime struct {
	// LibraryPath is accepted for interface parity and ignored.
	LibraryPath string
}

// Bind fails with [vad.ErrPlatformUnsupported].
func (Runtime) Bind() error {
	return fmt.Errorf("silero: %w", vad.ErrPlatformUnsupported)
}

// Release is a no-op.
func (Runtime) Release() error { return nil }

// Factory is the stub model factory.
type Factory struct{}

var _ vad.ModelFactory = Factory{}

// NewModel fails with [vad.ErrPlatformUnsupported].
func (Factory) NewModel(vad.Config, string) (vad.Model, error) {
	return nil, fmt.Errorf("silero: %w", vad.ErrPlatformUnsupported)
}
