// Package energy implements a dependency-free probability model based on
// frame RMS energy. It is not a real voice activity detector — any loud
// noise counts as speech — but it runs everywhere, needs no model file, and
// gives CI and debug builds a deterministic engine with the same contract as
// the ONNX one.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/vadbridge/pkg/vad"
)

// DefaultFloor is the RMS level at which the reported probability is 0.5.
// Normal conversational speech on a normalized [-1, 1] stream sits well
// above it.
const DefaultFloor = 0.05

// Factory creates energy models. The zero value is ready to use.
type Factory struct {
	// Floor overrides [DefaultFloor] when positive.
	Floor float64
}

var _ vad.ModelFactory = Factory{}

// NewModel creates an energy model. modelPath is ignored; there is no model
// file.
func (f Factory) NewModel(cfg vad.Config, _ string) (vad.Model, error) {
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("energy: frame_samples must be positive, got %d", cfg.FrameSamples)
	}
	floor := f.Floor
	if floor <= 0 {
		floor = DefaultFloor
	}
	return &Model{frameSamples: cfg.FrameSamples, floor: floor}, nil
}

// Model maps frame RMS energy onto a pseudo speech probability
// rms / (rms + floor), which is 0 for silence and approaches 1 for
// full-scale input.
type Model struct {
	frameSamples int
	floor        float64
}

var _ vad.Model = (*Model)(nil)

// Infer returns the energy probability for one frame.
func (m *Model) Infer(frame []float32) (float32, error) {
	if len(frame) != m.frameSamples {
		return 0, fmt.Errorf("energy: frame has %d samples, want %d", len(frame), m.frameSamples)
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return float32(rms / (rms + m.floor)), nil
}

// Reset is a no-op; the model carries no state between frames.
func (m *Model) Reset() error { return nil }

// Close is a no-op and idempotent.
func (m *Model) Close() error { return nil }
