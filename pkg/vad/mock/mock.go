// Package mock provides test doubles for the vad package interfaces.
//
// Use Factory to verify that models are created with the expected Config.
// Use Model to script per-frame probabilities and inspect the frames that
// were submitted for inference. Use CallbackRecorder to capture delivered
// events in order.
//
// Example:
//
//	model := mock.NewModelWithSequence([]float32{0.9, 0.9, 0.1})
//	factory := &mock.Factory{Model: model}
//	rec := &mock.CallbackRecorder{}
package mock

import (
	"sync"

	"github.com/MrWong99/vadbridge/pkg/vad"
)

// NewModelCall records a single invocation of Factory.NewModel.
type NewModelCall struct {
	// Cfg is the Config passed to NewModel.
	Cfg vad.Config

	// ModelPath is the model path passed to NewModel.
	ModelPath string
}

// Factory is a mock implementation of vad.ModelFactory.
type Factory struct {
	mu sync.Mutex

	// Model is the Model returned by NewModel. If nil, NewModel returns a new
	// default Model.
	Model vad.Model

	// NewModelErr, if non-nil, is returned as the error from NewModel.
	NewModelErr error

	// NewModelCalls records every call to NewModel in order.
	NewModelCalls []NewModelCall
}

// NewModel records the call and returns Model, NewModelErr.
func (f *Factory) NewModel(cfg vad.Config, modelPath string) (vad.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NewModelCalls = append(f.NewModelCalls, NewModelCall{Cfg: cfg, ModelPath: modelPath})
	if f.NewModelErr != nil {
		return nil, f.NewModelErr
	}
	if f.Model != nil {
		return f.Model, nil
	}
	return &Model{}, nil
}

// Model is a mock implementation of vad.Model. The zero value returns
// probability 0 for every frame.
type Model struct {
	mu sync.Mutex

	// InferFunc is called when Infer is invoked. If nil, Infer returns 0.
	InferFunc func(frame []float32) (float32, error)

	// InferCalls records a copy of every frame passed to Infer.
	InferCalls [][]float32

	// ResetCalls counts calls to Reset.
	ResetCalls int

	// CloseCalls counts calls to Close.
	CloseCalls int
}

// NewModelWithProb returns a Model that reports a fixed probability for
// every frame.
func NewModelWithProb(prob float32) *Model {
	return &Model{
		InferFunc: func([]float32) (float32, error) { return prob, nil },
	}
}

// NewModelWithSequence returns a Model that reports the given probabilities
// in order, repeating the last value once the sequence is exhausted.
func NewModelWithSequence(probs []float32) *Model {
	idx := 0
	return &Model{
		InferFunc: func([]float32) (float32, error) {
			if len(probs) == 0 {
				return 0, nil
			}
			prob := probs[idx]
			if idx < len(probs)-1 {
				idx++
			}
			return prob, nil
		},
	}
}

// Infer records a copy of frame and delegates to InferFunc.
func (m *Model) Infer(frame []float32) (float32, error) {
	cp := make([]float32, len(frame))
	copy(cp, frame)
	m.mu.Lock()
	m.InferCalls = append(m.InferCalls, cp)
	fn := m.InferFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(frame)
	}
	return 0, nil
}

// Reset increments ResetCalls.
func (m *Model) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCalls++
	return nil
}

// Close increments CloseCalls.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}

// InferCallCount returns the number of Infer invocations. Thread-safe.
func (m *Model) InferCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InferCalls)
}

// CallbackRecorder is a vad.Callback that records delivered events. Frame
// buffers are copied at delivery time because FrameProcessed frames are only
// borrowed for the duration of the callback.
type CallbackRecorder struct {
	mu     sync.Mutex
	events []vad.Event
}

// HandleEvent records ev.
func (r *CallbackRecorder) HandleEvent(ev vad.Event) {
	if ev.Frame != nil {
		cp := make([]float32, len(ev.Frame))
		copy(cp, ev.Frame)
		ev.Frame = cp
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a snapshot of the recorded events in delivery order.
func (r *CallbackRecorder) Events() []vad.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]vad.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns just the event types in delivery order.
func (r *CallbackRecorder) Types() []vad.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]vad.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

var (
	_ vad.ModelFactory = (*Factory)(nil)
	_ vad.Model        = (*Model)(nil)
	_ vad.Callback     = (*CallbackRecorder)(nil)
)
