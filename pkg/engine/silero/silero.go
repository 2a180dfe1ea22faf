//go:build onnx

// Package silero runs the Silero VAD model through ONNX Runtime. Builds
// without the onnx tag get a stub whose operations fail with
// [vad.ErrPlatformUnsupported], so the boundary stays linkable everywhere.
package silero

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/vadbridge/pkg/vad"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// stateLen is the flattened LSTM state shape (2, 1, 128) of the model.
	stateLen = 2 * 1 * 128
	// contextLen is the number of trailing samples carried between frames.
	contextLen = 64
)

// Runtime binds the process-wide ONNX Runtime environment. It satisfies the
// host-runtime contract of the boundary: Bind once at startup, Release at
// shutdown, both idempotent at the manager level.
type Runtime struct {
	// LibraryPath points at libonnxruntime. Empty means auto-detection via
	// ONNXRUNTIME_LIB, the system library paths, and LD_LIBRARY_PATH.
	LibraryPath string
}

// Bind loads the shared library and initializes the ONNX environment.
func (r Runtime) Bind() error {
	path := r.LibraryPath
	if path == "" {
		path = findLibrary()
	}
	if path != "" {
		ort.SetSharedLibraryPath(path)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("silero: initialize onnxruntime: %w", err)
	}
	return nil
}

// Release destroys the ONNX environment.
func (r Runtime) Release() error {
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("silero: destroy onnxruntime: %w", err)
	}
	return nil
}

// findLibrary probes the usual installation locations for the ONNX Runtime
// shared library.
func findLibrary() string {
	paths := []string{
		os.Getenv("ONNXRUNTIME_LIB"),
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/onnxruntime/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
		for _, dir := range filepath.SplitList(ldPath) {
			paths = append(paths, filepath.Join(dir, "libonnxruntime.so"))
		}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Factory creates Silero models. The zero value is ready to use.
type Factory struct{}

var _ vad.ModelFactory = Factory{}

// NewModel loads the Silero VAD model from modelPath. The runtime must be
// bound first.
func (Factory) NewModel(cfg vad.Config, modelPath string) (vad.Model, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero: model path must not be empty")
	}

	m := &Model{
		sampleRate:  cfg.SampleRate,
		inputNames:  []string{"input", "state", "sr"},
		outputNames: []string{"output", "stateN"},
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("silero: create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("silero: set graph optimization level: %w", err)
	}
	// The model is tiny; a single thread beats the scheduling overhead.
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: set inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, m.inputNames, m.outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	m.session = session
	return m, nil
}

// Model is one Silero VAD inference session. It carries the model's LSTM
// state and a 64-sample context window between frames, so consecutive frames
// of one stream must go through the same model.
type Model struct {
	session *ort.DynamicAdvancedSession

	sampleRate int

	state      [stateLen]float32
	ctx        [contextLen]float32
	currSample int

	inputNames  []string
	outputNames []string
}

var _ vad.Model = (*Model)(nil)

// Infer returns the speech probability for one frame of normalized float32
// samples.
func (m *Model) Infer(frame []float32) (float32, error) {
	if m.session == nil {
		return 0, fmt.Errorf("silero: model is closed")
	}

	// Prepend the context carried over from the previous frame, except on
	// the very first inference of a stream.
	pcm := frame
	if m.currSample > 0 {
		pcm = append(m.ctx[:], frame...)
	}
	if len(frame) >= contextLen {
		copy(m.ctx[:], frame[len(frame)-contextLen:])
	}
	m.currSample += len(frame)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(pcm))), pcm)
	if err != nil {
		return 0, fmt.Errorf("silero: create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), m.state[:])
	if err != nil {
		return 0, fmt.Errorf("silero: create state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(m.sampleRate)})
	if err != nil {
		return 0, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("silero: create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		return 0, fmt.Errorf("silero: create stateN tensor: %w", err)
	}
	defer stateNTensor.Destroy()

	inputs := []ort.Value{inputTensor, stateTensor, srTensor}
	outputs := []ort.Value{outputTensor, stateNTensor}
	if err := m.session.Run(inputs, outputs); err != nil {
		return 0, fmt.Errorf("silero: run inference: %w", err)
	}

	copy(m.state[:], stateNTensor.GetData())

	out := outputTensor.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("silero: empty inference output")
	}
	return out[0], nil
}

// Reset clears the LSTM state and sample context for a new audio stream.
func (m *Model) Reset() error {
	clear(m.state[:])
	clear(m.ctx[:])
	m.currSample = 0
	return nil
}

// Close destroys the inference session. Idempotent.
func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	if err := m.session.Destroy(); err != nil {
		return fmt.Errorf("silero: destroy session: %w", err)
	}
	m.session = nil
	return nil
}
