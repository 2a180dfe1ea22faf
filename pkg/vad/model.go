package vad

// Model is the frame-level speech probability engine behind a session. It is
// the boundary's view of the opaque inference collaborator: the bridge feeds
// it fixed-size frames and interprets the returned probabilities, nothing
// more.
//
// A Model is owned by exactly one session and is not safe for concurrent use;
// the session serializes calls to it.
type Model interface {
	// Infer returns the speech probability (0.0–1.0) for one frame of
	// normalized float32 samples in [-1, 1]. The frame length must match the
	// FrameSamples the model was created with.
	Infer(frame []float32) (float32, error)

	// Reset clears the model's internal state (RNN state, sample context).
	// Called when the audio stream is interrupted or restarted.
	Reset() error

	// Close releases all resources held by the model. The model must not be
	// used afterwards. Close is idempotent.
	Close() error
}

// ModelFactory creates engine models. Implementations live under pkg/engine;
// test code uses the mock subpackage.
//
// Implementations must be safe for concurrent use: sessions may be
// initialized from multiple goroutines.
type ModelFactory interface {
	// NewModel creates a model for the given configuration. modelPath points
	// at the engine's model file; engines with a bundled model accept an
	// empty path. Returns an error wrapping [ErrPlatformUnsupported] on
	// builds without inference support.
	NewModel(cfg Config, modelPath string) (Model, error)
}
