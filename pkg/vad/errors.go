package vad

import "errors"

// Sentinel errors for the boundary taxonomy. Every failing boundary operation
// wraps one of these so callers can classify failures with [errors.Is]; the
// numeric code mapping lives in the bridge package.
var (
	// ErrHandleNotFound is returned when a handle does not resolve to a live
	// session, including any use of a handle after Destroy.
	ErrHandleNotFound = errors.New("handle not found")

	// ErrNotInitialized is returned when an operation requires a prior
	// successful Init.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrAlreadyInitialized is returned by Init on a session that already has
	// an engine model. Re-initialization is rejected rather than replacing the
	// model, so the previous engine instance is never leaked.
	ErrAlreadyInitialized = errors.New("session already initialized")

	// ErrHostUnavailable is returned when the engine runtime is not bound or
	// the calling thread could not be attached to it.
	ErrHostUnavailable = errors.New("engine runtime unavailable")

	// ErrConfigRejected is returned when a Config fails validation.
	ErrConfigRejected = errors.New("configuration rejected")

	// ErrEngineInit wraps failures (including recovered panics) raised by the
	// underlying inference engine.
	ErrEngineInit = errors.New("engine initialization failed")

	// ErrInvalidArgument is returned for nil or zero-length buffers.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPlatformUnsupported is returned by engine stubs on builds without
	// inference support.
	ErrPlatformUnsupported = errors.New("platform unsupported: built without inference engine")
)

// ValidateConfig checks that cfg is coherent. All violations are reported in
// one joined error wrapping [ErrConfigRejected].
func ValidateConfig(cfg Config) error {
	var errs []error
	if cfg.PositiveSpeechThreshold <= 0 || cfg.PositiveSpeechThreshold > 1 {
		errs = append(errs, errors.New("positive_speech_threshold must be in (0.0, 1.0]"))
	}
	if cfg.NegativeSpeechThreshold < 0 || cfg.NegativeSpeechThreshold > cfg.PositiveSpeechThreshold {
		errs = append(errs, errors.New("negative_speech_threshold must be in [0.0, positive_speech_threshold]"))
	}
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		errs = append(errs, errors.New("sample_rate must be 8000 or 16000"))
	}
	if cfg.FrameSamples <= 0 {
		errs = append(errs, errors.New("frame_samples must be positive"))
	}
	if cfg.PreSpeechPadFrames < 0 || cfg.RedemptionFrames < 0 || cfg.MinSpeechFrames < 0 || cfg.EndSpeechPadFrames < 0 {
		errs = append(errs, errors.New("frame counts must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	errs = append([]error{ErrConfigRejected}, errs...)
	return errors.Join(errs...)
}
