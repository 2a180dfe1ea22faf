// Package vad defines the shared model for the vadbridge boundary: the
// session configuration record, the tagged event variant delivered to
// callbacks, and the error taxonomy recovered at the boundary.
//
// The package is intentionally free of detection logic. The detection state
// machine lives in internal/detect; inference engines implement [Model] and
// are selected via a [ModelFactory]. External code holds values of this
// package's types but never a reference to internal session state.
package vad

// Config holds the detection thresholds and framing parameters for one VAD
// session. It is immutable once passed to Init; the boundary only transports
// it and never reinterprets individual fields after session setup.
type Config struct {
	// PositiveSpeechThreshold is the probability at or above which a frame is
	// classified as speech. Range (0.0, 1.0].
	PositiveSpeechThreshold float32 `yaml:"positive_speech_threshold"`

	// NegativeSpeechThreshold is the probability below which a frame inside a
	// speech segment counts towards ending it. Must be ≤ PositiveSpeechThreshold.
	NegativeSpeechThreshold float32 `yaml:"negative_speech_threshold"`

	// PreSpeechPadFrames is the number of frames preceding a speech start that
	// are prepended to the emitted segment.
	PreSpeechPadFrames int `yaml:"pre_speech_pad_frames"`

	// RedemptionFrames is the number of consecutive sub-threshold frames
	// tolerated before a speech segment is considered ended.
	RedemptionFrames int `yaml:"redemption_frames"`

	// MinSpeechFrames is the minimum number of speech frames for a segment to
	// count as real speech. Shorter segments are reported as a Misfire.
	MinSpeechFrames int `yaml:"min_speech_frames"`

	// SampleRate is the audio sample rate in Hz. Supported: 8000, 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSamples is the number of samples per detection frame
	// (512 at 16 kHz, 256 at 8 kHz for the Silero v6 model).
	FrameSamples int `yaml:"frame_samples"`

	// EndSpeechPadFrames is the number of frames appended after the detected
	// speech end.
	EndSpeechPadFrames int `yaml:"end_speech_pad_frames"`

	// Debug enables per-frame debug logging.
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the recommended configuration for the Silero v6
// model at 16 kHz. The values mirror the defaults of the reference C surface.
func DefaultConfig() Config {
	return Config{
		PositiveSpeechThreshold: 0.5,
		NegativeSpeechThreshold: 0.35,
		PreSpeechPadFrames:      3,
		RedemptionFrames:        24,
		MinSpeechFrames:         9,
		SampleRate:              16000,
		FrameSamples:            512,
		EndSpeechPadFrames:      3,
		Debug:                   false,
	}
}

// EventType enumerates the detection event kinds. The numeric values are the
// wire values of the original C enum and must not be reordered.
type EventType int32

const (
	EventInitialized     EventType = 0
	EventSpeechStart     EventType = 1
	EventSpeechEnd       EventType = 2
	EventFrameProcessed  EventType = 3
	EventRealSpeechStart EventType = 4
	EventMisfire         EventType = 5
	EventError           EventType = 6
	EventStopped         EventType = 7
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventInitialized:
		return "INITIALIZED"
	case EventSpeechStart:
		return "SPEECH_START"
	case EventSpeechEnd:
		return "SPEECH_END"
	case EventFrameProcessed:
		return "FRAME_PROCESSED"
	case EventRealSpeechStart:
		return "REAL_SPEECH_START"
	case EventMisfire:
		return "MISFIRE"
	case EventError:
		return "ERROR"
	case EventStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Event is one detection occurrence delivered synchronously to a registered
// callback. Only the payload fields matching Type are populated.
//
// Buffer ownership:
//
//   - Frame (EventFrameProcessed) is a borrow. It is valid only for the
//     duration of the callback invocation; receivers must copy it before
//     retaining.
//   - SpeechAudio (EventSpeechEnd) and Message (EventError) are owned by the
//     receiver after the callback returns. The dispatch bridge hands over a
//     fresh copy per delivery and never accesses it again, so receivers may
//     keep them indefinitely.
type Event struct {
	Type EventType

	// Probability is the speech probability of the processed frame (0.0–1.0).
	// Set for EventFrameProcessed.
	Probability float32

	// IsSpeech reports whether the processed frame was classified as speech.
	// Set for EventFrameProcessed.
	IsSpeech bool

	// Frame is the borrowed float32 sample buffer of the processed frame.
	// Set for EventFrameProcessed.
	Frame []float32

	// SpeechAudio is the owned PCM16 sample buffer of the completed speech
	// segment, including pre/end padding. Set for EventSpeechEnd.
	SpeechAudio []int16

	// DurationMs is the speech segment duration in milliseconds.
	// Set for EventSpeechEnd.
	DurationMs int32

	// Message is the owned error description. Set for EventError.
	Message string

	// Code is the numeric error code. Set for EventError.
	Code int32
}

// Callback receives detection events for one session. HandleEvent is invoked
// synchronously on the thread producing the event, in production order for
// the session; it must not block and must honour the buffer ownership rules
// documented on [Event].
type Callback interface {
	HandleEvent(Event)
}

// CallbackFunc adapts a plain function to the [Callback] interface.
type CallbackFunc func(Event)

// HandleEvent calls f(ev).
func (f CallbackFunc) HandleEvent(ev Event) { f(ev) }
