// Package bridge exposes the flat boundary API of vadbridge: opaque session
// handles, lifecycle operations, audio submission, and callback registration.
//
// Every operation resolves its handle through the session registry, recovers
// all failures into Go errors from the pkg/vad taxonomy, and records a
// human-readable cause on the session so callers polling [Bridge.LastError]
// are never left without detail. Engine panics are caught at this boundary
// and converted to errors; nothing unwinds into the caller.
//
// The state machine is Created → Initialized → Listening ⇄ Stopped, with
// Destroyed terminal and reachable from everywhere. Init is only legal from
// Created: re-initialization is rejected with [vad.ErrAlreadyInitialized]
// rather than silently replacing (and leaking) the previous engine model.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vadbridge/internal/detect"
	"github.com/MrWong99/vadbridge/internal/dispatch"
	"github.com/MrWong99/vadbridge/internal/host"
	"github.com/MrWong99/vadbridge/internal/observe"
	"github.com/MrWong99/vadbridge/internal/registry"
	"github.com/MrWong99/vadbridge/pkg/engine/energy"
	"github.com/MrWong99/vadbridge/pkg/vad"
)

// Handle is the opaque session identifier held by foreign callers. Handles
// are never reused; any use after Destroy fails with
// [vad.ErrHandleNotFound].
type Handle uint64

// unknownHandleError is the fixed LastError sentinel for handles that do not
// resolve, so the error channel is never silently empty.
const unknownHandleError = "unknown handle"

// Bridge is the boundary instance. All methods are safe for concurrent use;
// operations on distinct sessions never serialize against each other.
type Bridge struct {
	reg     *registry.Registry
	factory vad.ModelFactory
	host    *host.Manager
	disp    *dispatch.Dispatcher
	metrics *observe.Metrics
	log     *slog.Logger
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithModelFactory selects the inference engine used by Init. The default is
// the pure-Go energy engine.
func WithModelFactory(f vad.ModelFactory) Option {
	return func(b *Bridge) { b.factory = f }
}

// WithRuntime selects the host runtime the bridge binds at construction.
// Engines backed by a native runtime pass their runtime here; the default is
// [host.StaticRuntime], which needs no binding.
func WithRuntime(rt host.Runtime) Option {
	return func(b *Bridge) { b.host = host.NewManager(rt) }
}

// WithMetrics installs the metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithLogger installs the logger. The default is [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// New creates a bridge and binds its host runtime. A failed bind is returned
// immediately: the bridge follows the resolve-once-at-startup discipline, so
// a missing native runtime fails loudly here instead of on the first Init.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		reg:     registry.New(),
		factory: energy.Factory{},
		host:    host.NewManager(host.StaticRuntime{}),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	b.disp = dispatch.New(b.metrics, b.log)

	if err := b.host.Bind(); err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	return b, nil
}

// Close releases the host runtime. All sessions should be destroyed first;
// sessions surviving Close fail their next engine call with
// [vad.ErrHostUnavailable].
func (b *Bridge) Close() error {
	return b.host.Release()
}

// Create allocates a new session in state Created and returns its handle.
// Create itself never fails; the handle becomes useful after Init.
func (b *Bridge) Create() Handle {
	s := b.reg.Create()
	b.metrics.ActiveSessions.Add(context.Background(), 1)
	b.log.Debug("session created", slog.Uint64("session", s.ID()))
	return Handle(s.ID())
}

// Destroy tears the session down: the handle stops resolving, the callback
// registration is cleared, and the engine model is released. Destroy is legal
// from any state and idempotent; a second Destroy of the same handle is a
// no-op. Deliveries already past their callback snapshot complete against the
// still-allocated record; later ones drop.
func (b *Bridge) Destroy(h Handle) {
	s := b.reg.Remove(uint64(h))
	if s == nil {
		return
	}
	b.metrics.ActiveSessions.Add(context.Background(), -1)

	var det *detect.Detector
	s.WithLock(func() {
		det = s.DetectorLocked()
		s.SetDetectorLocked(nil)
	})
	if det == nil {
		return
	}
	err := b.host.WithContext(func() error {
		return det.Close()
	})
	if err != nil {
		b.log.Warn("engine release failed during destroy",
			slog.Uint64("session", s.ID()), slog.Any("error", err))
	}
	b.log.Debug("session destroyed", slog.Uint64("session", s.ID()))
}

// Init configures the session and creates its engine model. Only legal from
// Created; on success the session moves to Initialized and an INITIALIZED
// event is delivered. On failure the session state is unchanged and the cause
// is retrievable via LastError. modelPath points at the engine's model file;
// engines with a bundled model accept an empty path.
func (b *Bridge) Init(h Handle, cfg vad.Config, modelPath string) error {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return err
	}

	if err := vad.ValidateConfig(cfg); err != nil {
		s.SetLastError("init: %v", err)
		return fmt.Errorf("bridge: %w", err)
	}

	var model vad.Model
	buildErr := b.host.WithContext(func() error {
		var err error
		model, err = b.newModelRecovered(cfg, modelPath)
		return err
	})

	var initErr error
	s.WithLock(func() {
		switch s.StateLocked() {
		case registry.StateCreated:
		case registry.StateDestroyed:
			initErr = fmt.Errorf("bridge: %w", vad.ErrHandleNotFound)
		default:
			initErr = fmt.Errorf("bridge: %w", vad.ErrAlreadyInitialized)
		}
		if initErr == nil && buildErr != nil {
			initErr = fmt.Errorf("bridge: %w", buildErr)
		}
		if initErr != nil {
			s.SetLastErrorLocked("init: %v", initErr)
			return
		}
		s.SetDetectorLocked(detect.New(model, cfg))
		s.SetStateLocked(registry.StateInitialized)
	})
	if initErr != nil {
		// A model built for a session that cannot accept it must not leak.
		if model != nil {
			_ = b.host.WithContext(model.Close)
		}
		b.recordEngineError(initErr, "init")
		return initErr
	}

	b.log.Info("session initialized",
		slog.Uint64("session", s.ID()),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("frame_samples", cfg.FrameSamples))
	b.disp.Deliver(s, []vad.Event{{Type: vad.EventInitialized}})
	return nil
}

// newModelRecovered builds a model, converting engine panics into
// [vad.ErrEngineInit] so they never unwind across the boundary.
func (b *Bridge) newModelRecovered(cfg vad.Config, modelPath string) (model vad.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("engine panic during init", slog.Any("panic", r))
			model, err = nil, fmt.Errorf("engine panic: %v: %w", r, vad.ErrEngineInit)
		}
	}()
	model, err = b.factory.NewModel(cfg, modelPath)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, vad.ErrEngineInit)
	}
	return model, nil
}

// SetCallback registers cb as the session's event receiver, replacing any
// previous registration. Passing nil is equivalent to InvalidateCallback.
func (b *Bridge) SetCallback(h Handle, cb vad.Callback) error {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return err
	}
	s.SetCallback(cb)
	return nil
}

// InvalidateCallback clears the session's callback registration. Deliveries
// whose snapshot was already taken complete; later events drop. The session
// itself keeps running.
func (b *Bridge) InvalidateCallback(h Handle) error {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return err
	}
	s.InvalidateCallback()
	return nil
}

// Start moves the session to Listening. Legal from Initialized and Stopped;
// calling Start while already Listening is a no-op returning success. Start
// before Init fails with [vad.ErrNotInitialized].
func (b *Bridge) Start(h Handle) error {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return err
	}

	var startErr error
	var started bool
	s.WithLock(func() {
		switch s.StateLocked() {
		case registry.StateInitialized, registry.StateStopped:
			s.SetStateLocked(registry.StateListening)
			started = true
		case registry.StateListening:
		default:
			startErr = fmt.Errorf("bridge: start from %v: %w", s.StateLocked(), vad.ErrNotInitialized)
			s.SetLastErrorLocked("start: %v", startErr)
		}
	})
	if startErr != nil {
		return startErr
	}
	if started {
		b.metrics.ListeningSessions.Add(context.Background(), 1)
		b.log.Debug("session listening", slog.Uint64("session", s.ID()))
	}
	return nil
}

// Stop moves a Listening session to Stopped and delivers a STOPPED event.
// Detector state is kept: a later Start resumes the stream where it left
// off, and an open speech segment stays open until ForceEndSpeech or Reset.
// Stop on a session that is not Listening is a no-op.
func (b *Bridge) Stop(h Handle) error {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return err
	}

	var stopped bool
	s.WithLock(func() {
		if s.StateLocked() == registry.StateListening {
			s.SetStateLocked(registry.StateStopped)
			stopped = true
		}
	})
	if stopped {
		b.metrics.ListeningSessions.Add(context.Background(), -1)
		b.log.Debug("session stopped", slog.Uint64("session", s.ID()))
		b.disp.Deliver(s, []vad.Event{{Type: vad.EventStopped}})
	}
	return nil
}

// ProcessAudio submits normalized float32 samples to the session's detector
// and delivers the resulting events on the calling goroutine. The session
// must be initialized but does not need to be Listening: direct-feed callers
// may skip Start entirely and push buffers themselves.
//
// Nil or empty buffers fail with [vad.ErrInvalidArgument]. Engine failures
// are recovered, recorded on the session, and additionally delivered as an
// ERROR event so purely callback-driven receivers observe them too.
func (b *Bridge) ProcessAudio(h Handle, samples []float32) error {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		err := fmt.Errorf("bridge: empty sample buffer: %w", vad.ErrInvalidArgument)
		s.SetLastError("process_audio: %v", err)
		return err
	}

	var events []vad.Event
	var procErr error
	start := time.Now()
	s.WithLock(func() {
		det := s.DetectorLocked()
		if det == nil {
			procErr = fmt.Errorf("bridge: %w", vad.ErrNotInitialized)
			s.SetLastErrorLocked("process_audio: %v", procErr)
			return
		}
		hostErr := b.host.WithContext(func() error {
			var err error
			events, err = b.processRecovered(det, samples)
			return err
		})
		if hostErr != nil {
			procErr = fmt.Errorf("bridge: %w", hostErr)
			s.SetLastErrorLocked("process_audio: %v", procErr)
		}
	})

	ctx := context.Background()
	b.metrics.FrameDuration.Record(ctx, time.Since(start).Seconds())
	for _, ev := range events {
		switch ev.Type {
		case vad.EventSpeechEnd:
			b.metrics.RecordSegment(ctx, "speech")
		case vad.EventMisfire:
			b.metrics.RecordSegment(ctx, "misfire")
		}
	}

	if procErr != nil {
		b.recordEngineError(procErr, "process_audio")
		events = append(events, vad.Event{
			Type:    vad.EventError,
			Message: procErr.Error(),
			Code:    ErrorCode(procErr),
		})
	}
	b.disp.Deliver(s, events)
	return procErr
}

// processRecovered runs one detector step, converting engine panics into
// [vad.ErrEngineInit]. Events produced before the failure are kept.
func (b *Bridge) processRecovered(det *detect.Detector, samples []float32) (events []vad.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("engine panic during process", slog.Any("panic", r))
			err = fmt.Errorf("engine panic: %v: %w", r, vad.ErrEngineInit)
		}
	}()
	return det.Process(samples)
}

// Reset clears the session's detection state: the open segment (if any) is
// discarded without an event, buffered partial frames are dropped, and the
// engine model's recurrent state is reinitialized.
func (b *Bridge) Reset(h Handle) error {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return err
	}

	var resetErr error
	s.WithLock(func() {
		det := s.DetectorLocked()
		if det == nil {
			resetErr = fmt.Errorf("bridge: %w", vad.ErrNotInitialized)
			s.SetLastErrorLocked("reset: %v", resetErr)
			return
		}
		hostErr := b.host.WithContext(det.Reset)
		if hostErr != nil {
			resetErr = fmt.Errorf("bridge: %w", hostErr)
			s.SetLastErrorLocked("reset: %v", resetErr)
		}
	})
	if resetErr != nil {
		b.recordEngineError(resetErr, "reset")
	}
	return resetErr
}

// ForceEndSpeech closes the open speech segment immediately, delivering a
// SPEECH_END (or MISFIRE, for a segment shorter than the minimum) without
// waiting for the redemption countdown. A no-op when no segment is open.
func (b *Bridge) ForceEndSpeech(h Handle) error {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return err
	}

	var events []vad.Event
	var opErr error
	s.WithLock(func() {
		det := s.DetectorLocked()
		if det == nil {
			opErr = fmt.Errorf("bridge: %w", vad.ErrNotInitialized)
			s.SetLastErrorLocked("force_end_speech: %v", opErr)
			return
		}
		events = det.ForceEnd()
	})
	if opErr != nil {
		return opErr
	}

	ctx := context.Background()
	for _, ev := range events {
		switch ev.Type {
		case vad.EventSpeechEnd:
			b.metrics.RecordSegment(ctx, "speech")
		case vad.EventMisfire:
			b.metrics.RecordSegment(ctx, "misfire")
		}
	}
	b.disp.Deliver(s, events)
	return nil
}

// IsSpeaking reports whether the session currently has an open speech
// segment. Returns false for unknown handles and uninitialized sessions.
func (b *Bridge) IsSpeaking(h Handle) bool {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return false
	}
	var speaking bool
	s.WithLock(func() {
		if det := s.DetectorLocked(); det != nil {
			speaking = det.IsSpeaking()
		}
	})
	return speaking
}

// LastError returns the session's most recent failure description. The
// result is never "silently uninformative": unknown handles yield a fixed
// sentinel instead of an empty string, and a session with no failures yet
// yields the empty string.
func (b *Bridge) LastError(h Handle) string {
	s, err := b.reg.Lookup(uint64(h))
	if err != nil {
		return unknownHandleError
	}
	return s.LastError()
}

// Sessions returns the number of live sessions, for readiness reporting.
func (b *Bridge) Sessions() int {
	return b.reg.Len()
}

// Available reports whether the engine runtime is bound.
func (b *Bridge) Available() bool {
	return b.host.Available()
}

// recordEngineError counts an engine failure. Plain lifecycle and argument
// errors are the caller's fault and stay out of the engine error counter.
func (b *Bridge) recordEngineError(err error, op string) {
	if errors.Is(err, vad.ErrEngineInit) || errors.Is(err, vad.ErrHostUnavailable) ||
		errors.Is(err, vad.ErrPlatformUnsupported) {
		b.metrics.RecordEngineError(context.Background(), op)
	}
}
