// Package registry owns the lifetime of VAD sessions and the opaque handles
// foreign callers hold for them.
//
// Handles are 64-bit values drawn from a process-wide atomic counter, so a
// handle is never reused while an old copy of it could still be in flight.
// The mapping from handle to session record is guarded by one registry-wide
// lock; per-session fields use the session's own synchronization so that
// event delivery on one session never serializes against another.
//
// Destroy does not wait for in-flight event deliveries: the record is marked
// destroyed and its callback registration cleared, after which a delivery
// already past its snapshot completes against the still-allocated record and
// later deliveries drop. The record itself is reclaimed by the garbage
// collector once the last reference is gone.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/vadbridge/internal/detect"
	"github.com/MrWong99/vadbridge/pkg/vad"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateListening
	StateStopped
	StateDestroyed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInitialized:
		return "INITIALIZED"
	case StateListening:
		return "LISTENING"
	case StateStopped:
		return "STOPPED"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// callbackCell wraps a callback registration so the whole pair can be
// swapped atomically. A nil cell pointer means no callback is registered.
type callbackCell struct {
	cb vad.Callback
}

// Session is the internal record for one VAD usage. All fields behind mu are
// shared between the caller's thread and threads delivering events; the
// callback registration is read via an atomic snapshot on the delivery path.
type Session struct {
	id uint64

	mu       sync.Mutex
	state    State
	lastErr  string
	detector *detect.Detector

	callback atomic.Pointer[callbackCell]
}

// ID returns the session's opaque handle value.
func (s *Session) ID() uint64 { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// LastError returns the most recent failure description, or "" if no
// operation has failed.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SetLastError overwrites the session's failure description.
func (s *Session) SetLastError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

// Detector returns the session's detector, or nil before Init.
func (s *Session) Detector() *detect.Detector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector
}

// SetDetector installs the detector created by Init.
func (s *Session) SetDetector(d *detect.Detector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detector = d
}

// WithLock runs fn while holding the session lock. Used by operations that
// must read and mutate session state atomically (state checks plus detector
// calls) without exposing the lock itself.
func (s *Session) WithLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// StateLocked returns the state without locking; callers must hold mu via
// WithLock.
func (s *Session) StateLocked() State { return s.state }

// SetStateLocked transitions the state without locking; callers must hold mu
// via WithLock.
func (s *Session) SetStateLocked(state State) { s.state = state }

// DetectorLocked returns the detector without locking; callers must hold mu
// via WithLock.
func (s *Session) DetectorLocked() *detect.Detector { return s.detector }

// SetDetectorLocked installs the detector without locking; callers must hold
// mu via WithLock.
func (s *Session) SetDetectorLocked(d *detect.Detector) { s.detector = d }

// SetLastErrorLocked overwrites the failure description; callers must hold
// mu via WithLock.
func (s *Session) SetLastErrorLocked(format string, args ...any) {
	s.lastErr = fmt.Sprintf(format, args...)
}

// SetCallback registers cb as the session's event receiver, replacing any
// previous registration. The change applies to deliveries whose snapshot is
// taken after this call returns.
func (s *Session) SetCallback(cb vad.Callback) {
	if cb == nil {
		s.callback.Store(nil)
		return
	}
	s.callback.Store(&callbackCell{cb: cb})
}

// InvalidateCallback clears the registration. A delivery that already took
// its snapshot completes; deliveries starting afterwards drop their events.
func (s *Session) InvalidateCallback() {
	s.callback.Store(nil)
}

// CallbackSnapshot returns the callback registered at this instant, or nil.
// The delivery path takes exactly one snapshot per delivery, so a concurrent
// invalidate can never yield a half-updated registration.
func (s *Session) CallbackSnapshot() vad.Callback {
	cell := s.callback.Load()
	if cell == nil {
		return nil
	}
	return cell.cb
}

// Registry is the thread-safe handle → session mapping.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   atomic.Uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[uint64]*Session)}
}

// Create allocates a new session in state Created under a fresh handle.
func (r *Registry) Create() *Session {
	s := &Session{
		id:    r.nextID.Add(1),
		state: StateCreated,
	}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s
}

// Lookup resolves a handle to its live session. Returns
// [vad.ErrHandleNotFound] for unknown or destroyed handles.
func (r *Registry) Lookup(id uint64) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: handle %d: %w", id, vad.ErrHandleNotFound)
	}
	return s, nil
}

// Remove transitions the session to Destroyed, clears its callback
// registration, and erases the mapping. Removing an unknown handle is a
// no-op, so a double destroy from a careless caller is harmless. The removed
// session is returned (nil when the handle was unknown) so the caller can
// release engine resources outside the registry lock.
func (r *Registry) Remove(id uint64) *Session {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	s.InvalidateCallback()
	s.SetState(StateDestroyed)
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
