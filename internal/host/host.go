// Package host manages the process-wide binding to the inference engine's
// native runtime and the thread discipline for calling into it.
//
// The runtime's entry points are resolved exactly once, during an explicit
// bind phase at startup; later calls never retry resolution and instead fail
// loudly when the bind did not complete. Threads are attached for the
// duration of an engine call and the attachment is cheap and reentrant, so
// audio threads can cross into the engine many times without per-call
// setup cost. Threads are never detached eagerly.
package host

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/MrWong99/vadbridge/pkg/vad"
)

// Runtime is the native engine runtime the manager binds to. Implementations
// wrap engine-specific global initialization (shared library loading,
// environment setup) behind an idempotent pair of calls.
type Runtime interface {
	// Bind performs the process-wide runtime initialization. Calling Bind on
	// an already-bound runtime must be a no-op.
	Bind() error

	// Release tears the runtime down. Must only be called when no engine
	// call is in flight.
	Release() error
}

// StaticRuntime is a Runtime that needs no initialization, for engines that
// run entirely in-process (and for tests).
type StaticRuntime struct{}

func (StaticRuntime) Bind() error    { return nil }
func (StaticRuntime) Release() error { return nil }

// Manager guards all crossings into the host runtime. Every boundary
// operation that reaches the engine funnels through [Manager.WithContext].
type Manager struct {
	rt Runtime

	mu    sync.Mutex
	bound bool
}

// NewManager creates a manager for rt. The runtime is not bound yet; call
// [Manager.Bind] during startup.
func NewManager(rt Runtime) *Manager {
	return &Manager{rt: rt}
}

// Bind resolves the runtime's entry points. It is idempotent; a failed bind
// can be retried. Until Bind succeeds, every WithContext call fails with
// [vad.ErrHostUnavailable].
func (m *Manager) Bind() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bound {
		return nil
	}
	if m.rt == nil {
		return fmt.Errorf("host: no runtime configured: %w", vad.ErrHostUnavailable)
	}
	if err := m.rt.Bind(); err != nil {
		return fmt.Errorf("host: bind runtime: %w", err)
	}
	m.bound = true
	return nil
}

// Available reports whether the runtime is bound.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound
}

// WithContext runs fn with the calling thread attached to the host runtime.
// The goroutine is pinned to its OS thread for the duration of fn, which is
// what native runtimes carrying thread-local state expect; the pinning is
// reentrant, so nested WithContext calls from an already-attached thread are
// cheap no-ops.
//
// Returns [vad.ErrHostUnavailable] (without invoking fn) when the runtime is
// not bound.
func (m *Manager) WithContext(fn func() error) error {
	if !m.Available() {
		return fmt.Errorf("host: %w", vad.ErrHostUnavailable)
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return fn()
}

// Release unbinds the runtime. Subsequent WithContext calls fail with
// [vad.ErrHostUnavailable] until Bind is called again.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.bound {
		return nil
	}
	m.bound = false
	if err := m.rt.Release(); err != nil {
		return fmt.Errorf("host: release runtime: %w", err)
	}
	return nil
}
