package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/vadbridge/pkg/vad"
)

func TestCreateLookupRemove(t *testing.T) {
	r := New()

	s := r.Create()
	if s.State() != StateCreated {
		t.Errorf("new session state = %v, want CREATED", s.State())
	}

	got, err := r.Lookup(s.ID())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != s {
		t.Error("Lookup returned a different session record")
	}

	removed := r.Remove(s.ID())
	if removed != s {
		t.Error("Remove returned a different session record")
	}
	if removed.State() != StateDestroyed {
		t.Errorf("removed session state = %v, want DESTROYED", removed.State())
	}

	if _, err := r.Lookup(s.ID()); !errors.Is(err, vad.ErrHandleNotFound) {
		t.Errorf("Lookup after Remove: err = %v, want ErrHandleNotFound", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	s := r.Create()

	if got := r.Remove(s.ID()); got == nil {
		t.Fatal("first Remove returned nil")
	}
	if got := r.Remove(s.ID()); got != nil {
		t.Error("second Remove must be a no-op returning nil")
	}
	if got := r.Remove(99999); got != nil {
		t.Error("Remove of an unknown handle must be a no-op returning nil")
	}
}

func TestConcurrentCreateYieldsUniqueHandles(t *testing.T) {
	const goroutines = 32
	const perGoroutine = 200

	r := New()
	ids := make(chan uint64, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for _i := 0; _i < goroutines; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _j := 0; _j < perGoroutine; _j++ {
				ids <- r.Create().ID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, goroutines*perGoroutine)
	for id := range ids {
		if id == 0 {
			t.Fatal("handle value 0 must never be issued")
		}
		if seen[id] {
			t.Fatalf("handle %d issued twice", id)
		}
		seen[id] = true
	}
	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("got %d unique handles, want %d", len(seen), goroutines*perGoroutine)
	}
}

func TestHandlesAreNeverReused(t *testing.T) {
	r := New()
	first := r.Create().ID()
	r.Remove(first)

	second := r.Create().ID()
	if second == first {
		t.Errorf("handle %d reused after destroy", first)
	}
}

func TestCallbackSnapshot(t *testing.T) {
	r := New()
	s := r.Create()

	if s.CallbackSnapshot() != nil {
		t.Error("fresh session must have no callback")
	}

	cb := vad.CallbackFunc(func(vad.Event) {})
	s.SetCallback(cb)
	if s.CallbackSnapshot() == nil {
		t.Error("snapshot after SetCallback = nil")
	}

	s.InvalidateCallback()
	if s.CallbackSnapshot() != nil {
		t.Error("snapshot after InvalidateCallback must be nil")
	}
}

func TestRemoveClearsCallback(t *testing.T) {
	r := New()
	s := r.Create()
	s.SetCallback(vad.CallbackFunc(func(vad.Event) {}))

	r.Remove(s.ID())
	if s.CallbackSnapshot() != nil {
		t.Error("destroyed session must not retain a callback registration")
	}
}

func TestLastError(t *testing.T) {
	r := New()
	s := r.Create()

	if s.LastError() != "" {
		t.Errorf("fresh session lastError = %q, want empty", s.LastError())
	}
	s.SetLastError("init failed: %v", errors.New("bad model"))
	if s.LastError() != "init failed: bad model" {
		t.Errorf("lastError = %q", s.LastError())
	}
	s.SetLastError("second failure")
	if s.LastError() != "second failure" {
		t.Error("lastError must be overwritten on each failing operation")
	}
}
