package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/MrWong99/vadbridge/internal/observe"
	"github.com/MrWong99/vadbridge/internal/registry"
	"github.com/MrWong99/vadbridge/pkg/vad"
	"github.com/MrWong99/vadbridge/pkg/vad/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestDispatcher returns a dispatcher whose metrics can be inspected
// through the manual reader.
func newTestDispatcher(t *testing.T) (*Dispatcher, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return New(metrics, slog.Default()), reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func batch(types ...vad.EventType) []vad.Event {
	events := make([]vad.Event, len(types))
	for i, typ := range types {
		events[i] = vad.Event{Type: typ}
	}
	return events
}

func TestDeliverInOrder(t *testing.T) {
	d, reader := newTestDispatcher(t)
	s := registry.New().Create()

	rec := &mock.CallbackRecorder{}
	s.SetCallback(rec)

	d.Deliver(s, batch(vad.EventFrameProcessed, vad.EventSpeechStart, vad.EventRealSpeechStart))

	got := rec.Types()
	want := []vad.EventType{vad.EventFrameProcessed, vad.EventSpeechStart, vad.EventRealSpeechStart}
	if len(got) != len(want) {
		t.Fatalf("received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, got[i], want[i])
		}
	}

	if n := counterValue(t, reader, "vadbridge.events.delivered"); n != 3 {
		t.Errorf("delivered counter = %d, want 3", n)
	}
}

func TestDeliverWithoutCallbackDrops(t *testing.T) {
	d, reader := newTestDispatcher(t)
	s := registry.New().Create()

	d.Deliver(s, batch(vad.EventFrameProcessed, vad.EventSpeechEnd))

	if n := counterValue(t, reader, "vadbridge.events.dropped"); n != 2 {
		t.Errorf("dropped counter = %d, want 2", n)
	}
	if n := counterValue(t, reader, "vadbridge.events.delivered"); n != 0 {
		t.Errorf("delivered counter = %d, want 0", n)
	}
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	d, reader := newTestDispatcher(t)
	s := registry.New().Create()
	s.SetCallback(&mock.CallbackRecorder{})

	d.Deliver(s, nil)

	if n := counterValue(t, reader, "vadbridge.events.delivered"); n != 0 {
		t.Errorf("delivered counter = %d, want 0", n)
	}
}

func TestSnapshotCoversWholeBatch(t *testing.T) {
	d, _ := newTestDispatcher(t)
	s := registry.New().Create()

	// The callback invalidates its own registration on the first event. The
	// snapshot was already taken, so the rest of the batch still reaches it.
	var received []vad.EventType
	s.SetCallback(vad.CallbackFunc(func(ev vad.Event) {
		received = append(received, ev.Type)
		s.InvalidateCallback()
	}))

	d.Deliver(s, batch(vad.EventSpeechStart, vad.EventFrameProcessed, vad.EventSpeechEnd))

	if len(received) != 3 {
		t.Fatalf("received %d events, want the whole batch of 3", len(received))
	}

	// The next batch finds no registration and drops.
	d.Deliver(s, batch(vad.EventFrameProcessed))
	if len(received) != 3 {
		t.Error("events delivered after invalidation took effect")
	}
}

func TestConcurrentDeliverAndInvalidate(t *testing.T) {
	d := New(nil, slog.Default())
	s := registry.New().Create()

	var mu sync.Mutex
	count := 0
	cb := vad.CallbackFunc(func(vad.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	s.SetCallback(cb)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _i := 0; _i < 1000; _i++ {
			d.Deliver(s, batch(vad.EventFrameProcessed))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if i%2 == 0 {
				s.InvalidateCallback()
			} else {
				s.SetCallback(cb)
			}
		}
	}()
	wg.Wait()

	// No assertion on the exact count: some batches legitimately drop. The
	// test exists to run the snapshot path under the race detector.
}
