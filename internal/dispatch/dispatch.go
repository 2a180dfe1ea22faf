// Package dispatch delivers detector events to the callback registered on a
// session.
//
// Delivery is synchronous and in submission order: the thread that produced
// the events runs the callback, so a slow callback backpressures its own
// audio source and nothing else. Exactly one callback snapshot is taken per
// delivery batch; registration changes made while a batch is in flight apply
// to the next batch, never to the middle of the current one.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/vadbridge/internal/observe"
	"github.com/MrWong99/vadbridge/internal/registry"
	"github.com/MrWong99/vadbridge/pkg/vad"
)

// Dispatcher routes event batches to session callbacks and records delivery
// metrics.
type Dispatcher struct {
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a dispatcher. A nil logger falls back to [slog.Default].
func New(metrics *observe.Metrics, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{metrics: metrics, log: log}
}

// Deliver hands events to the session's callback, in order, on the calling
// goroutine. The callback registration is read once at the start; if none is
// registered the whole batch is dropped and counted, which is the normal
// course for a session whose callback was invalidated while audio was still
// flowing.
//
// Payload ownership: the Frame field of FRAME_PROCESSED events is only valid
// for the duration of the callback, while SPEECH_END and ERROR payloads are
// fresh allocations the receiver keeps. Both guarantees are established by
// the producer; Deliver passes events through untouched.
func (d *Dispatcher) Deliver(s *registry.Session, events []vad.Event) {
	if len(events) == 0 {
		return
	}

	cb := s.CallbackSnapshot()
	if cb == nil {
		d.dropAll(s, events)
		return
	}

	ctx := context.Background()
	start := time.Now()
	for _, ev := range events {
		cb.HandleEvent(ev)
		if d.metrics != nil {
			d.metrics.RecordEventDelivered(ctx, ev.Type.String())
		}
	}
	if d.metrics != nil {
		d.metrics.DeliveryDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// dropAll counts a batch that found no registered callback.
func (d *Dispatcher) dropAll(s *registry.Session, events []vad.Event) {
	if d.metrics != nil {
		ctx := context.Background()
		for _, ev := range events {
			d.metrics.RecordEventDropped(ctx, ev.Type.String())
		}
	}
	d.log.Debug("dropped events without callback",
		slog.Uint64("session", s.ID()),
		slog.Int("count", len(events)))
}
