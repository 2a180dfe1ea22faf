package detect

import (
	"errors"
	"testing"

	"github.com/MrWong99/vadbridge/pkg/audio"
	"github.com/MrWong99/vadbridge/pkg/vad"
)

// testConfig keeps the frame counts small so sequences stay readable.
func testConfig() vad.Config {
	return vad.Config{
		PositiveSpeechThreshold: 0.5,
		NegativeSpeechThreshold: 0.35,
		PreSpeechPadFrames:      2,
		RedemptionFrames:        3,
		MinSpeechFrames:         2,
		SampleRate:              16000,
		FrameSamples:            4,
		EndSpeechPadFrames:      1,
	}
}

// seqModel returns scripted probabilities, one per frame.
type seqModel struct {
	probs []float32
	idx   int
	errAt int // 1-based frame index at which Infer fails; 0 disables

	resets int
	closed int
}

func (m *seqModel) Infer([]float32) (float32, error) {
	m.idx++
	if m.errAt > 0 && m.idx == m.errAt {
		return 0, errors.New("model blew up")
	}
	if m.idx > len(m.probs) {
		return 0, nil
	}
	return m.probs[m.idx-1], nil
}

func (m *seqModel) Reset() error { m.resets++; return nil }
func (m *seqModel) Close() error { m.closed++; return nil }

// frame returns one test frame whose samples all carry the given value.
func frame(v float32) []float32 {
	return []float32{v, v, v, v}
}

// feed pushes one frame per probability and returns all emitted events.
func feed(t *testing.T, d *Detector, values []float32) []vad.Event {
	t.Helper()
	var events []vad.Event
	for _, v := range values {
		evs, err := d.Process(frame(v))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		events = append(events, evs...)
	}
	return events
}

func types(events []vad.Event) []vad.EventType {
	out := make([]vad.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func assertTypes(t *testing.T, got []vad.Event, want []vad.EventType) {
	t.Helper()
	gotTypes := types(got)
	if len(gotTypes) != len(want) {
		t.Fatalf("event types = %v, want %v", gotTypes, want)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("event %d = %v, want %v (full sequence %v)", i, gotTypes[i], want[i], gotTypes)
		}
	}
}

func TestSilenceEmitsOnlyFrameEvents(t *testing.T) {
	model := &seqModel{probs: []float32{0.1, 0.2, 0.1}}
	d := New(model, testConfig())

	events := feed(t, d, []float32{0, 0, 0})
	assertTypes(t, events, []vad.EventType{
		vad.EventFrameProcessed, vad.EventFrameProcessed, vad.EventFrameProcessed,
	})
	if d.IsSpeaking() {
		t.Error("IsSpeaking() = true after silence only")
	}
}

func TestFrameProcessedPayload(t *testing.T) {
	model := &seqModel{probs: []float32{0.7}}
	d := New(model, testConfig())

	events := feed(t, d, []float32{0.25})
	fp := events[0]
	if fp.Probability != 0.7 || !fp.IsSpeech {
		t.Errorf("payload = (%v, %v), want (0.7, true)", fp.Probability, fp.IsSpeech)
	}
	if len(fp.Frame) != 4 || fp.Frame[0] != 0.25 {
		t.Errorf("frame payload = %v, want the submitted samples", fp.Frame)
	}
}

func TestSpeechStartThenRealStart(t *testing.T) {
	model := &seqModel{probs: []float32{0.1, 0.9, 0.9, 0.9}}
	d := New(model, testConfig())

	events := feed(t, d, []float32{0, 1, 2, 3})
	assertTypes(t, events, []vad.EventType{
		vad.EventFrameProcessed,
		vad.EventFrameProcessed, vad.EventSpeechStart,
		vad.EventFrameProcessed, vad.EventRealSpeechStart,
		vad.EventFrameProcessed,
	})
	if !d.IsSpeaking() {
		t.Error("IsSpeaking() = false during speech")
	}
}

func TestMisfire(t *testing.T) {
	// One speech frame, then three sub-negative frames: shorter than
	// MinSpeechFrames=2, so the segment ends in a misfire.
	model := &seqModel{probs: []float32{0.9, 0.1, 0.1, 0.1}}
	d := New(model, testConfig())

	events := feed(t, d, []float32{0, 0, 0, 0})
	assertTypes(t, events, []vad.EventType{
		vad.EventFrameProcessed, vad.EventSpeechStart,
		vad.EventFrameProcessed,
		vad.EventFrameProcessed,
		vad.EventFrameProcessed, vad.EventMisfire,
	})
	if d.IsSpeaking() {
		t.Error("IsSpeaking() = true after misfire")
	}
}

func TestSpeechEndSegmentAndDuration(t *testing.T) {
	// 3 silence frames (pre-pad keeps the last 2), 2 speech frames, 3
	// redemption frames. Segment = 2 pad + 2 speech + 3 silence, trimmed to
	// EndSpeechPadFrames=1 trailing frame: 5 frames of 4 samples.
	model := &seqModel{probs: []float32{0.1, 0.1, 0.1, 0.9, 0.9, 0.2, 0.2, 0.2}}
	d := New(model, testConfig())

	values := []float32{0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.07, 0.08}
	events := feed(t, d, values)

	last := events[len(events)-1]
	if last.Type != vad.EventSpeechEnd {
		t.Fatalf("last event = %v, want SPEECH_END", last.Type)
	}
	if len(last.SpeechAudio) != 5*4 {
		t.Errorf("segment length = %d samples, want 20", len(last.SpeechAudio))
	}
	if want := audio.DurationMs(20, 16000); last.DurationMs != want {
		t.Errorf("duration = %dms, want %dms", last.DurationMs, want)
	}

	// The segment must open with the oldest retained pre-pad frame, which
	// carried sample value 0.02.
	wantFirst := audio.FloatToPCM16Slice(frame(0.02))[0]
	if last.SpeechAudio[0] != wantFirst {
		t.Errorf("segment[0] = %d, want %d (pre-pad frame)", last.SpeechAudio[0], wantFirst)
	}
}

func TestBetweenThresholdsHoldsRedemption(t *testing.T) {
	// Probabilities in [negative, positive) neither reset nor advance the
	// redemption countdown, so speech survives long stretches of them.
	probs := []float32{0.9, 0.9, 0.4, 0.4, 0.4, 0.4, 0.4, 0.4}
	model := &seqModel{probs: probs}
	d := New(model, testConfig())

	feed(t, d, make([]float32, len(probs)))
	if !d.IsSpeaking() {
		t.Error("segment ended during between-threshold probabilities")
	}
}

func TestPartialFrameBuffering(t *testing.T) {
	model := &seqModel{probs: []float32{0.1, 0.1}}
	d := New(model, testConfig())

	// 6 samples with FrameSamples=4: one frame now, 2 samples pending.
	events, err := d.Process(make([]float32, 6))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	// 2 more samples complete the second frame.
	events, err = d.Process(make([]float32, 2))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after completing frame, want 1", len(events))
	}
	if model.idx != 2 {
		t.Errorf("model saw %d frames, want 2", model.idx)
	}
}

func TestProcessEmptyInput(t *testing.T) {
	d := New(&seqModel{}, testConfig())
	if _, err := d.Process(nil); !errors.Is(err, vad.ErrInvalidArgument) {
		t.Errorf("Process(nil) error = %v, want ErrInvalidArgument", err)
	}
}

func TestInferErrorPropagates(t *testing.T) {
	model := &seqModel{probs: []float32{0.1, 0.1}, errAt: 2}
	d := New(model, testConfig())

	// Two frames in one call: the first frame's event is still returned.
	events, err := d.Process(make([]float32, 8))
	if err == nil {
		t.Fatal("expected error from failing model")
	}
	if len(events) != 1 {
		t.Errorf("got %d events alongside the error, want 1", len(events))
	}
}

func TestForceEnd(t *testing.T) {
	model := &seqModel{probs: []float32{0.9, 0.9}}
	d := New(model, testConfig())
	feed(t, d, []float32{0, 0})

	events := d.ForceEnd()
	assertTypes(t, events, []vad.EventType{vad.EventSpeechEnd})
	if d.IsSpeaking() {
		t.Error("IsSpeaking() = true after ForceEnd")
	}
	if again := d.ForceEnd(); again != nil {
		t.Errorf("second ForceEnd = %v, want nil", again)
	}
}

func TestForceEndShortSegmentIsMisfire(t *testing.T) {
	model := &seqModel{probs: []float32{0.9}}
	d := New(model, testConfig())
	feed(t, d, []float32{0})

	events := d.ForceEnd()
	assertTypes(t, events, []vad.EventType{vad.EventMisfire})
}

func TestReset(t *testing.T) {
	model := &seqModel{probs: []float32{0.9, 0.9}}
	d := New(model, testConfig())
	feed(t, d, []float32{0, 0})

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d.IsSpeaking() {
		t.Error("IsSpeaking() = true after Reset")
	}
	if model.resets != 1 {
		t.Errorf("model resets = %d, want 1", model.resets)
	}
	if events := d.ForceEnd(); events != nil {
		t.Errorf("ForceEnd after Reset = %v, want nil", events)
	}
}

func TestDeterministicSequence(t *testing.T) {
	probs := []float32{0.1, 0.9, 0.9, 0.9, 0.2, 0.2, 0.2, 0.1, 0.9}
	run := func() []vad.EventType {
		d := New(&seqModel{probs: probs}, testConfig())
		return types(feed(t, d, make([]float32, len(probs))))
	}

	first := run()
	for _i := 0; _i < 5; _i++ {
		if next := run(); len(next) != len(first) {
			t.Fatalf("non-deterministic event count: %v vs %v", next, first)
		}
	}
}

func TestClose(t *testing.T) {
	model := &seqModel{}
	d := New(model, testConfig())
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if model.closed != 1 {
		t.Errorf("model closes = %d, want 1", model.closed)
	}
}
