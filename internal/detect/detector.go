// Package detect implements the frame-level speech detection state machine
// that turns per-frame speech probabilities into boundary events.
//
// A Detector owns one [vad.Model] and applies threshold hysteresis on top of
// it: a frame at or above the positive threshold opens a speech segment, a
// run of frames below the negative threshold longer than the redemption
// window closes it. Segments shorter than the minimum speech length are
// reported as a misfire instead of a speech end. The emitted segment carries
// a configurable number of pre-speech and end-speech pad frames.
//
// Detectors are deterministic: the same sample/probability sequence always
// yields the same event sequence. They are not safe for concurrent use; the
// owning session serializes access.
package detect

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/vadbridge/pkg/audio"
	"github.com/MrWong99/vadbridge/pkg/vad"
)

// Detector is the per-session detection state machine.
type Detector struct {
	model vad.Model
	cfg   vad.Config

	// pending accumulates samples until a full frame is available.
	pending []float32

	// prePad holds the PCM16 frames preceding a potential speech start,
	// oldest first. Bounded to cfg.PreSpeechPadFrames frames.
	prePad [][]int16

	// segment accumulates the PCM16 audio of the open speech segment,
	// including the pre-pad and any redemption-window frames.
	segment []int16

	speaking        bool
	speechFrames    int
	redemptionCount int
	realStartFired  bool
}

// New creates a Detector over the given model. The model is owned by the
// detector from this point on and released by [Detector.Close].
func New(model vad.Model, cfg vad.Config) *Detector {
	return &Detector{
		model:   model,
		cfg:     cfg,
		pending: make([]float32, 0, cfg.FrameSamples),
	}
}

// Process feeds samples into the detector and returns the events produced,
// in detection order. Samples that do not fill a whole frame are buffered
// for the next call.
//
// The Frame payload of FrameProcessed events references the detector's
// internal buffer and is valid only until the events have been delivered.
func (d *Detector) Process(samples []float32) ([]vad.Event, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("detect: %w: empty sample buffer", vad.ErrInvalidArgument)
	}

	d.pending = append(d.pending, samples...)

	var events []vad.Event
	frameLen := d.cfg.FrameSamples
	for len(d.pending) >= frameLen {
		frame := d.pending[:frameLen:frameLen]
		d.pending = d.pending[frameLen:]

		prob, err := d.model.Infer(frame)
		if err != nil {
			return events, fmt.Errorf("detect: infer frame: %w", err)
		}
		events = append(events, d.step(frame, prob)...)
	}
	return events, nil
}

// step advances the state machine by one frame.
func (d *Detector) step(frame []float32, prob float32) []vad.Event {
	isSpeech := prob >= d.cfg.PositiveSpeechThreshold

	events := []vad.Event{{
		Type:        vad.EventFrameProcessed,
		Probability: prob,
		IsSpeech:    isSpeech,
		Frame:       frame,
	}}

	pcm := audio.FloatToPCM16Slice(frame)

	if !d.speaking {
		if !isSpeech {
			d.pushPrePad(pcm)
			return events
		}

		d.speaking = true
		d.speechFrames = 1
		d.redemptionCount = 0
		d.realStartFired = false
		d.segment = d.segment[:0]
		for _, padFrame := range d.prePad {
			d.segment = append(d.segment, padFrame...)
		}
		d.prePad = d.prePad[:0]
		d.segment = append(d.segment, pcm...)

		if d.cfg.Debug {
			slog.Debug("speech start", "probability", prob)
		}
		events = append(events, vad.Event{Type: vad.EventSpeechStart})

		if !d.realStartFired && d.speechFrames >= d.cfg.MinSpeechFrames {
			d.realStartFired = true
			events = append(events, vad.Event{Type: vad.EventRealSpeechStart})
		}
		return events
	}

	d.segment = append(d.segment, pcm...)

	switch {
	case isSpeech:
		d.speechFrames++
		d.redemptionCount = 0
		if !d.realStartFired && d.speechFrames >= d.cfg.MinSpeechFrames {
			d.realStartFired = true
			events = append(events, vad.Event{Type: vad.EventRealSpeechStart})
		}

	case prob < d.cfg.NegativeSpeechThreshold:
		d.redemptionCount++
		if d.redemptionCount >= d.cfg.RedemptionFrames {
			events = append(events, d.endSegment(d.redemptionCount))
		}

		// Probabilities between the thresholds neither extend the segment's
		// speech count nor advance the redemption countdown.
	}

	return events
}

// endSegment closes the open segment and returns the terminal event: a
// SpeechEnd carrying the owned PCM16 buffer, or a Misfire when the segment
// had fewer speech frames than the configured minimum. trailingSilence is
// the number of sub-threshold frames currently sitting at the end of the
// segment; all but EndSpeechPadFrames of them are trimmed.
func (d *Detector) endSegment(trailingSilence int) vad.Event {
	seg := d.segment
	d.segment = nil
	speechFrames := d.speechFrames

	d.speaking = false
	d.speechFrames = 0
	d.redemptionCount = 0
	d.realStartFired = false

	if speechFrames < d.cfg.MinSpeechFrames {
		if d.cfg.Debug {
			slog.Debug("misfire", "speech_frames", speechFrames, "min", d.cfg.MinSpeechFrames)
		}
		return vad.Event{Type: vad.EventMisfire}
	}

	if trim := trailingSilence - d.cfg.EndSpeechPadFrames; trim > 0 {
		trimSamples := trim * d.cfg.FrameSamples
		if trimSamples < len(seg) {
			seg = seg[:len(seg)-trimSamples]
		}
	}

	// Hand over a right-sized copy: seg's backing array keeps growing with
	// the next segment otherwise.
	owned := make([]int16, len(seg))
	copy(owned, seg)

	durationMs := audio.DurationMs(len(owned), d.cfg.SampleRate)
	if d.cfg.Debug {
		slog.Debug("speech end", "samples", len(owned), "duration_ms", durationMs)
	}
	return vad.Event{
		Type:        vad.EventSpeechEnd,
		SpeechAudio: owned,
		DurationMs:  durationMs,
	}
}

// ForceEnd closes any open speech segment immediately, bypassing the
// redemption window. Returns the terminal event, or no events when no
// segment is open.
func (d *Detector) ForceEnd() []vad.Event {
	if !d.speaking {
		return nil
	}
	return []vad.Event{d.endSegment(d.redemptionCount)}
}

// Reset clears all detection state and the model's internal state. Buffered
// partial frames and any open segment are discarded without events.
func (d *Detector) Reset() error {
	d.pending = d.pending[:0]
	d.prePad = d.prePad[:0]
	d.segment = nil
	d.speaking = false
	d.speechFrames = 0
	d.redemptionCount = 0
	d.realStartFired = false

	if err := d.model.Reset(); err != nil {
		return fmt.Errorf("detect: reset model: %w", err)
	}
	return nil
}

// IsSpeaking reports whether a speech segment is currently open.
func (d *Detector) IsSpeaking() bool {
	return d.speaking
}

// Close releases the underlying model. The detector must not be used
// afterwards.
func (d *Detector) Close() error {
	return d.model.Close()
}

func (d *Detector) pushPrePad(pcm []int16) {
	if d.cfg.PreSpeechPadFrames <= 0 {
		return
	}
	d.prePad = append(d.prePad, pcm)
	if len(d.prePad) > d.cfg.PreSpeechPadFrames {
		d.prePad = d.prePad[1:]
	}
}
