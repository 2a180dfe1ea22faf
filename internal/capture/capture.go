// Package capture feeds microphone audio into a VAD session. It opens the
// default capture device through malgo (miniaudio), converts the device's
// PCM16 stream to normalized float32 frames, and pumps them into a caller
// supplied submit function.
//
// The device callback runs on an audio thread owned by miniaudio and must
// not block, so frames cross into Go land through a bounded channel; when
// the consumer falls behind, whole frames are dropped and counted rather
// than stalling the device.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/vadbridge/pkg/audio"
	"github.com/MrWong99/vadbridge/pkg/vad"
	"github.com/gen2brain/malgo"
)

// DefaultBufferFrames is the capture ring size, in detection frames, used
// when the configuration does not set one.
const DefaultBufferFrames = 8

// Source is one microphone capture stream. Create with [NewSource], start
// with [Source.Start], drain with [Source.Run], release with [Source.Close].
type Source struct {
	sampleRate   int
	frameSamples int
	log          *slog.Logger

	audioCtx *malgo.AllocatedContext
	device   *malgo.Device

	frames  chan []float32
	pending []float32
	dropped atomic.Int64
}

// NewSource initializes the audio backend context. The device is not opened
// until Start.
func NewSource(cfg vad.Config, bufferFrames int, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	if bufferFrames <= 0 {
		bufferFrames = DefaultBufferFrames
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: initialize audio context: %w", err)
	}

	return &Source{
		sampleRate:   cfg.SampleRate,
		frameSamples: cfg.FrameSamples,
		log:          log,
		audioCtx:     audioCtx,
		frames:       make(chan []float32, bufferFrames),
	}, nil
}

// Start opens the default capture device (PCM16, mono, the session's sample
// rate) and begins streaming.
func (s *Source) Start() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(s.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(s.audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, _ uint32) {
			s.onData(inputSamples)
		},
	})
	if err != nil {
		return fmt.Errorf("capture: initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("capture: start capture device: %w", err)
	}
	s.device = device
	s.log.Info("capture started",
		slog.Int("sample_rate", s.sampleRate),
		slog.Int("frame_samples", s.frameSamples))
	return nil
}

// onData runs on the miniaudio thread. It accumulates samples until a full
// detection frame is available and hands frames over without blocking.
func (s *Source) onData(input []byte) {
	s.pending = append(s.pending, bytesToFloat(input)...)
	for len(s.pending) >= s.frameSamples {
		frame := make([]float32, s.frameSamples)
		copy(frame, s.pending[:s.frameSamples])
		s.pending = s.pending[s.frameSamples:]

		select {
		case s.frames <- frame:
		default:
			s.dropped.Add(1)
		}
	}
}

// Run pumps captured frames into submit until ctx is cancelled. Submit
// errors are logged and the frame is discarded; the pump keeps running so a
// transient engine failure does not kill the capture session.
func (s *Source) Run(ctx context.Context, submit func([]float32) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.frames:
			if err := submit(frame); err != nil {
				s.log.Warn("frame submission failed", slog.Any("error", err))
			}
		}
	}
}

// Dropped returns the number of frames discarded because the consumer fell
// behind.
func (s *Source) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops the device and releases the audio backend. Idempotent.
func (s *Source) Close() error {
	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.audioCtx != nil {
		err := s.audioCtx.Uninit()
		s.audioCtx.Free()
		s.audioCtx = nil
		if err != nil {
			return fmt.Errorf("capture: uninit audio context: %w", err)
		}
	}
	return nil
}

// bytesToFloat converts a little-endian PCM16 byte stream to normalized
// float32 samples. A trailing odd byte is ignored.
func bytesToFloat(data []byte) []float32 {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return audio.PCM16ToFloatSlice(pcm)
}
