// Package audio provides stateless float32 ⇄ 16-bit PCM conversion for the
// vadbridge boundary.
//
// The conversions are pure and allocation-free when the caller supplies the
// output buffer, and produce bit-identical results for identical input on
// every platform: scaling uses fixed constants and truncation toward zero,
// never platform-dependent rounding.
package audio

// FloatToPCM16 converts normalized float32 samples to 16-bit PCM, writing
// into dst. Each sample is clamped to [-1.0, 1.0], scaled by 32767, and
// truncated toward zero. It converts min(len(src), len(dst)) samples and
// returns that count.
func FloatToPCM16(src []float32, dst []int16) int {
	n := min(len(src), len(dst))
	for i := 0; i < n; i++ {
		s := src[i]
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		dst[i] = int16(s * 32767.0)
	}
	return n
}

// PCM16ToFloat converts 16-bit PCM samples to normalized float32, writing
// into dst. Each sample is divided by 32768.0, yielding values in
// [-1.0, 0.99997). It converts min(len(src), len(dst)) samples and returns
// that count.
func PCM16ToFloat(src []int16, dst []float32) int {
	n := min(len(src), len(dst))
	for i := 0; i < n; i++ {
		dst[i] = float32(src[i]) / 32768.0
	}
	return n
}

// FloatToPCM16Slice is the allocating form of [FloatToPCM16].
func FloatToPCM16Slice(src []float32) []int16 {
	dst := make([]int16, len(src))
	FloatToPCM16(src, dst)
	return dst
}

// PCM16ToFloatSlice is the allocating form of [PCM16ToFloat].
func PCM16ToFloatSlice(src []int16) []float32 {
	dst := make([]float32, len(src))
	PCM16ToFloat(src, dst)
	return dst
}

// DurationMs returns the duration in milliseconds of sampleCount mono
// samples at the given rate. Returns 0 for a non-positive rate.
func DurationMs(sampleCount, sampleRate int) int32 {
	if sampleRate <= 0 {
		return 0
	}
	return int32(int64(sampleCount) * 1000 / int64(sampleRate))
}
