package bridge

import (
	"errors"

	"github.com/MrWong99/vadbridge/pkg/vad"
)

// Stable numeric codes of the flat call surface. Negative values signal
// failure; 0 is success. CodeUnavailable (-100) is reserved for "the engine
// runtime is not there at all" so shims can distinguish a broken call from a
// build or platform that cannot run inference.
const (
	CodeOK                 int32 = 0
	CodeHandleNotFound     int32 = -1
	CodeInvalidArgument    int32 = -2
	CodeNotInitialized     int32 = -3
	CodeAlreadyInitialized int32 = -4
	CodeConfigRejected     int32 = -5
	CodeEngineInit         int32 = -6
	CodeInternal           int32 = -99
	CodeUnavailable        int32 = -100
)

// ErrorCode maps an error from the boundary taxonomy onto its stable numeric
// code. A nil error maps to [CodeOK]; errors outside the taxonomy map to
// [CodeInternal].
func ErrorCode(err error) int32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, vad.ErrHostUnavailable), errors.Is(err, vad.ErrPlatformUnsupported):
		return CodeUnavailable
	case errors.Is(err, vad.ErrHandleNotFound):
		return CodeHandleNotFound
	case errors.Is(err, vad.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, vad.ErrNotInitialized):
		return CodeNotInitialized
	case errors.Is(err, vad.ErrAlreadyInitialized):
		return CodeAlreadyInitialized
	case errors.Is(err, vad.ErrConfigRejected):
		return CodeConfigRejected
	case errors.Is(err, vad.ErrEngineInit):
		return CodeEngineInit
	default:
		return CodeInternal
	}
}
