package codec

import (
	"fmt"
)

// DecodeError reports a source raster that cannot be turned into a frame:
// zero-size input, short plane buffers, bad strides or an unsupported
// rotation. The frame must be skipped.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode frame: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrorf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}
