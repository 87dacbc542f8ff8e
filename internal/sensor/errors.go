package sensor

import (
	"errors"
	"fmt"
)

// ErrInvalidFrame is the root of every frame-level failure. Frame errors are
// recoverable: the reader drops the frame and keeps going.
var ErrInvalidFrame = errors.New("sensor: invalid frame")

var (
	ErrZeroLength       = fmt.Errorf("%w: length is 0", ErrInvalidFrame)
	ErrChecksumMismatch = fmt.Errorf("%w: invalid checksum", ErrInvalidFrame)
	ErrUnsupportedWidth = fmt.Errorf("%w: unsupported field width", ErrInvalidFrame)
	ErrTruncatedPayload = fmt.Errorf("%w: payload ends mid-field", ErrInvalidFrame)
	ErrIncompleteFrame  = fmt.Errorf("%w: frame not complete", ErrInvalidFrame)
	ErrSensorNotPresent = fmt.Errorf("%w: sensor not present", ErrInvalidFrame)
)

var (
	// ErrTransport wraps failures of the byte source itself. It is fatal for
	// the goroutine that observed it.
	ErrTransport = errors.New("sensor: transport failure")

	// ErrReadTimeout is returned by the synchronous reader when the idle-read
	// budget runs out before a frame completes.
	ErrReadTimeout = errors.New("sensor: timed out waiting for frame")
)

// FieldError reports a decode failure tied to a specific sensor id.
type FieldError struct {
	ID     byte
	Offset int // byte offset of the id in the frame, -1 when not applicable
	Err    error
}

func (e *FieldError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("sensor %d: %v", e.ID, e.Err)
	}
	return fmt.Sprintf("sensor %d at offset %d: %v", e.ID, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// FrameError carries the bytes of a frame the assembler rejected.
type FrameError struct {
	Dump string // FormatPacketBuffer of the rejected bytes
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%v [%s]", e.Err, e.Dump)
}

func (e *FrameError) Unwrap() error { return e.Err }
