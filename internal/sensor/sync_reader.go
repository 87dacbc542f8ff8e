package sensor

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultMaxIdleReads   = 10
	defaultMaxFrameErrors = 32
)

// SyncReader runs the framing state machine inline on the caller's
// goroutine. It is meant for one-shot queries where a background pipeline
// would be overkill. Callers sharing a ByteSource between goroutines must
// serialize access themselves.
//
// Bytes read past the end of a frame stay buffered, so consecutive
// ReadCompletePacket calls on one stream pick up where the last one stopped.
// Call Clear to start a new query from scratch.
type SyncReader struct {
	asm   *Assembler
	frame *Frame
	buf   []byte

	// MaxIdleReads is how many consecutive empty reads ReadCompletePacket
	// tolerates before giving up.
	MaxIdleReads int
	// MaxFrameErrors is how many discarded frames ReadCompletePacket
	// tolerates in one call before returning the last frame error.
	MaxFrameErrors int
	// OnFrameError, when set, sees every frame the reader discards.
	OnFrameError func(error)
}

func NewSyncReader() *SyncReader {
	return &SyncReader{
		asm:            NewAssembler(),
		buf:            make([]byte, defaultReadBufferSize),
		MaxIdleReads:   defaultMaxIdleReads,
		MaxFrameErrors: defaultMaxFrameErrors,
	}
}

// Clear forgets any partial or completed frame.
func (s *SyncReader) Clear() {
	s.asm.Reset()
	s.frame = nil
}

// ReadPacket feeds the bytes of one read. It reports true once a complete
// valid frame is available through Frame and DecodeValues. Corrupt frames
// ahead of a valid one are skipped; a frame error is returned only when no
// valid frame follows it.
func (s *SyncReader) ReadPacket(p []byte) (bool, error) {
	s.asm.Feed(p)
	frame, _, err := s.next()
	if frame == nil {
		return false, err
	}
	return true, nil
}

// next pulls buffered frames until one is valid or more bytes are needed.
// It reports how many frames were discarded on the way and the last error.
func (s *SyncReader) next() (*Frame, int, error) {
	var (
		discarded int
		lastErr   error
	)
	for {
		frame, err := s.asm.Next()
		if err != nil {
			discarded++
			lastErr = err
			if s.OnFrameError != nil {
				s.OnFrameError(err)
			}
			continue
		}
		if frame == nil {
			return nil, discarded, lastErr
		}
		s.frame = frame
		return frame, discarded, nil
	}
}

// ReadCompletePacket blocks on src until one valid frame has been read.
// Frames already buffered from an earlier read are returned first. Each
// read waits at most timeout; after MaxIdleReads empty reads in a row it
// returns ErrReadTimeout. Corrupt frames are discarded and reading goes on,
// until MaxFrameErrors of them have been seen in this call.
func (s *SyncReader) ReadCompletePacket(ctx context.Context, src ByteSource, timeout time.Duration) (*Frame, error) {
	s.frame = nil
	idle, discarded := 0, 0
	var lastErr error

	for {
		frame, skipped, err := s.next()
		if frame != nil {
			return frame, nil
		}
		if err != nil {
			discarded += skipped
			lastErr = err
			if s.MaxFrameErrors > 0 && discarded >= s.MaxFrameErrors {
				return nil, lastErr
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := src.Read(s.buf, timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if n == 0 {
			idle++
			if s.MaxIdleReads > 0 && idle >= s.MaxIdleReads {
				if lastErr != nil {
					return nil, fmt.Errorf("%w: %w", ErrReadTimeout, lastErr)
				}
				return nil, ErrReadTimeout
			}
			continue
		}
		idle = 0
		s.asm.Feed(s.buf[:n])
	}
}

// Frame is the last complete frame, or nil.
func (s *SyncReader) Frame() *Frame { return s.frame }

// DecodeValues decodes the last complete frame.
func (s *SyncReader) DecodeValues() ([]SensorValue, error) {
	if s.frame == nil {
		return nil, ErrIncompleteFrame
	}
	return s.frame.DecodeValues()
}

// FormatPacketBuffer dumps the last complete frame, or the partial one when
// no frame has completed yet.
func (s *SyncReader) FormatPacketBuffer() string {
	if s.frame != nil {
		return s.frame.FormatPacketBuffer()
	}
	return s.asm.Working().FormatPacketBuffer()
}
