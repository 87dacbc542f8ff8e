package sensor

import "bytes"

// Assembler turns arbitrarily chunked reads into complete, checksummed
// frames. It is the state machine shared by Reader and SyncReader and is not
// safe for concurrent use.
//
// Feed the bytes of each read, then call Next until it returns (nil, nil).
type Assembler struct {
	working *Frame
}

// NewAssembler returns an assembler waiting for a start byte.
func NewAssembler() *Assembler {
	return &Assembler{working: NewFrame()}
}

// Feed appends bytes from one read. While no frame is in progress, bytes up
// to the first PacketStart are discarded; a read without one is dropped.
func (a *Assembler) Feed(p []byte) {
	if a.working.IsEmpty() {
		start := bytes.IndexByte(p, PacketStart)
		if start < 0 {
			return
		}
		p = p[start:]
	}
	a.working.Append(p...)
}

// Next returns the next complete valid frame, if one is buffered.
//
// (nil, nil) means more bytes are needed. A frame error discards the bad
// frame; bytes following a complete bad frame are kept only when they begin
// with PacketStart, the same rule NextPacket applies after a good frame.
func (a *Assembler) Next() (*Frame, error) {
	if !a.working.IsLengthByteRead() {
		return nil, nil
	}

	if a.working.DeclaredLength() == 0 {
		err := &FrameError{Dump: a.working.FormatPacketBuffer(), Err: ErrZeroLength}
		a.working.Clear()
		return nil, err
	}

	if !a.working.IsCompletePacket() {
		return nil, nil
	}

	done := a.working
	a.working = done.NextPacket()

	// Leftover bytes now live in the new working frame.
	done.buf = done.buf[:done.PacketLength()]

	if !done.ValidChecksum() {
		return nil, &FrameError{Dump: done.FormatPacketBuffer(), Err: ErrChecksumMismatch}
	}
	return done, nil
}

// Working exposes the in-progress frame for diagnostics.
func (a *Assembler) Working() *Frame { return a.working }

// Pending reports whether a partial frame is buffered.
func (a *Assembler) Pending() bool { return !a.working.IsEmpty() }

// Reset drops any partial frame.
func (a *Assembler) Reset() { a.working.Clear() }
