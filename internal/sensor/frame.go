package sensor

import (
	"strconv"
	"strings"
)

const (
	// PacketStart is the sentinel byte that opens every stream frame.
	PacketStart byte = 0x13

	lenIdx = 1

	// frameOverhead counts the start, length and checksum bytes, none of
	// which are included in the declared length.
	frameOverhead = 3

	defaultFrameCapacity = 64
)

// Frame is one sensor stream packet being assembled or already complete:
//
//	0x13 <length> <id> <value...> ... <checksum>
//
// The frame owns its bytes. Position is the write cursor.
type Frame struct {
	buf []byte
}

// NewFrame returns an empty frame.
func NewFrame() *Frame {
	return &Frame{buf: make([]byte, 0, defaultFrameCapacity)}
}

// FrameFromBytes returns a frame holding a copy of b.
func FrameFromBytes(b []byte) *Frame {
	f := &Frame{buf: make([]byte, 0, max(len(b), defaultFrameCapacity))}
	f.Append(b...)
	return f
}

// Append writes bytes at the cursor, growing the buffer as needed.
func (f *Frame) Append(b ...byte) {
	f.buf = append(f.buf, b...)
}

// Position is the number of bytes written so far.
func (f *Frame) Position() int { return len(f.buf) }

func (f *Frame) IsEmpty() bool { return len(f.buf) == 0 }

// At returns the byte at offset i.
func (f *Frame) At(i int) byte { return f.buf[i] }

// Bytes returns a copy of the written bytes.
func (f *Frame) Bytes() []byte {
	out := make([]byte, len(f.buf))
	copy(out, f.buf)
	return out
}

// Clear empties the frame without releasing its buffer.
func (f *Frame) Clear() { f.buf = f.buf[:0] }

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame { return FrameFromBytes(f.buf) }

// IsLengthByteRead reports whether the start and length bytes are present.
func (f *Frame) IsLengthByteRead() bool { return len(f.buf) > lenIdx }

// DeclaredLength is the payload byte count carried in the length byte.
// Only meaningful once IsLengthByteRead is true.
func (f *Frame) DeclaredLength() int { return int(f.buf[lenIdx]) }

// PacketLength is the total number of bytes the frame occupies on the wire.
// Only meaningful once IsLengthByteRead is true.
func (f *Frame) PacketLength() int { return f.DeclaredLength() + frameOverhead }

// IsCompletePacket reports whether every byte of the frame has arrived.
func (f *Frame) IsCompletePacket() bool {
	return f.IsLengthByteRead() && len(f.buf) >= f.PacketLength()
}

// ValidChecksum sums the frame's bytes, checksum included. A frame is valid
// when the low byte of the sum is zero. Incomplete frames are never valid.
func (f *Frame) ValidChecksum() bool {
	if !f.IsCompletePacket() {
		return false
	}
	var sum byte
	for _, b := range f.buf[:f.PacketLength()] {
		sum += b
	}
	return sum == 0
}

// CalculateChecksum returns the byte that, appended to b, brings the byte
// sum to zero modulo 256.
func CalculateChecksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return -sum
}

// DecodeValues walks the payload and returns every (id, value) pair in wire
// order. Two-byte values are big-endian and are not sign extended.
func (f *Frame) DecodeValues() ([]SensorValue, error) {
	if !f.IsCompletePacket() {
		return nil, ErrIncompleteFrame
	}

	end := lenIdx + 1 + f.DeclaredLength()
	values := make([]SensorValue, 0, f.DeclaredLength()/2)

	for i := lenIdx + 1; i < end; {
		id := f.buf[i]
		width := FieldWidth(id)
		switch width {
		case 1:
			if i+1 >= end {
				return nil, ErrTruncatedPayload
			}
			values = append(values, SensorValue{ID: id, Value: int(f.buf[i+1])})
		case 2:
			if i+2 >= end {
				return nil, ErrTruncatedPayload
			}
			values = append(values, SensorValue{ID: id, Value: int(f.buf[i+1])<<8 | int(f.buf[i+2])})
		default:
			return nil, &FieldError{ID: id, Offset: i, Err: ErrUnsupportedWidth}
		}
		i += 1 + width
	}

	return values, nil
}

// Value decodes the frame and returns the value carried for id.
func (f *Frame) Value(id byte) (int, error) {
	values, err := f.DecodeValues()
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		if v.ID == id {
			return v.Value, nil
		}
	}
	return 0, &FieldError{ID: id, Offset: -1, Err: ErrSensorNotPresent}
}

// NextPacket returns the bytes after this frame as a new frame when they
// begin with PacketStart. Anything else is dropped and an empty frame is
// returned; the next read rescans for a start byte.
func (f *Frame) NextPacket() *Frame {
	if !f.IsCompletePacket() {
		return NewFrame()
	}
	n := f.PacketLength()
	if len(f.buf) <= n || f.buf[n] != PacketStart {
		return NewFrame()
	}
	return FrameFromBytes(f.buf[n:])
}

// FormatPacketBuffer renders the written bytes as comma separated decimals.
func (f *Frame) FormatPacketBuffer() string {
	var sb strings.Builder
	for i, b := range f.buf {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(int(b)))
	}
	return sb.String()
}

func (f *Frame) String() string { return f.FormatPacketBuffer() }
