package sensor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleFrame has a deliberately wrong checksum byte; decoding does not
// look at the checksum.
var sampleFrame = []byte{
	0x13,
	0x0b,
	0x07, 0x00,
	0x13, 0x23, 0x18,
	0x14, 0x00, 0x00,
	0x21, 0x01, 0x1f,
	115,
}

func TestFrameValue(t *testing.T) {
	f := FrameFromBytes(sampleFrame)

	tests := []struct {
		id   byte
		want int
	}{
		{0x07, 0},
		{0x13, 8984},
		{0x14, 0},
		{0x21, 287},
	}
	for _, tt := range tests {
		got, err := f.Value(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "sensor 0x%02x", tt.id)
	}

	_, err := f.Value(Voltage)
	assert.ErrorIs(t, err, ErrSensorNotPresent)
}

func TestFramePositionAndClear(t *testing.T) {
	f := FrameFromBytes(sampleFrame)
	assert.Equal(t, 14, f.Position())
	assert.False(t, f.IsEmpty())

	f.Append(0x99)
	assert.Equal(t, 15, f.Position())
	assert.Equal(t, byte(0x99), f.At(14))

	f.Clear()
	assert.Equal(t, 0, f.Position())
	assert.True(t, f.IsEmpty())
}

func TestFrameIsLengthByteRead(t *testing.T) {
	f := FrameFromBytes(sampleFrame)
	assert.True(t, f.IsLengthByteRead())

	f.Clear()
	assert.False(t, f.IsLengthByteRead())
	f.Append(0x99)
	assert.False(t, f.IsLengthByteRead())
	f.Append(0x99)
	assert.True(t, f.IsLengthByteRead())
}

func TestFrameIsCompletePacket(t *testing.T) {
	f := FrameFromBytes(sampleFrame)
	assert.True(t, f.IsCompletePacket())

	f.Clear()
	assert.False(t, f.IsCompletePacket())

	f.Append(0x13, 0x02, 0x07, 0x00)
	assert.False(t, f.IsCompletePacket())
	f.Append(0x03)
	assert.True(t, f.IsCompletePacket())
}

func TestFramePacketLength(t *testing.T) {
	f := FrameFromBytes(sampleFrame)
	assert.Equal(t, 11, f.DeclaredLength())
	assert.Equal(t, 14, f.PacketLength())
}

func TestFrameValidChecksum(t *testing.T) {
	assert.False(t, FrameFromBytes(sampleFrame).ValidChecksum())

	body := sampleFrame[:13]
	f := FrameFromBytes(body)
	assert.False(t, f.ValidChecksum(), "incomplete frame is never valid")
	f.Append(CalculateChecksum(body))
	assert.True(t, f.ValidChecksum())
}

func TestCalculateChecksumRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(200)
		b := make([]byte, n)
		rng.Read(b)

		sum := int(CalculateChecksum(b))
		for _, v := range b {
			sum += int(v)
		}
		require.Zero(t, sum%256, "sequence %v", b)
	}

	// A well formed frame built from a random payload validates.
	payload := []byte{CargoBayAnalogSignal, 0xfe, 0x01, Buttons, 0xff}
	assert.True(t, FrameFromBytes(buildFrame(payload...)).ValidChecksum())
}

func TestFormatPacketBuffer(t *testing.T) {
	f := FrameFromBytes(sampleFrame)
	assert.Equal(t, "19, 11, 7, 0, 19, 35, 24, 20, 0, 0, 33, 1, 31, 115", f.FormatPacketBuffer())
	assert.Equal(t, "", NewFrame().FormatPacketBuffer())
}

func TestNextPacket(t *testing.T) {
	t.Run("nothing after frame", func(t *testing.T) {
		next := FrameFromBytes(sampleFrame).NextPacket()
		require.NotNil(t, next)
		assert.True(t, next.IsEmpty())
	})

	t.Run("leftover starts with sentinel", func(t *testing.T) {
		b := append(append([]byte{}, sampleFrame...), 0x13, 0x0b)
		next := FrameFromBytes(b).NextPacket()
		require.NotNil(t, next)
		assert.False(t, next.IsEmpty())
		assert.Equal(t, 2, next.Position())
		assert.Equal(t, byte(0x13), next.At(0))
		assert.Equal(t, byte(0x0b), next.At(1))
	})

	t.Run("leftover without sentinel", func(t *testing.T) {
		b := append(append([]byte{}, sampleFrame...), 0x12, 0x0b)
		next := FrameFromBytes(b).NextPacket()
		require.NotNil(t, next)
		assert.True(t, next.IsEmpty())
	})

	t.Run("incomplete frame", func(t *testing.T) {
		next := FrameFromBytes(sampleFrame[:5]).NextPacket()
		assert.True(t, next.IsEmpty())
	})
}

func TestNextPacketDoesNotAlias(t *testing.T) {
	b := append(append([]byte{}, sampleFrame...), 0x13, 0x0b)
	f := FrameFromBytes(b)
	next := f.NextPacket()
	f.Clear()
	f.Append(0xaa, 0xbb)
	assert.Equal(t, byte(0x13), next.At(0))
	assert.Equal(t, byte(0x0b), next.At(1))
}

func TestDecodeValues(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		want    []SensorValue
		wantErr error
	}{
		{
			name:  "one two-byte field",
			frame: buildFrame(33, 21, 22),
			want:  []SensorValue{{ID: 33, Value: 5398}},
		},
		{
			name:  "mixed widths",
			frame: buildFrame(33, 21, 22, 7, 10, 42, 18, 20),
			want: []SensorValue{
				{ID: 33, Value: 5398},
				{ID: 7, Value: 10},
				{ID: 42, Value: 4628},
			},
		},
		{
			name:  "high bit is not sign extended",
			frame: buildFrame(Distance, 0xff, 0xfe),
			want:  []SensorValue{{ID: Distance, Value: 0xfffe}},
		},
		{
			name:  "stream scenario",
			frame: []byte{0x13, 0x0b, 0x07, 0x01, 0x13, 0x00, 0x02, 0x14, 0x00, 0x01, 0x21, 0x00, 0x10, 0x73},
			want: []SensorValue{
				{ID: 0x07, Value: 1},
				{ID: 0x13, Value: 2},
				{ID: 0x14, Value: 1},
				{ID: 0x21, Value: 16},
			},
		},
		{
			name:    "unknown id",
			frame:   buildFrame(5, 1),
			wantErr: ErrUnsupportedWidth,
		},
		{
			name:    "id past the table",
			frame:   buildFrame(43, 1, 2),
			wantErr: ErrUnsupportedWidth,
		},
		{
			name:    "value runs into checksum",
			frame:   buildFrame(Distance, 1),
			wantErr: ErrTruncatedPayload,
		},
		{
			name:    "incomplete",
			frame:   buildFrame(Distance, 1, 2)[:4],
			wantErr: ErrIncompleteFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FrameFromBytes(tt.frame).DecodeValues()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrInvalidFrame)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeValuesFieldError(t *testing.T) {
	_, err := FrameFromBytes(buildFrame(Buttons, 1, 2, 9)).DecodeValues()
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, byte(2), fe.ID)
	assert.Equal(t, 4, fe.Offset)
}

func TestSensorValueSigned(t *testing.T) {
	assert.Equal(t, -1, SensorValue{ID: Distance, Value: 0xffff}.Signed())
	assert.Equal(t, -200, SensorValue{ID: RequestedVelocity, Value: 0xff38}.Signed())
	assert.Equal(t, -1, SensorValue{ID: BatteryTemperature, Value: 0xff}.Signed())
	assert.Equal(t, 65535, SensorValue{ID: Voltage, Value: 0xffff}.Signed())
	assert.Equal(t, 42, SensorValue{ID: 200, Value: 42}.Signed())
}

func TestFieldTable(t *testing.T) {
	for id := 0; id < 256; id++ {
		w := FieldWidth(byte(id))
		if id >= 7 && id <= 42 {
			assert.Contains(t, []int{1, 2}, w, "id %d", id)
		} else {
			assert.Zero(t, w, "id %d", id)
		}
	}
	assert.Equal(t, "cargo_bay_analog", FieldName(CargoBayAnalogSignal))
	assert.Equal(t, "sensor_99", FieldName(99))
}

func TestFieldID(t *testing.T) {
	id, ok := FieldID("distance")
	assert.True(t, ok)
	assert.Equal(t, Distance, id)

	id, ok = FieldID("33")
	assert.True(t, ok)
	assert.Equal(t, CargoBayAnalogSignal, id)

	for _, bad := range []string{"speed", "2", "300", "-1"} {
		_, ok := FieldID(bad)
		assert.False(t, ok, bad)
	}
}
