package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects every frame and error the assembler can produce right now.
func drain(a *Assembler) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for {
		f, err := a.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if f == nil {
			return frames, errs
		}
		frames = append(frames, f)
	}
}

func decodeAll(t *testing.T, frames []*Frame) [][]SensorValue {
	t.Helper()
	var out [][]SensorValue
	for _, f := range frames {
		v, err := f.DecodeValues()
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestAssemblerSplitReadEquivalence(t *testing.T) {
	wire := buildFrame(33, 21, 22, 7, 10, 42, 18, 100)

	whole := NewAssembler()
	whole.Feed(wire)
	wantFrames, errs := drain(whole)
	require.Empty(t, errs)
	require.Len(t, wantFrames, 1)
	want := decodeAll(t, wantFrames)

	for _, size := range []int{1, 2, 3, 5, 7} {
		a := NewAssembler()
		var frames []*Frame
		for _, chunk := range splitEvery(wire, size) {
			a.Feed(chunk)
			got, errs := drain(a)
			require.Empty(t, errs)
			frames = append(frames, got...)
		}
		require.Len(t, frames, 1, "chunk size %d", size)
		assert.Equal(t, want, decodeAll(t, frames), "chunk size %d", size)
	}
}

func TestAssemblerDiscardsNoiseBeforeStart(t *testing.T) {
	a := NewAssembler()

	a.Feed([]byte{0x00, 0x00})
	assert.False(t, a.Pending())

	a.Feed(append([]byte{0x42, 0x99}, buildFrame(Wall, 1)...))
	frames, errs := drain(a)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, byte(PacketStart), frames[0].At(0))
}

func TestAssemblerZeroLength(t *testing.T) {
	a := NewAssembler()
	a.Feed([]byte{0x00, 0x13, 0x00})
	f, err := a.Next()
	assert.Nil(t, f)
	require.ErrorIs(t, err, ErrZeroLength)
	assert.False(t, a.Pending())
}

func TestAssemblerChecksumMismatch(t *testing.T) {
	a := NewAssembler()
	a.Feed([]byte{0x13, 4, 33, 21, 22, 1, 0x00})
	f, err := a.Next()
	assert.Nil(t, f)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "19, 4, 33, 21, 22, 1, 0", fe.Dump)
	assert.False(t, a.Pending())
}

func TestAssemblerResynchronizes(t *testing.T) {
	bad := buildFrame(Wall, 1, Buttons, 4)
	bad[len(bad)-1]++
	good := buildFrame(Distance, 0x00, 0x10)

	t.Run("same read", func(t *testing.T) {
		a := NewAssembler()
		a.Feed(append(append([]byte{}, bad...), good...))
		frames, errs := drain(a)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrChecksumMismatch)
		require.Len(t, frames, 1)
		assert.Equal(t, [][]SensorValue{{{ID: Distance, Value: 16}}}, decodeAll(t, frames))
	})

	t.Run("separate reads", func(t *testing.T) {
		a := NewAssembler()
		var frames []*Frame
		var errs []error
		for _, chunk := range [][]byte{bad, good} {
			a.Feed(chunk)
			f, e := drain(a)
			frames = append(frames, f...)
			errs = append(errs, e...)
		}
		require.Len(t, errs, 1)
		require.Len(t, frames, 1)
		assert.Equal(t, [][]SensorValue{{{ID: Distance, Value: 16}}}, decodeAll(t, frames))
	})
}

func TestAssemblerBackToBackFrames(t *testing.T) {
	first := buildFrame(Wall, 1)
	second := buildFrame(Wall, 0)

	a := NewAssembler()
	a.Feed(append(append([]byte{}, first...), second...))
	frames, errs := drain(a)
	require.Empty(t, errs)
	require.Len(t, frames, 2)
	assert.Equal(t, first, frames[0].Bytes())
	assert.Equal(t, second, frames[1].Bytes())
	assert.False(t, a.Pending())
}

func TestAssemblerDropsLeftoverWithoutStart(t *testing.T) {
	a := NewAssembler()
	a.Feed(append(buildFrame(Wall, 1), 0x12, 0x0b))
	frames, errs := drain(a)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, 5, frames[0].Position())
	assert.False(t, a.Pending())
}

func TestAssemblerKeepsPartialLeftover(t *testing.T) {
	next := buildFrame(Angle, 0, 90)

	a := NewAssembler()
	a.Feed(append(buildFrame(Wall, 1), next[:3]...))
	frames, _ := drain(a)
	require.Len(t, frames, 1)
	assert.True(t, a.Pending())

	a.Feed(next[3:])
	frames, _ = drain(a)
	require.Len(t, frames, 1)
	assert.Equal(t, next, frames[0].Bytes())
}
