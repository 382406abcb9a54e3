package mder_test

import (
	"math"
	"testing"

	"github.com/signove/phd-manager/mder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntRoundTrip(t *testing.T) {
	w := mder.NewWriter()
	w.WriteU8(0xAB)
	w.WriteU16(0x1234)
	w.WriteU32(0xDEADBEEF)
	w.WriteBytes([]byte{1, 2, 3})
	w.WriteZeros(2)
	require.NoError(t, w.Err())

	r := mder.NewReader(w.Bytes())
	assert.EqualValues(t, 0xAB, r.ReadU8())
	assert.EqualValues(t, 0x1234, r.ReadU16())
	assert.EqualValues(t, 0xDEADBEEF, r.ReadU32())
	assert.Equal(t, []byte{1, 2, 3}, r.ReadBytes(3))
	r.Skip(2)
	assert.Equal(t, 0, r.Len())
	require.NoError(t, r.Err())
}

func TestReadPastEndFails(t *testing.T) {
	r := mder.NewReader([]byte{1, 2})
	r.ReadU32()
	require.Error(t, r.Err())
	// Subsequent calls stay no-ops, not panics.
	assert.EqualValues(t, 0, r.ReadU8())
}

func TestReserveCommit(t *testing.T) {
	w := mder.NewWriter()
	pos := w.ReserveU16()
	w.WriteBytes([]byte("hello"))
	w.CommitU16(pos, 5)
	r := mder.NewReader(w.Bytes())
	assert.EqualValues(t, 5, r.ReadU16())
	assert.Equal(t, []byte("hello"), r.ReadBytes(5))
}

func TestFloatRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 79.6, 120.5, 36.6, 0.001, -273.15, 1e10, -1e10}
	for _, x := range cases {
		w := mder.NewWriter()
		w.WriteFloat(x)
		r := mder.NewReader(w.Bytes())
		got := r.ReadFloat()
		require.NoError(t, r.Err())
		if x == 0 {
			assert.Equal(t, float64(0), got)
			continue
		}
		assert.InEpsilonf(t, x, got, 1e-6, "float round trip for %v", x)
	}
}

func TestFloatReservedValues(t *testing.T) {
	w := mder.NewWriter()
	w.WriteFloat(mder.PosInf)
	w.WriteFloat(mder.NegInf)
	w.WriteFloat(math.NaN())
	r := mder.NewReader(w.Bytes())
	assert.Equal(t, mder.PosInf, r.ReadFloat())
	assert.Equal(t, mder.NegInf, r.ReadFloat())
	assert.True(t, math.IsNaN(r.ReadFloat()))
}

func TestSFloatRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 98, 72.5, 36.6, -40}
	for _, x := range cases {
		w := mder.NewWriter()
		w.WriteSFloat(x)
		r := mder.NewReader(w.Bytes())
		got := r.ReadSFloat()
		require.NoError(t, r.Err())
		if x == 0 {
			assert.Equal(t, float64(0), got)
			continue
		}
		assert.InEpsilonf(t, x, got, 1e-6, "sfloat round trip for %v", x)
	}
}

func TestSFloatReservedValues(t *testing.T) {
	w := mder.NewWriter()
	w.WriteSFloat(mder.PosInf)
	w.WriteSFloat(mder.NegInf)
	w.WriteSFloat(math.NaN())
	r := mder.NewReader(w.Bytes())
	assert.Equal(t, mder.PosInf, r.ReadSFloat())
	assert.Equal(t, mder.NegInf, r.ReadSFloat())
	assert.True(t, math.IsNaN(r.ReadSFloat()))
}

func TestSFloatWireShape(t *testing.T) {
	// 72 is scaled up toward the mantissa limit: mantissa 720 in the low
	// 12 bits, exponent -1 (nibble 0xF) in the high 4 bits.
	w := mder.NewWriter()
	w.WriteSFloat(72)
	b := w.Bytes()
	require.Len(t, b, 2)
	raw := uint16(b[0])<<8 | uint16(b[1])
	assert.EqualValues(t, 720, raw&0x0FFF)
	assert.EqualValues(t, 0xF, raw>>12)
}
