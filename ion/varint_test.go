package ion

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexUInt(t *testing.T) {
	tests := []struct {
		v        uint64
		expected []byte
	}{
		{0, []byte{0x01}},
		{2, []byte{0x05}},
		{4, []byte{0x09}},
		{9, []byte{0x13}},
		{70, []byte{0x8D}},
		{127, []byte{0xFF}},
		{128, []byte{0x02, 0x02}},
		{300, []byte{0xB2, 0x04}},
	}
	for _, tt := range tests {
		got := appendFlexUInt(nil, tt.v)
		assert.Equal(t, tt.expected, got, "appendFlexUInt(%d)", tt.v)
		assert.Equal(t, len(tt.expected), flexUIntLen(tt.v))

		v, n, st := decodeFlexUInt(got)
		require.Equal(t, decodeOK, st)
		assert.Equal(t, tt.v, v)
		assert.Equal(t, len(got), n)
	}

	_, _, st := decodeFlexUInt([]byte{0x02})
	assert.Equal(t, decodeShort, st)
	_, _, st = decodeFlexUInt([]byte{0x00, 0x01})
	assert.Equal(t, decodeOverflow, st)
}

func TestFlexInt(t *testing.T) {
	tests := []struct {
		v        int64
		expected []byte
	}{
		{0, []byte{0x01}},
		{-1, []byte{0xFF}},
		{-3, []byte{0xFB}},
		{63, []byte{0x7F}},
		{64, []byte{0x02, 0x01}},
		{-64, []byte{0x81}},
	}
	for _, tt := range tests {
		got := appendFlexInt(nil, tt.v)
		assert.Equal(t, tt.expected, got, "appendFlexInt(%d)", tt.v)

		v, n, st := decodeFlexInt(got)
		require.Equal(t, decodeOK, st)
		assert.Equal(t, tt.v, v)
		assert.Equal(t, len(got), n)
	}
	for _, v := range []int64{1 << 40, -(1 << 40), 1<<55 - 1, -(1 << 55)} {
		got := appendFlexInt(nil, v)
		back, _, st := decodeFlexInt(got)
		require.Equal(t, decodeOK, st)
		assert.Equal(t, v, back)
	}
}

func TestVarUInt(t *testing.T) {
	tests := []struct {
		v        uint64
		expected []byte
	}{
		{0, []byte{0x80}},
		{10, []byte{0x8A}},
		{127, []byte{0xFF}},
		{200, []byte{0x01, 0xC8}},
	}
	for _, tt := range tests {
		got := appendVarUInt(nil, tt.v)
		assert.Equal(t, tt.expected, got, "appendVarUInt(%d)", tt.v)
		v, n, st := decodeVarUInt(got)
		require.Equal(t, decodeOK, st)
		assert.Equal(t, tt.v, v)
		assert.Equal(t, len(got), n)
	}
	_, _, st := decodeVarUInt([]byte{0x01})
	assert.Equal(t, decodeShort, st)

	long := make([]byte, 11)
	for i := range long {
		long[i] = 0x7F
	}
	_, _, st = decodeVarUInt(long)
	assert.Equal(t, decodeOverflow, st)
}

func TestVarInt(t *testing.T) {
	tests := []struct {
		v        int64
		negZero  bool
		expected []byte
	}{
		{0, false, []byte{0x80}},
		{0, true, []byte{0xC0}},
		{-2, false, []byte{0xC2}},
		{63, false, []byte{0xBF}},
		{64, false, []byte{0x00, 0xC0}},
		{-64, false, []byte{0x40, 0xC0}},
	}
	for _, tt := range tests {
		got := appendVarInt(nil, tt.v, tt.negZero)
		assert.Equal(t, tt.expected, got, "appendVarInt(%d, %v)", tt.v, tt.negZero)

		mag, neg, n, st := decodeVarInt(got)
		require.Equal(t, decodeOK, st)
		assert.Equal(t, len(got), n)
		assert.Equal(t, tt.v < 0 || tt.negZero, neg)
		if tt.v < 0 {
			assert.Equal(t, uint64(-tt.v), mag)
		} else {
			assert.Equal(t, uint64(tt.v), mag)
		}
	}
}

func TestFixedInt(t *testing.T) {
	tests := []struct {
		v     int64
		width int
	}{
		{0, 0},
		{1, 1},
		{-128, 1},
		{128, 2},
		{-20_000_000, 4},
		{math.MaxInt64, 8},
		{math.MinInt64, 8},
	}
	for _, tt := range tests {
		if got := fixedIntLen(tt.v); got != tt.width {
			t.Errorf("fixedIntLen(%d) = %d, expected %d", tt.v, got, tt.width)
		}
		enc := appendFixedInt(nil, tt.v, tt.width)
		assert.Equal(t, tt.v, decodeFixedInt(enc))
	}
	assert.Equal(t, uint64(0xFFFE), decodeFixedUInt(appendFixedUInt(nil, 0xFFFE, 2)))
}

func TestTwosComplement(t *testing.T) {
	for _, s := range []string{"0", "1", "-1", "127", "128", "-129", "18446744073709551616", "-18446744073709551617"} {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		le := twosComplementLE(v)
		assert.Zero(t, decodeTwosComplementLE(le).Cmp(v), s)
	}
}
