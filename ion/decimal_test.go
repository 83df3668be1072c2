package ion

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in       string
		coef     int64
		exp      int32
		negZero  bool
		expected string
	}{
		{"12.50", 1250, -2, false, "12.50"},
		{"-1.5", -15, -1, false, "-1.5"},
		{"5", 5, 0, false, "5."},
		{"2e10", 2, 10, false, "2d10"},
		{"1.5d-3", 15, -4, false, "0.0015"},
		{"-0.0", 0, -1, true, "-0.0"},
		{"0.007", 7, -3, false, "0.007"},
	}
	for _, tt := range tests {
		d, err := ParseDecimal(tt.in)
		require.NoError(t, err, tt.in)
		assert.Zero(t, big.NewInt(tt.coef).Cmp(d.Coefficient()), tt.in)
		assert.Equal(t, tt.exp, d.Exponent(), tt.in)
		assert.Equal(t, tt.negZero, d.IsNegativeZero(), tt.in)
		assert.Equal(t, tt.expected, d.String(), tt.in)
	}

	for _, bad := range []string{"", "abc", "-", "1e99999999999"} {
		_, err := ParseDecimal(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecimalCompare(t *testing.T) {
	a := NewDecimalFromInt64(150, -2)
	b := NewDecimalFromInt64(15, -1)
	assert.Zero(t, a.Cmp(b))
	assert.False(t, a.Equal(b), "precision differs")
	assert.True(t, a.Equal(NewDecimalFromInt64(150, -2)))
	assert.Equal(t, -1, b.Cmp(NewDecimalFromInt64(2, 0)))
	assert.InDelta(t, 1.5, a.Float64(), 1e-12)

	var nilDec *Decimal
	assert.True(t, nilDec.Equal(nil))
	assert.False(t, nilDec.Equal(a))
}

func TestSignedMagnitude(t *testing.T) {
	tests := []struct {
		v        int64
		negZero  bool
		expected []byte
	}{
		{0, false, nil},
		{0, true, []byte{0x80}},
		{5, false, []byte{0x05}},
		{-5, false, []byte{0x85}},
		{128, false, []byte{0x00, 0x80}},
		{-128, false, []byte{0x80, 0x80}},
	}
	for _, tt := range tests {
		got := signedMagnitude(big.NewInt(tt.v), tt.negZero)
		assert.Equal(t, tt.expected, got, "signedMagnitude(%d, %v)", tt.v, tt.negZero)
		back, negZero := decodeSignedMagnitude(got)
		assert.Equal(t, tt.v, back.Int64())
		assert.Equal(t, tt.negZero, negZero)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	for _, minor := range []int{0, 1} {
		for _, s := range []string{"0.", "-0.0", "12.50", "-1.5", "2d10", "123456789012345678901234567890.5"} {
			d, err := ParseDecimal(s)
			require.NoError(t, err)
			data := writeStream(t, func(w *BinaryWriter) {
				require.NoError(t, w.WriteDecimal(d))
			}, WithMinorVersion(minor))

			r := NewReaderBytes(data)
			_, err = r.NextValue()
			require.NoError(t, err)
			_, err = r.FillValue()
			require.NoError(t, err)
			got, err := r.DecimalValue()
			require.NoError(t, err)
			assert.True(t, d.Equal(got), "minor %d: %s != %s", minor, d, got)
		}
	}
}

func TestTimestampText(t *testing.T) {
	for _, s := range []string{
		"2024T",
		"2024-03T",
		"2024-03-05",
		"2024-03-05T10:20-00:00",
		"2024-03-05T10:20:30Z",
		"2024-03-05T10:20:30.125+01:00",
		"1999-12-31T23:59:59.000001-08:30",
	} {
		ts, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, ts.String())
	}
	for _, bad := range []string{"", "20x4T", "2024-3-05", "2024-03-05T10", "2024-03-05T10:20+1"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestTimestampBinaryRoundTrip(t *testing.T) {
	for _, s := range []string{
		"2024T",
		"2024-03-05",
		"2024-03-05T10:20:30.125+01:00",
		"2024-01-01T00:30-02:00",
		"2024-03-05T10:20:30Z",
	} {
		ts, err := ParseTimestamp(s)
		require.NoError(t, err)
		body := appendTimestamp10(nil, ts)
		back, err := decodeTimestamp10(body, 0)
		require.NoError(t, err, s)
		assert.True(t, ts.Equal(back), "%s != %s", s, back)
	}
}

func TestTimestampTime(t *testing.T) {
	ts, err := ParseTimestamp("2024-03-05T10:20:30.5+01:00")
	require.NoError(t, err)
	got := ts.Time()
	assert.True(t, got.Equal(time.Date(2024, 3, 5, 9, 20, 30, 500_000_000, time.UTC)), got.String())
}

func TestShortTimestamp(t *testing.T) {
	// Year 2024 only: 2024-1970 = 54.
	ts, err := decodeShortTimestamp(0, []byte{54}, 0)
	require.NoError(t, err)
	assert.Equal(t, "2024T", ts.String())

	_, err = decodeShortTimestamp(2, []byte{1}, 0)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestTimestampPrecisionString(t *testing.T) {
	tests := []struct {
		p        TimestampPrecision
		expected string
	}{
		{PrecisionYear, "year"},
		{PrecisionFraction, "fraction"},
		{TimestampPrecision(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.expected {
			t.Errorf("%d.String() = %q, expected %q", tt.p, got, tt.expected)
		}
	}
}
