package stream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionString(t *testing.T) {
	tests := []struct {
		c        Compression
		expected string
	}{
		{CompressionAuto, "auto"},
		{CompressionNone, "none"},
		{CompressionGzip, "gzip"},
		{CompressionZstd, "zstd"},
		{CompressionSnappy, "snappy"},
		{Compression(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.expected {
			t.Errorf("%d.String() = %q, expected %q", tt.c, got, tt.expected)
		}
	}
	for _, name := range CompressionNames {
		c, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.String())
	}
	_, err := ParseCompression("lz4")
	require.Error(t, err)
}

func TestCompressionRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xE0, 0x01, 0x00, 0xEA, 0x21, 0x07}, 500)

	for _, c := range []Compression{CompressionNone, CompressionGzip, CompressionZstd, CompressionSnappy} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewCompressor(&buf, c)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if c != CompressionNone {
				assert.Less(t, buf.Len(), len(payload))
			}
			assert.Equal(t, c, Detect(buf.Bytes()))

			r, detected, err := NewDecompressor(bytes.NewReader(buf.Bytes()), CompressionAuto)
			require.NoError(t, err)
			assert.Equal(t, c, detected)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, payload, got)
		})
	}
}

func TestDecompressorShortInput(t *testing.T) {
	r, c, err := NewDecompressor(bytes.NewReader([]byte{0x21}), CompressionAuto)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x21}, got)
}

func TestDecompressorRejectsCorruptGzip(t *testing.T) {
	_, _, err := NewDecompressor(bytes.NewReader([]byte{0x1F, 0x8B, 0x00}), CompressionGzip)
	require.Error(t, err)
}
