package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Compression identifies how an input or output is compressed.
type Compression uint8

const (
	CompressionAuto Compression = iota // Detect from magic bytes
	CompressionNone
	CompressionGzip
	CompressionZstd
	CompressionSnappy // Snappy framing format
)

// String returns the compression name.
func (c Compression) String() string {
	switch c {
	case CompressionAuto:
		return "auto"
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// CompressionNames lists the names accepted by ParseCompression.
var CompressionNames = []string{"auto", "none", "gzip", "zstd", "snappy"}

// ParseCompression parses a compression name.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return CompressionAuto, nil
	case "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "snappy", "sz":
		return CompressionSnappy, nil
	default:
		return CompressionNone, errors.Errorf("unknown compression %q", s)
	}
}

var (
	gzipMagic   = []byte{0x1F, 0x8B}
	zstdMagic   = []byte{0x28, 0xB5, 0x2F, 0xFD}
	snappyMagic = []byte{0xFF, 0x06, 0x00, 0x00, 's', 'N', 'a', 'P', 'p', 'Y'}
)

// detectPeek is the number of bytes Detect needs to recognise every format.
const detectPeek = 10

// Detect recognises a compressed stream from its first bytes.
func Detect(prefix []byte) Compression {
	switch {
	case bytes.HasPrefix(prefix, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(prefix, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(prefix, snappyMagic):
		return CompressionSnappy
	default:
		return CompressionNone
	}
}

type closerFunc struct {
	io.Reader
	onClose func() error
}

func (c *closerFunc) Close() error { return c.onClose() }

func nopClose() error { return nil }

// NewDecompressor returns a reader of the decompressed bytes of r. With
// CompressionAuto the format is detected from the first bytes. Closing the
// result does not close r.
func NewDecompressor(r io.Reader, c Compression) (io.ReadCloser, Compression, error) {
	if c == CompressionAuto {
		br := bufio.NewReader(r)
		prefix, err := br.Peek(detectPeek)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return nil, c, errors.Wrap(err, "detect compression")
		}
		c = Detect(prefix)
		r = br
	}

	switch c {
	case CompressionNone:
		return &closerFunc{Reader: r, onClose: nopClose}, c, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, c, errors.Wrap(err, "open gzip stream")
		}
		return zr, c, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, c, errors.Wrap(err, "open zstd stream")
		}
		return &closerFunc{Reader: zr, onClose: func() error { zr.Close(); return nil }}, c, nil
	case CompressionSnappy:
		return &closerFunc{Reader: snappy.NewReader(r), onClose: nopClose}, c, nil
	default:
		return nil, c, errors.Errorf("unsupported compression %s", c)
	}
}

type nopCloseWriter struct{ w io.Writer }

func (w nopCloseWriter) Write(p []byte) (n int, err error) { return w.w.Write(p) }
func (w nopCloseWriter) Close() error                      { return nil }

// NewCompressor returns a writer that compresses into w. Close flushes the
// compressed stream but does not close w. CompressionAuto writes
// uncompressed output.
func NewCompressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionAuto, CompressionNone:
		return nopCloseWriter{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "create zstd writer")
		}
		return zw, nil
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, errors.Errorf("unsupported compression %s", c)
	}
}
