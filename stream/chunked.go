package stream

import (
	"io"

	"github.com/Neumenon/ionic/ion"
)

// ChunkedReader hands out a source chunk by chunk. Once the current chunk is
// consumed Read reports io.EOF, which the ion reader turns into
// EventNeedsData; More grants the next chunk. This drives a reader the way
// bytes arriving from a network would.
type ChunkedReader struct {
	src    io.Reader
	chunk  int
	avail  int
	done   bool
	total  int64
	chunks int
}

// NewChunkedReader returns a reader whose first chunk is already granted.
// A chunk size below 1 is treated as 1.
func NewChunkedReader(src io.Reader, chunk int) *ChunkedReader {
	if chunk < 1 {
		chunk = 1
	}
	return &ChunkedReader{src: src, chunk: chunk, avail: chunk, chunks: 1}
}

// Read implements io.Reader.
func (c *ChunkedReader) Read(p []byte) (int, error) {
	if c.avail == 0 || c.done {
		return 0, io.EOF
	}
	if len(p) > c.avail {
		p = p[:c.avail]
	}
	n, err := c.src.Read(p)
	c.avail -= n
	c.total += int64(n)
	if err == io.EOF {
		c.done = true
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	return n, err
}

// More grants the next chunk. It returns false once the source is exhausted.
func (c *ChunkedReader) More() bool {
	if c.done {
		return false
	}
	c.avail = c.chunk
	c.chunks++
	return true
}

// BytesRead returns the number of source bytes handed out.
func (c *ChunkedReader) BytesRead() int64 { return c.total }

// Chunks returns the number of chunks granted.
func (c *ChunkedReader) Chunks() int { return c.chunks }

// Retry repeats op while it reports EventNeedsData and another chunk can be
// granted.
func (c *ChunkedReader) Retry(op func() (ion.Event, error)) (ion.Event, error) {
	for {
		ev, err := op()
		if err != nil || ev != ion.EventNeedsData || !c.More() {
			return ev, err
		}
	}
}
