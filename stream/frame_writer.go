package stream

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Writer writes frames to an io.Writer.
type Writer struct {
	w       io.Writer
	withCRC bool // Whether to compute and include CRC
}

// NewWriter creates a frame writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// NewWriterWithCRC creates a writer that computes CRC for each frame.
func NewWriterWithCRC(w io.Writer) *Writer {
	return &Writer{w: w, withCRC: true}
}

// WriteFrame writes a single frame.
//
// Format:
//
//	@segment{v=1 sid=N seq=N kind=K len=N [crc=X] [base=xxh64:X] [final=true]}\n
//	<payload bytes>\n
func (w *Writer) WriteFrame(f *Frame) error {
	var header strings.Builder
	header.WriteString(headerPrefix)

	header.WriteString("v=")
	if f.Version == 0 {
		header.WriteString(strconv.Itoa(int(Version)))
	} else {
		header.WriteString(strconv.Itoa(int(f.Version)))
	}
	header.WriteString(" sid=")
	header.WriteString(strconv.FormatUint(f.SID, 10))
	header.WriteString(" seq=")
	header.WriteString(strconv.FormatUint(f.Seq, 10))
	header.WriteString(" kind=")
	header.WriteString(f.Kind.String())
	header.WriteString(" len=")
	header.WriteString(strconv.Itoa(len(f.Payload)))

	crc := f.CRC
	if crc == nil && w.withCRC && len(f.Payload) > 0 {
		computed := ComputeCRC(f.Payload)
		crc = &computed
	}
	if crc != nil {
		header.WriteString(fmt.Sprintf(" crc=%08x", *crc))
	}
	if f.Base != nil {
		header.WriteString(" base=xxh64:")
		header.WriteString(FingerprintHex(*f.Base))
	}
	if f.Final {
		header.WriteString(" final=true")
	}
	header.WriteString("}\n")

	if _, err := io.WriteString(w.w, header.String()); err != nil {
		return errors.Wrap(err, "write header")
	}
	if len(f.Payload) > 0 {
		if _, err := w.w.Write(f.Payload); err != nil {
			return errors.Wrap(err, "write payload")
		}
	}
	if _, err := io.WriteString(w.w, "\n"); err != nil {
		return errors.Wrap(err, "write trailing newline")
	}
	return nil
}

// WriteSegment writes a frame whose payload starts a new segment.
func (w *Writer) WriteSegment(sid, seq uint64, payload []byte) error {
	return w.WriteFrame(&Frame{
		Version: Version,
		SID:     sid,
		Seq:     seq,
		Kind:    KindSegment,
		Payload: payload,
	})
}

// WriteContinue writes a frame that continues the symbol context whose
// fingerprint is base.
func (w *Writer) WriteContinue(sid, seq uint64, payload []byte, base uint64) error {
	return w.WriteFrame(&Frame{
		Version: Version,
		SID:     sid,
		Seq:     seq,
		Kind:    KindContinue,
		Payload: payload,
		Base:    &base,
	})
}

// WriteAck writes an acknowledgement frame.
func (w *Writer) WriteAck(sid, seq uint64) error {
	return w.WriteFrame(&Frame{Version: Version, SID: sid, Seq: seq, Kind: KindAck})
}

// WriteErr writes an error frame.
func (w *Writer) WriteErr(sid, seq uint64, message string) error {
	return w.WriteFrame(&Frame{Version: Version, SID: sid, Seq: seq, Kind: KindErr, Payload: []byte(message)})
}

// WritePing writes a ping frame.
func (w *Writer) WritePing(sid, seq uint64) error {
	return w.WriteFrame(&Frame{Version: Version, SID: sid, Seq: seq, Kind: KindPing})
}

// WritePong writes a pong frame.
func (w *Writer) WritePong(sid, seq uint64) error {
	return w.WriteFrame(&Frame{Version: Version, SID: sid, Seq: seq, Kind: KindPong})
}

// WriteFinal writes an empty frame that ends a stream.
func (w *Writer) WriteFinal(sid, seq uint64) error {
	return w.WriteFrame(&Frame{Version: Version, SID: sid, Seq: seq, Kind: KindContinue, Final: true})
}
