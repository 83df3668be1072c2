package stream

import (
	"bytes"

	"github.com/Neumenon/ionic/ion"
)

// SegmentWriter frames the output of an ion.BinaryWriter: every Flush sends
// the bytes written since the previous flush as one frame. The first frame of
// a segment is a KindSegment frame; later ones continue its symbol context
// and carry the fingerprint they expect as base.
type SegmentWriter struct {
	fw  *Writer
	sid uint64
	seq uint64

	buf  bytes.Buffer
	w    *ion.BinaryWriter
	base *uint64
}

// NewSegmentWriter returns a writer for stream sid. Sequence numbers start
// at 1.
func NewSegmentWriter(fw *Writer, sid uint64, opts ...ion.WriterOption) *SegmentWriter {
	sw := &SegmentWriter{fw: fw, sid: sid}
	sw.w = ion.NewBinaryWriter(&sw.buf, opts...)
	return sw
}

// Writer returns the value writer. Values are buffered until Flush.
func (sw *SegmentWriter) Writer() *ion.BinaryWriter { return sw.w }

// Seq returns the sequence number of the last frame sent.
func (sw *SegmentWriter) Seq() uint64 { return sw.seq }

// Flush sends the pending values as one frame. Nothing is sent when there is
// nothing new to write.
func (sw *SegmentWriter) Flush() error {
	if err := sw.w.Flush(); err != nil {
		return err
	}
	return sw.send()
}

// Finish ends the segment. The next frame starts a new one.
func (sw *SegmentWriter) Finish() error {
	if err := sw.w.Finish(); err != nil {
		return err
	}
	if err := sw.send(); err != nil {
		return err
	}
	sw.base = nil
	return nil
}

// Close finishes the segment and sends the final frame.
func (sw *SegmentWriter) Close() error {
	if err := sw.Finish(); err != nil {
		return err
	}
	sw.seq++
	return sw.fw.WriteFinal(sw.sid, sw.seq)
}

func (sw *SegmentWriter) send() error {
	if sw.buf.Len() == 0 {
		return nil
	}
	payload := append([]byte(nil), sw.buf.Bytes()...)
	sw.buf.Reset()

	sw.seq++
	frame := &Frame{Version: Version, SID: sw.sid, Seq: sw.seq, Payload: payload}
	if sw.base == nil {
		frame.Kind = KindSegment
	} else {
		frame.Kind = KindContinue
		frame.Base = sw.base
	}
	if err := sw.fw.WriteFrame(frame); err != nil {
		return err
	}
	fp := sw.w.SymbolTable().Fingerprint()
	sw.base = &fp
	return nil
}
