package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

// ============================================================
// Writer Tests
// ============================================================

func TestWriter_MinimalFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteFrame(&Frame{
		Version: 1,
		SID:     0,
		Seq:     0,
		Kind:    KindSegment,
		Payload: []byte{0xE0, 0x01, 0x00, 0xEA},
	})
	if err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got := buf.String()
	want := "@segment{v=1 sid=0 seq=0 kind=segment len=4}\n\xE0\x01\x00\xEA\n"
	if got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestWriter_WithCRC(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterWithCRC(&buf)

	if err := w.WriteSegment(1, 5, []byte("hello")); err != nil {
		t.Fatalf("WriteSegment failed: %v", err)
	}
	want := fmt.Sprintf("crc=%08x", ComputeCRC([]byte("hello")))
	if !strings.Contains(buf.String(), want) {
		t.Errorf("expected %s in output: %q", want, buf.String())
	}
}

func TestWriter_WithBase(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteContinue(1, 2, []byte{0x21, 0x01}, 0xABCD); err != nil {
		t.Fatalf("WriteContinue failed: %v", err)
	}
	if !strings.Contains(buf.String(), "kind=continue") {
		t.Errorf("expected kind=continue: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "base=xxh64:000000000000abcd") {
		t.Errorf("expected base fingerprint: %q", buf.String())
	}
}

func TestWriter_FinalFlag(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteFinal(3, 9); err != nil {
		t.Fatalf("WriteFinal failed: %v", err)
	}
	want := "@segment{v=1 sid=3 seq=9 kind=continue len=0 final=true}\n\n"
	if got := buf.String(); got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestWriter_Control(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	for _, err := range []error{
		w.WriteAck(1, 1),
		w.WritePing(1, 2),
		w.WritePong(1, 3),
		w.WriteErr(1, 4, "bad input"),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}

	frames, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	kinds := []FrameKind{KindAck, KindPing, KindPong, KindErr}
	if len(frames) != len(kinds) {
		t.Fatalf("got %d frames, want %d", len(frames), len(kinds))
	}
	for i, f := range frames {
		if f.Kind != kinds[i] {
			t.Errorf("frame %d kind = %v, want %v", i, f.Kind, kinds[i])
		}
	}
	if string(frames[3].Payload) != "bad input" {
		t.Errorf("err payload = %q", frames[3].Payload)
	}
}

// ============================================================
// Reader Tests
// ============================================================

func TestReader_MinimalFrame(t *testing.T) {
	input := "@segment{v=1 sid=7 seq=2 kind=segment len=2}\n\x21\x01\n"
	r := NewReader(strings.NewReader(input))

	frame, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame.Version != 1 {
		t.Errorf("Version = %d, want 1", frame.Version)
	}
	if frame.SID != 7 {
		t.Errorf("SID = %d, want 7", frame.SID)
	}
	if frame.Seq != 2 {
		t.Errorf("Seq = %d, want 2", frame.Seq)
	}
	if frame.Kind != KindSegment {
		t.Errorf("Kind = %v, want segment", frame.Kind)
	}
	if !bytes.Equal(frame.Payload, []byte{0x21, 0x01}) {
		t.Errorf("Payload = % x", frame.Payload)
	}
	if r.Offset() != len(input) {
		t.Errorf("Offset = %d, want %d", r.Offset(), len(input))
	}
}

func TestReader_CRCMismatch(t *testing.T) {
	input := "@segment{v=1 sid=1 seq=5 kind=segment len=5 crc=deadbeef}\nhello\n"

	_, err := NewReader(strings.NewReader(input)).Next()
	var mismatch *CRCMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected CRCMismatchError, got %T: %v", err, err)
	}
	if mismatch.Expected != 0xdeadbeef {
		t.Errorf("Expected = %08x", mismatch.Expected)
	}

	// Verification can be disabled.
	frame, err := NewReader(strings.NewReader(input), WithoutCRCVerification()).Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !frame.HasCRC() {
		t.Error("expected CRC to be present")
	}
}

func TestReader_PayloadWithNewlines(t *testing.T) {
	payload := []byte{0x0A, 0x7D, 0x0A, 0x40}
	var buf bytes.Buffer
	if err := NewWriterWithCRC(&buf).WriteSegment(1, 1, payload); err != nil {
		t.Fatal(err)
	}
	if err := NewWriter(&buf).WriteAck(1, 2); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	frame, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("Payload = % x, want % x", frame.Payload, payload)
	}
	frame, err = r.Next()
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if frame.Kind != KindAck {
		t.Errorf("Kind = %v, want ack", frame.Kind)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_NumericKind(t *testing.T) {
	input := "@segment{v=1 sid=0 seq=0 kind=2 len=0}\n"
	frame, err := NewReader(strings.NewReader(input)).Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame.Kind != KindAck {
		t.Errorf("Kind = %v, want ack", frame.Kind)
	}
}

func TestReader_HeaderVariations(t *testing.T) {
	input := "@segment{v=1,sid=4,seq=1,kind=continue,len=0,base=0000000000000010,final=1}\n"
	frame, err := NewReader(strings.NewReader(input)).Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !frame.HasBase() || *frame.Base != 16 {
		t.Errorf("Base = %v, want 16", frame.Base)
	}
	if !frame.Final {
		t.Error("expected final")
	}
}

func TestReader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no prefix", "@frame{v=1 sid=0 seq=0 kind=segment len=0}\n"},
		{"no brace", "@segment{v=1 sid=0\n"},
		{"bad sid", "@segment{v=1 sid=x seq=0 kind=segment len=0}\n"},
		{"bad kind", "@segment{v=1 sid=0 seq=0 kind=doc len=0}\n"},
		{"missing kind", "@segment{v=1 sid=0 seq=0 len=0}\n"},
		{"bad version", "@segment{v=2 sid=0 seq=0 kind=segment len=0}\n"},
		{"bad crc", "@segment{v=1 sid=0 seq=0 kind=segment len=0 crc=zz}\n"},
		{"bad base", "@segment{v=1 sid=0 seq=0 kind=continue len=0 base=12}\n"},
		{"short payload", "@segment{v=1 sid=0 seq=0 kind=segment len=10}\nabc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReader(strings.NewReader(tt.input)).Next(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestReader_PayloadTooLarge(t *testing.T) {
	input := "@segment{v=1 sid=0 seq=0 kind=segment len=100}\n" + strings.Repeat("x", 100) + "\n"
	_, err := NewReader(strings.NewReader(input), WithMaxPayload(10)).Next()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %T: %v", err, err)
	}
}

func TestReader_EOF(t *testing.T) {
	if _, err := NewReader(strings.NewReader("")).Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// ============================================================
// Kinds and fingerprints
// ============================================================

func TestFrameKindString(t *testing.T) {
	tests := []struct {
		k        FrameKind
		expected string
	}{
		{KindSegment, "segment"},
		{KindContinue, "continue"},
		{KindPong, "pong"},
		{FrameKind(42), "unknown(42)"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.expected {
			t.Errorf("%d.String() = %q, expected %q", tt.k, got, tt.expected)
		}
		if tt.k <= KindPong {
			if back, ok := ParseKind(tt.expected); !ok || back != tt.k {
				t.Errorf("ParseKind(%q) = %v, %v", tt.expected, back, ok)
			}
		}
	}
	if !KindContinue.HasValues() || KindAck.HasValues() {
		t.Error("HasValues is wrong")
	}
}

func TestCRC_KnownValues(t *testing.T) {
	tests := []struct {
		data []byte
		crc  uint32
	}{
		{[]byte(""), 0x00000000},
		{[]byte("a"), 0xe8b7be43},
		{[]byte("123456789"), 0xcbf43926},
	}
	for _, tt := range tests {
		if got := ComputeCRC(tt.data); got != tt.crc {
			t.Errorf("ComputeCRC(%q) = %08x, want %08x", tt.data, got, tt.crc)
		}
	}
}

func TestFingerprintRoundTrip(t *testing.T) {
	for _, fp := range []uint64{0, 1, 0xdeadbeefcafef00d} {
		s := FingerprintHex(fp)
		back, ok := ParseFingerprint("xxh64:" + s)
		if !ok || back != fp {
			t.Errorf("ParseFingerprint(%q) = %x, %v", s, back, ok)
		}
	}
	if _, ok := ParseFingerprint("xyz"); ok {
		t.Error("ParseFingerprint(xyz) should fail")
	}
}
