package stream

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// headerPrefix opens every frame header line.
const headerPrefix = "@segment{"

// Reader reads frames from an io.Reader.
type Reader struct {
	r          *bufio.Reader
	maxPayload int
	verifyCRC  bool
	offset     int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxPayload sets the maximum payload size (default: 64 MiB).
func WithMaxPayload(max int) ReaderOption {
	return func(r *Reader) {
		r.maxPayload = max
	}
}

// WithoutCRCVerification accepts payloads whose CRC does not match.
func WithoutCRCVerification() ReaderOption {
	return func(r *Reader) {
		r.verifyCRC = false
	}
}

// NewReader creates a frame reader.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := &Reader{
		r:          bufio.NewReader(r),
		maxPayload: MaxPayloadSize,
		verifyCRC:  true,
	}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.offset }

// Next reads and returns the next frame.
// Returns io.EOF when no more frames are available.
func (r *Reader) Next() (*Frame, error) {
	headerLine, err := r.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && headerLine == "" {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read header")
	}
	start := r.offset
	r.offset += len(headerLine)

	frame, payloadLen, err := parseHeader(headerLine, start)
	if err != nil {
		return nil, err
	}
	if payloadLen > r.maxPayload {
		return nil, &ParseError{Reason: "payload too large: " + strconv.Itoa(payloadLen) + " > " + strconv.Itoa(r.maxPayload), Offset: start}
	}

	if payloadLen > 0 {
		frame.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r.r, frame.Payload); err != nil {
			return nil, errors.Wrapf(err, "read payload of frame at offset %d", start)
		}
		r.offset += payloadLen
	}

	// The trailing newline is optional at EOF.
	if b, err := r.r.ReadByte(); err == nil {
		if b == '\n' {
			r.offset++
		} else {
			_ = r.r.UnreadByte()
		}
	}

	if r.verifyCRC && frame.CRC != nil {
		if computed := ComputeCRC(frame.Payload); computed != *frame.CRC {
			return nil, &CRCMismatchError{Expected: *frame.CRC, Got: computed}
		}
	}
	return frame, nil
}

// parseHeader parses the @segment{...} header line.
func parseHeader(line string, offset int) (*Frame, int, error) {
	line = strings.TrimSpace(line)

	if !strings.HasPrefix(line, headerPrefix) {
		return nil, 0, &ParseError{Reason: "expected " + headerPrefix, Offset: offset}
	}
	endIdx := strings.LastIndex(line, "}")
	if endIdx < 0 {
		return nil, 0, &ParseError{Reason: "missing closing }", Offset: offset + len(line)}
	}

	frame := &Frame{Version: Version}
	payloadLen := 0
	sawKind := false

	for _, pair := range strings.FieldsFunc(line[len(headerPrefix):endIdx], isSeparator) {
		eqIdx := strings.IndexByte(pair, '=')
		if eqIdx < 0 {
			continue
		}
		key, val := pair[:eqIdx], pair[eqIdx+1:]

		switch key {
		case "v":
			v, err := strconv.ParseUint(val, 10, 8)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid version", Offset: offset}
			}
			frame.Version = uint8(v)
		case "sid":
			sid, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid sid", Offset: offset}
			}
			frame.SID = sid
		case "seq":
			seq, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid seq", Offset: offset}
			}
			frame.Seq = seq
		case "kind":
			kind, ok := ParseKind(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "invalid kind: " + val, Offset: offset}
			}
			frame.Kind = kind
			sawKind = true
		case "len":
			l, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid len", Offset: offset}
			}
			payloadLen = int(l)
		case "crc":
			crc, ok := parseCRC(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "invalid crc: " + val, Offset: offset}
			}
			frame.CRC = &crc
		case "base":
			base, ok := ParseFingerprint(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "invalid base: " + val, Offset: offset}
			}
			frame.Base = &base
		case "final":
			frame.Final = val == "true" || val == "1"
		}
	}
	if frame.Version != Version {
		return nil, 0, &ParseError{Reason: "unsupported version " + strconv.Itoa(int(frame.Version)), Offset: offset}
	}
	if !sawKind {
		return nil, 0, &ParseError{Reason: "missing kind", Offset: offset}
	}
	return frame, payloadLen, nil
}

func isSeparator(c rune) bool {
	return c == ' ' || c == ',' || c == '\t'
}

// parseCRC parses "crc32:XXXXXXXX" or "XXXXXXXX".
func parseCRC(val string) (uint32, bool) {
	val = strings.TrimPrefix(val, "crc32:")
	if len(val) != 8 {
		return 0, false
	}
	v, err := strconv.ParseUint(val, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// ReadAll reads all frames until EOF.
func (r *Reader) ReadAll() ([]*Frame, error) {
	var frames []*Frame
	for {
		frame, err := r.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}
