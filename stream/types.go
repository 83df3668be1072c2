// Package stream carries binary segments over byte streams.
//
// It provides:
//   - Frames: a text header line followed by a binary payload, with
//     multiplexing via stream IDs (sid), ordering via sequence numbers (seq),
//     integrity via optional CRC-32 and continuation safety via the
//     fingerprint of the symbol table a payload expects (base)
//   - Per-stream cursors that carry symbol tables from one frame to the next
//   - Decompression of gzip, zstd and snappy inputs, detected by magic bytes
//   - Chunked feeding of a source for the non-blocking reader
package stream

import (
	"fmt"
	"hash/crc32"
	"strconv"
)

// Version is the framing protocol version.
const Version uint8 = 1

// FrameKind indicates the semantic category of a frame's payload.
type FrameKind uint8

const (
	KindSegment  FrameKind = 0 // Payload starts with a version marker
	KindContinue FrameKind = 1 // Payload continues the previous frame's symbol context
	KindAck      FrameKind = 2 // Acknowledgement
	KindErr      FrameKind = 3 // Error text
	KindPing     FrameKind = 4 // Keepalive
	KindPong     FrameKind = 5 // Ping response
)

// String returns the kind name.
func (k FrameKind) String() string {
	switch k {
	case KindSegment:
		return "segment"
	case KindContinue:
		return "continue"
	case KindAck:
		return "ack"
	case KindErr:
		return "err"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// ParseKind parses a kind string or numeric value.
func ParseKind(s string) (FrameKind, bool) {
	switch s {
	case "segment", "0":
		return KindSegment, true
	case "continue", "1":
		return KindContinue, true
	case "ack", "2":
		return KindAck, true
	case "err", "3":
		return KindErr, true
	case "ping", "4":
		return KindPing, true
	case "pong", "5":
		return KindPong, true
	default:
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return 0, false
		}
		return FrameKind(n), true
	}
}

// HasValues reports whether frames of this kind carry encoded values.
func (k FrameKind) HasValues() bool {
	return k == KindSegment || k == KindContinue
}

// Frame is a single framed payload.
type Frame struct {
	// Required fields
	Version uint8     // Protocol version (must be 1)
	SID     uint64    // Stream identifier
	Seq     uint64    // Sequence number (per-SID, monotonic)
	Kind    FrameKind // Frame kind
	Payload []byte    // Encoded values

	// Optional fields
	CRC   *uint32 // CRC-32 of payload (nil if not present)
	Base  *uint64 // Symbol table fingerprint the payload continues from
	Final bool    // End-of-stream marker
}

// HasCRC returns true if CRC is present.
func (f *Frame) HasCRC() bool {
	return f.CRC != nil
}

// HasBase returns true if a base fingerprint is present.
func (f *Frame) HasBase() bool {
	return f.Base != nil
}

// MaxPayloadSize is the default maximum payload size (64 MiB).
const MaxPayloadSize = 64 * 1024 * 1024

// ParseError reports a malformed frame header.
type ParseError struct {
	Reason string
	Offset int
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("stream: %s at offset %d", e.Reason, e.Offset)
	}
	return fmt.Sprintf("stream: %s", e.Reason)
}

// CRCMismatchError is returned when CRC verification fails.
type CRCMismatchError struct {
	Expected uint32
	Got      uint32
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("stream: CRC mismatch: expected %08x, got %08x", e.Expected, e.Got)
}

// BaseMismatchError is returned when a continuation expects a different
// symbol table than the stream holds.
type BaseMismatchError struct {
	SID      uint64
	Expected uint64
	Got      uint64
}

func (e *BaseMismatchError) Error() string {
	return fmt.Sprintf("stream: sid %d: base %s does not match symbol table %s",
		e.SID, FingerprintHex(e.Expected), FingerprintHex(e.Got))
}

// ============================================================
// Checksums and fingerprints
// ============================================================

var crcTable = crc32.MakeTable(crc32.IEEE)

// ComputeCRC computes CRC-32 IEEE of the given bytes.
func ComputeCRC(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// FingerprintHex formats a symbol table fingerprint as 16 hex digits.
func FingerprintHex(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// ParseFingerprint parses "xxh64:XXXXXXXXXXXXXXXX" or the bare hex digits.
func ParseFingerprint(s string) (uint64, bool) {
	if len(s) > 6 && s[:6] == "xxh64:" {
		s = s[6:]
	}
	if len(s) != 16 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
