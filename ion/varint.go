package ion

import (
	"math"
	"math/bits"
)

// Primitive integer encodings.
//
// 1.0: VarUInt/VarInt are big-endian groups of 7 bits; the last byte has the
// high bit set. VarInt keeps its sign in bit 0x40 of the first byte.
//
// 1.1: FlexUInt/FlexInt are little-endian; the number of trailing zero bits of
// the first byte plus one is the byte count. FixedInt/FixedUInt are plain
// little-endian integers whose width is known from the context.

type decodeStatus uint8

const (
	decodeOK decodeStatus = iota
	decodeShort
	decodeOverflow
)

// maxFlexWidth is the widest FlexUInt/FlexInt accepted (56 payload bits).
const maxFlexWidth = 8

func decodeVarUInt(b []byte) (uint64, int, decodeStatus) {
	var v uint64
	for i, x := range b {
		if v > math.MaxInt64>>7 {
			return 0, 0, decodeOverflow
		}
		v = v<<7 | uint64(x&0x7F)
		if x&0x80 != 0 {
			return v, i + 1, decodeOK
		}
	}
	return 0, 0, decodeShort
}

// decodeVarInt returns the magnitude and sign separately so that negative zero
// survives.
func decodeVarInt(b []byte) (mag uint64, neg bool, n int, st decodeStatus) {
	if len(b) == 0 {
		return 0, false, 0, decodeShort
	}
	first := b[0]
	neg = first&0x40 != 0
	mag = uint64(first & 0x3F)
	if first&0x80 != 0 {
		return mag, neg, 1, decodeOK
	}
	for i := 1; i < len(b); i++ {
		if mag > math.MaxInt64>>7 {
			return 0, false, 0, decodeOverflow
		}
		mag = mag<<7 | uint64(b[i]&0x7F)
		if b[i]&0x80 != 0 {
			return mag, neg, i + 1, decodeOK
		}
	}
	return 0, false, 0, decodeShort
}

// flexWidth returns the byte count announced by the first byte of a FlexUInt
// or FlexInt, or 0 when it is wider than maxFlexWidth.
func flexWidth(first byte) int {
	if first == 0 {
		return 0
	}
	return bits.TrailingZeros8(first) + 1
}

func decodeFlexUInt(b []byte) (uint64, int, decodeStatus) {
	if len(b) == 0 {
		return 0, 0, decodeShort
	}
	n := flexWidth(b[0])
	if n == 0 {
		return 0, 0, decodeOverflow
	}
	if len(b) < n {
		return 0, 0, decodeShort
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v >> uint(n), n, decodeOK
}

func decodeFlexInt(b []byte) (int64, int, decodeStatus) {
	if len(b) == 0 {
		return 0, 0, decodeShort
	}
	n := flexWidth(b[0])
	if n == 0 {
		return 0, 0, decodeOverflow
	}
	if len(b) < n {
		return 0, 0, decodeShort
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	// Sign-extend from 8n bits, then drop the n tag bits.
	shift := uint(64 - 8*n)
	return int64(v<<shift) >> shift >> uint(n), n, decodeOK
}

// decodeFixedInt decodes a little-endian two's complement integer of up to 8
// bytes.
func decodeFixedInt(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	shift := uint(64 - 8*len(b))
	return int64(v<<shift) >> shift
}

func decodeFixedUInt(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// ============================================================
// Encoders
// ============================================================

func appendVarUInt(dst []byte, v uint64) []byte {
	n := varUIntLen(v)
	for i := n - 1; i >= 0; i-- {
		x := byte(v>>(7*uint(i))) & 0x7F
		if i == 0 {
			x |= 0x80
		}
		dst = append(dst, x)
	}
	return dst
}

func varUIntLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// appendVarInt writes v; negZero forces the sign bit on a zero magnitude.
func appendVarInt(dst []byte, v int64, negZero bool) []byte {
	neg := v < 0 || (v == 0 && negZero)
	mag := uint64(v)
	if v < 0 {
		mag = uint64(-v)
	}
	// The first byte carries 6 magnitude bits, the rest 7 each.
	n := 1
	for m := mag >> 6; m > 0; m >>= 7 {
		n++
	}
	for i := n - 1; i >= 0; i-- {
		x := byte(mag>>(7*uint(i))) & 0x7F
		if i == n-1 {
			x &= 0x3F
			if neg {
				x |= 0x40
			}
		}
		if i == 0 {
			x |= 0x80
		}
		dst = append(dst, x)
	}
	return dst
}

func flexUIntLen(v uint64) int {
	n := (bits.Len64(v) + 6) / 7
	if n == 0 {
		n = 1
	}
	return n
}

func appendFlexUInt(dst []byte, v uint64) []byte {
	n := flexUIntLen(v)
	enc := v<<uint(n) | 1<<uint(n-1)
	for i := 0; i < n; i++ {
		dst = append(dst, byte(enc>>(8*uint(i))))
	}
	return dst
}

func flexIntLen(v int64) int {
	for n := 1; n < maxFlexWidth; n++ {
		limit := int64(1) << uint(7*n-1)
		if v >= -limit && v < limit {
			return n
		}
	}
	return maxFlexWidth
}

func appendFlexInt(dst []byte, v int64) []byte {
	n := flexIntLen(v)
	enc := uint64(v)<<uint(n) | 1<<uint(n-1)
	for i := 0; i < n; i++ {
		dst = append(dst, byte(enc>>(8*uint(i))))
	}
	return dst
}

// fixedIntLen returns the minimal two's complement width of v; zero needs none.
func fixedIntLen(v int64) int {
	if v == 0 {
		return 0
	}
	for n := 1; n < 8; n++ {
		limit := int64(1) << uint(8*n-1)
		if v >= -limit && v < limit {
			return n
		}
	}
	return 8
}

func appendFixedInt(dst []byte, v int64, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, byte(uint64(v)>>(8*uint(i))))
	}
	return dst
}

func appendFixedUInt(dst []byte, v uint64, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}
