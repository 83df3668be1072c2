package ion

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// TimestampPrecision is the most precise field present in a Timestamp.
type TimestampPrecision uint8

const (
	PrecisionYear TimestampPrecision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionMinute
	PrecisionSecond
	PrecisionFraction
)

func (p TimestampPrecision) String() string {
	switch p {
	case PrecisionYear:
		return "year"
	case PrecisionMonth:
		return "month"
	case PrecisionDay:
		return "day"
	case PrecisionMinute:
		return "minute"
	case PrecisionSecond:
		return "second"
	case PrecisionFraction:
		return "fraction"
	default:
		return "unknown"
	}
}

// Timestamp is a point in time with explicit precision. The fields hold local
// time at Offset minutes east of UTC; when OffsetKnown is false they hold UTC.
type Timestamp struct {
	Year, Month, Day     int
	Hour, Minute, Second int
	// Fraction is the fraction of a second in [0, 1), set only at
	// PrecisionFraction.
	Fraction    *Decimal
	Offset      int
	OffsetKnown bool
	Precision   TimestampPrecision
}

// Equal reports whether both timestamps have the same fields and precision.
func (t Timestamp) Equal(o Timestamp) bool {
	if t.Precision != o.Precision || t.OffsetKnown != o.OffsetKnown || t.Offset != o.Offset {
		return false
	}
	if t.Year != o.Year || t.Month != o.Month || t.Day != o.Day ||
		t.Hour != o.Hour || t.Minute != o.Minute || t.Second != o.Second {
		return false
	}
	if t.Precision == PrecisionFraction {
		return t.Fraction.Equal(o.Fraction)
	}
	return true
}

// Time converts t to a time.Time in its offset's zone, or UTC when the offset
// is unknown.
func (t Timestamp) Time() time.Time {
	loc := time.UTC
	if t.OffsetKnown && t.Offset != 0 {
		loc = time.FixedZone("", t.Offset*60)
	}
	month, day := t.Month, t.Day
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	var nanos int
	if t.Fraction != nil {
		f := NewDecimal(t.Fraction.coef, t.Fraction.exp+9, false)
		nanos = int(f.truncInt64())
	}
	return time.Date(t.Year, time.Month(month), day, t.Hour, t.Minute, t.Second, nanos, loc)
}

// truncInt64 returns the integer part of d.
func (d *Decimal) truncInt64() int64 {
	c := new(big.Int).Set(d.coef)
	if d.exp >= 0 {
		return c.Mul(c, pow10(int64(d.exp))).Int64()
	}
	return c.Quo(c, pow10(int64(-d.exp))).Int64()
}

// String returns the text form of t.
func (t Timestamp) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%04d", t.Year)
	if t.Precision == PrecisionYear {
		b.WriteByte('T')
		return b.String()
	}
	fmt.Fprintf(&b, "-%02d", t.Month)
	if t.Precision == PrecisionMonth {
		b.WriteByte('T')
		return b.String()
	}
	fmt.Fprintf(&b, "-%02d", t.Day)
	if t.Precision == PrecisionDay {
		return b.String()
	}
	fmt.Fprintf(&b, "T%02d:%02d", t.Hour, t.Minute)
	if t.Precision >= PrecisionSecond {
		fmt.Fprintf(&b, ":%02d", t.Second)
	}
	if t.Precision == PrecisionFraction && t.Fraction != nil {
		frac := t.Fraction.String()
		if i := strings.IndexByte(frac, '.'); i >= 0 {
			b.WriteString(frac[i:])
		}
	}
	switch {
	case !t.OffsetKnown:
		b.WriteString("-00:00")
	case t.Offset == 0:
		b.WriteByte('Z')
	default:
		off, sign := t.Offset, '+'
		if off < 0 {
			off, sign = -off, '-'
		}
		fmt.Fprintf(&b, "%c%02d:%02d", sign, off/60, off%60)
	}
	return b.String()
}

// ParseTimestamp parses the text form produced by Timestamp.String.
func ParseTimestamp(s string) (Timestamp, error) {
	var t Timestamp
	bad := func() (Timestamp, error) { return Timestamp{}, fmt.Errorf("invalid timestamp: %q", s) }
	num := func(str string) (int, bool) {
		v, err := strconv.Atoi(str)
		return v, err == nil
	}
	if len(s) < 5 {
		return bad()
	}
	var ok bool
	if t.Year, ok = num(s[:4]); !ok {
		return bad()
	}
	rest := s[4:]
	if rest == "T" {
		return t, nil
	}
	if len(rest) < 3 || rest[0] != '-' {
		return bad()
	}
	if t.Month, ok = num(rest[1:3]); !ok {
		return bad()
	}
	t.Precision = PrecisionMonth
	rest = rest[3:]
	if rest == "T" {
		return t, nil
	}
	if len(rest) < 3 || rest[0] != '-' {
		return bad()
	}
	if t.Day, ok = num(rest[1:3]); !ok {
		return bad()
	}
	t.Precision = PrecisionDay
	rest = rest[3:]
	if rest == "" || rest == "T" {
		return t, nil
	}
	if len(rest) < 6 || rest[0] != 'T' || rest[3] != ':' {
		return bad()
	}
	if t.Hour, ok = num(rest[1:3]); !ok {
		return bad()
	}
	if t.Minute, ok = num(rest[4:6]); !ok {
		return bad()
	}
	t.Precision = PrecisionMinute
	rest = rest[6:]
	if strings.HasPrefix(rest, ":") {
		if len(rest) < 3 {
			return bad()
		}
		if t.Second, ok = num(rest[1:3]); !ok {
			return bad()
		}
		t.Precision = PrecisionSecond
		rest = rest[3:]
		if strings.HasPrefix(rest, ".") {
			end := 1
			for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
				end++
			}
			frac, err := ParseDecimal("0" + rest[:end])
			if err != nil {
				return bad()
			}
			t.Fraction = frac
			t.Precision = PrecisionFraction
			rest = rest[end:]
		}
	}
	switch {
	case rest == "Z":
		t.OffsetKnown = true
	case rest == "-00:00":
	case len(rest) == 6 && (rest[0] == '+' || rest[0] == '-') && rest[3] == ':':
		h, ok1 := num(rest[1:3])
		m, ok2 := num(rest[4:6])
		if !ok1 || !ok2 {
			return bad()
		}
		t.Offset = h*60 + m
		if rest[0] == '-' {
			t.Offset = -t.Offset
		}
		t.OffsetKnown = true
	default:
		return bad()
	}
	return t, nil
}

// shiftMinutes moves the wall clock fields by delta minutes.
func (t Timestamp) shiftMinutes(delta int) Timestamp {
	if delta == 0 {
		return t
	}
	d := time.Date(t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, 0, 0, time.UTC).
		Add(time.Duration(delta) * time.Minute)
	t.Year, t.Day, t.Hour, t.Minute = d.Year(), d.Day(), d.Hour(), d.Minute()
	t.Month = int(d.Month())
	return t
}

// ============================================================
// Binary forms
// ============================================================

// decodeTimestamp10 decodes the 1.0 body layout: offset, year, then each more
// precise field while bytes remain. The encoded fields are UTC.
func decodeTimestamp10(b []byte, offset int64) (Timestamp, error) {
	var t Timestamp
	p := 0
	varUInt := func() (int, error) {
		v, n, st := decodeVarUInt(b[p:])
		if st != decodeOK || v > 1<<31 {
			return 0, malformed(offset+int64(p), "invalid timestamp field")
		}
		p += n
		return int(v), nil
	}
	mag, neg, n, st := decodeVarInt(b)
	if st != decodeOK {
		return t, malformed(offset, "invalid timestamp offset")
	}
	p = n
	if !(neg && mag == 0) {
		t.OffsetKnown = true
		t.Offset = int(mag)
		if neg {
			t.Offset = -t.Offset
		}
	}
	var err error
	if t.Year, err = varUInt(); err != nil {
		return t, err
	}
	t.Precision = PrecisionYear
	if p < len(b) {
		if t.Month, err = varUInt(); err != nil {
			return t, err
		}
		t.Precision = PrecisionMonth
	}
	if p < len(b) {
		if t.Day, err = varUInt(); err != nil {
			return t, err
		}
		t.Precision = PrecisionDay
	}
	if p < len(b) {
		if t.Hour, err = varUInt(); err != nil {
			return t, err
		}
		if p >= len(b) {
			return t, malformed(offset+int64(p), "timestamp has hour without minute")
		}
		if t.Minute, err = varUInt(); err != nil {
			return t, err
		}
		t.Precision = PrecisionMinute
	}
	if p < len(b) {
		if t.Second, err = varUInt(); err != nil {
			return t, err
		}
		t.Precision = PrecisionSecond
	}
	if p < len(b) {
		emag, eneg, n, st := decodeVarInt(b[p:])
		if st != decodeOK {
			return t, malformed(offset+int64(p), "invalid timestamp fraction exponent")
		}
		p += n
		exp := int64(emag)
		if eneg {
			exp = -exp
		}
		coef, negZero := decodeSignedMagnitude(b[p:])
		if coef.Sign() < 0 || exp > 0 {
			return t, malformed(offset+int64(p), "timestamp fraction out of range")
		}
		t.Fraction = NewDecimal(coef, int32(exp), negZero)
		t.Precision = PrecisionFraction
	}
	if t.Precision < PrecisionMinute {
		t.OffsetKnown, t.Offset = false, 0
	} else if t.OffsetKnown {
		t = t.shiftMinutes(t.Offset)
	}
	return t, nil
}

// appendTimestamp10 appends the 1.0 body layout of t (without type byte or
// length).
func appendTimestamp10(dst []byte, t Timestamp) []byte {
	utc := t
	if t.OffsetKnown && t.Precision >= PrecisionMinute {
		utc = t.shiftMinutes(-t.Offset)
		dst = appendVarInt(dst, int64(t.Offset), false)
	} else {
		dst = appendVarInt(dst, 0, true)
	}
	dst = appendVarUInt(dst, uint64(utc.Year))
	if t.Precision >= PrecisionMonth {
		dst = appendVarUInt(dst, uint64(utc.Month))
	}
	if t.Precision >= PrecisionDay {
		dst = appendVarUInt(dst, uint64(utc.Day))
	}
	if t.Precision >= PrecisionMinute {
		dst = appendVarUInt(dst, uint64(utc.Hour))
		dst = appendVarUInt(dst, uint64(utc.Minute))
	}
	if t.Precision >= PrecisionSecond {
		dst = appendVarUInt(dst, uint64(utc.Second))
	}
	if t.Precision == PrecisionFraction && t.Fraction != nil {
		dst = appendVarInt(dst, int64(t.Fraction.exp), false)
		dst = append(dst, signedMagnitude(t.Fraction.coef, t.Fraction.negZero)...)
	}
	return dst
}

// decodeShortTimestamp decodes the 1.1 short forms 0x70-0x7C. The fields are
// packed little-endian: year-1970 (7 bits), month (4), day (5), hour (5),
// minute (6), then either a UTC flag and seconds or a 7-bit offset in
// quarter hours biased by 56.
func decodeShortTimestamp(form int, b []byte, offset int64) (Timestamp, error) {
	if len(b) != shortTimestampLengths[form] {
		return Timestamp{}, malformed(offset, "short timestamp has %d bytes", len(b))
	}
	var t Timestamp
	if form == 0 {
		t.Year = int(b[0]&0x7F) + 1970
		return t, nil
	}
	width := len(b)
	if width > 8 {
		width = 8
	}
	data := decodeFixedUInt(b[:width])
	t.Year = int(data&0x7F) + 1970
	t.Month = int(data >> 7 & 0xF)
	t.Precision = PrecisionMonth
	if form == 1 {
		t.Month = int(data >> 7)
		return t, nil
	}
	t.Day = int(data >> 11 & 0x1F)
	t.Precision = PrecisionDay
	if form == 2 {
		return t, nil
	}
	t.Hour = int(data >> 16 & 0x1F)
	t.Minute = int(data >> 21 & 0x3F)
	t.Precision = PrecisionMinute
	if form <= 7 {
		t.OffsetKnown = data&0x08000000 != 0
		if form >= 4 {
			t.Second = int(data >> 28 & 0x3F)
			t.Precision = PrecisionSecond
		}
		switch form {
		case 5:
			t.Fraction = NewDecimalFromInt64(int64(data>>34&0x3FF), -3)
		case 6:
			t.Fraction = NewDecimalFromInt64(int64(data>>34&0xFFFFF), -6)
		case 7:
			t.Fraction = NewDecimalFromInt64(int64(data>>34&0x3FFFFFFF), -9)
		}
	} else {
		t.OffsetKnown = true
		t.Offset = (int(data>>27&0x7F) - 56) * 15
		if form >= 9 {
			t.Second = int(data >> 34 & 0x3F)
			t.Precision = PrecisionSecond
		}
		switch form {
		case 10:
			t.Fraction = NewDecimalFromInt64(int64(data>>40&0x3FF), -3)
		case 11:
			t.Fraction = NewDecimalFromInt64(int64(data>>40&0xFFFFF), -6)
		case 12:
			frac := data>>40 | uint64(b[8]&0x3F)<<24
			t.Fraction = NewDecimalFromInt64(int64(frac), -9)
		}
	}
	if t.Fraction != nil {
		t.Precision = PrecisionFraction
	}
	return t, nil
}
