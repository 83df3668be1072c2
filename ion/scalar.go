package ion

import (
	"encoding/binary"
	"math"
	"math/big"
	"unicode/utf8"
)

// ============================================================
// Scalar decoding
// ============================================================

// Symbol address biases of the 1.1 E1/E2/E3 opcodes.
const (
	symbolBias2 = 256
	symbolBias3 = 256 + 65536
)

// body returns the bytes of the current value after checking that it is a
// filled, non-null value of type t.
func (c *Cursor) body(op string, t Type) ([]byte, error) {
	if c.td == nil || c.td.IsMacroInvocation {
		return nil, usage(op, "not positioned on a value")
	}
	if c.td.Type != t {
		return nil, usage(op, "current value is %s, not %s", c.td.Type, t)
	}
	if c.td.IsNull {
		return nil, usage(op, "value is null.%s", t)
	}
	if !c.filled {
		if c.valueEnd != c.valueStart {
			return nil, usage(op, "value is not filled")
		}
		c.filled = true
	}
	return c.slice(c.valueStart, c.valueEnd), nil
}

// BoolValue returns the current bool.
func (c *Cursor) BoolValue() (bool, error) {
	if _, err := c.body("BoolValue", BoolType); err != nil {
		return false, err
	}
	return c.td.Bool, nil
}

// IntSize returns the smallest Go integer type that holds the current int.
func (c *Cursor) IntSize() (IntSize, error) {
	v, err := c.BigIntValue()
	if err != nil {
		return IntSizeInt, err
	}
	switch {
	case !v.IsInt64():
		return IntSizeBig, nil
	case v.Int64() < math.MinInt32 || v.Int64() > math.MaxInt32:
		return IntSizeLong, nil
	}
	return IntSizeInt, nil
}

// Int64Value returns the current int. Ints outside the int64 range are a
// UsageError; use BigIntValue.
func (c *Cursor) Int64Value() (int64, error) {
	b, err := c.body("Int64Value", IntType)
	if err != nil {
		return 0, err
	}
	if enc := c.td.Tagless; enc != EncodingTagged {
		return c.taglessInt(b, enc)
	}
	if c.minor == 1 {
		if len(b) <= 8 {
			return decodeFixedInt(b), nil
		}
		v := decodeTwosComplementLE(b)
		if !v.IsInt64() {
			return 0, usage("Int64Value", "int %s does not fit in int64", v)
		}
		return v.Int64(), nil
	}
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	if len(b) > 8 {
		return 0, usage("Int64Value", "int does not fit in int64")
	}
	mag := binary.BigEndian.Uint64(append(make([]byte, 8-len(b), 8), b...))
	if c.td.IsNegativeInt {
		if mag == 0 {
			return 0, malformed(c.valueStart, "negative int with zero magnitude")
		}
		if mag > 1<<63 {
			return 0, usage("Int64Value", "int does not fit in int64")
		}
		return -int64(mag), nil
	}
	if mag > math.MaxInt64 {
		return 0, usage("Int64Value", "int does not fit in int64")
	}
	return int64(mag), nil
}

func (c *Cursor) taglessInt(b []byte, enc Encoding) (int64, error) {
	switch enc {
	case EncodingFlexUint:
		v, _, _ := decodeFlexUInt(b)
		if v > math.MaxInt64 {
			return 0, usage("Int64Value", "tagless %s does not fit in int64", enc)
		}
		return int64(v), nil
	case EncodingFlexInt:
		v, _, _ := decodeFlexInt(b)
		return v, nil
	case EncodingUint64:
		v := decodeFixedUInt(b)
		if v > math.MaxInt64 {
			return 0, usage("Int64Value", "tagless %s does not fit in int64", enc)
		}
		return int64(v), nil
	}
	if enc.IsSigned() {
		return decodeFixedInt(b), nil
	}
	return int64(decodeFixedUInt(b)), nil
}

// BigIntValue returns the current int at any size.
func (c *Cursor) BigIntValue() (*big.Int, error) {
	b, err := c.body("BigIntValue", IntType)
	if err != nil {
		return nil, err
	}
	switch {
	case c.td.Tagless == EncodingUint64:
		return new(big.Int).SetUint64(decodeFixedUInt(b)), nil
	case c.td.Tagless == EncodingFlexUint:
		v, _, _ := decodeFlexUInt(b)
		return new(big.Int).SetUint64(v), nil
	case c.td.Tagless != EncodingTagged:
		v, err := c.taglessInt(b, c.td.Tagless)
		return big.NewInt(v), err
	case c.minor == 1:
		return decodeTwosComplementLE(b), nil
	}
	v := new(big.Int).SetBytes(b)
	if c.td.IsNegativeInt {
		if v.Sign() == 0 {
			return nil, malformed(c.valueStart, "negative int with zero magnitude")
		}
		v.Neg(v)
	}
	return v, nil
}

// FloatValue returns the current float. 1.1 half precision floats are
// widened.
func (c *Cursor) FloatValue() (float64, error) {
	b, err := c.body("FloatValue", FloatType)
	if err != nil {
		return 0, err
	}
	if c.minor == 0 && c.td.Tagless == EncodingTagged {
		switch len(b) {
		case 0:
			return 0, nil
		case 4:
			return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
		case 8:
			return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
		}
		return 0, malformed(c.valueStart, "float of %d bytes", len(b))
	}
	switch len(b) {
	case 0:
		return 0, nil
	case 2:
		return halfToFloat64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	}
	return 0, malformed(c.valueStart, "float of %d bytes", len(b))
}

func halfToFloat64(h uint16) float64 {
	sign := 1.0
	if h&0x8000 != 0 {
		sign = -1
	}
	exp := int(h >> 10 & 0x1F)
	frac := float64(h & 0x3FF)
	switch exp {
	case 0:
		return sign * math.Ldexp(frac, -24)
	case 0x1F:
		if frac == 0 {
			return math.Inf(int(sign))
		}
		return math.NaN()
	}
	return sign * math.Ldexp(1+frac/1024, exp-15)
}

// DecimalValue returns the current decimal.
func (c *Cursor) DecimalValue() (*Decimal, error) {
	b, err := c.body("DecimalValue", DecimalType)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return NewDecimalFromInt64(0, 0), nil
	}
	if c.minor == 1 {
		exp, n, st := decodeFlexInt(b)
		if st != decodeOK || exp < math.MinInt32 || exp > math.MaxInt32 {
			return nil, malformed(c.valueStart, "invalid decimal exponent")
		}
		coef := b[n:]
		// A single zero byte coefficient is negative zero.
		if len(coef) == 1 && coef[0] == 0 {
			return NewDecimal(nil, int32(exp), true), nil
		}
		return &Decimal{coef: decodeTwosComplementLE(coef), exp: int32(exp)}, nil
	}
	mag, neg, n, st := decodeVarInt(b)
	if st != decodeOK || mag > math.MaxInt32 {
		return nil, malformed(c.valueStart, "invalid decimal exponent")
	}
	exp := int32(mag)
	if neg {
		exp = -exp
	}
	coef, negZero := decodeSignedMagnitude(b[n:])
	return &Decimal{coef: coef, exp: exp, negZero: negZero}, nil
}

// TimestampValue returns the current timestamp.
func (c *Cursor) TimestampValue() (Timestamp, error) {
	b, err := c.body("TimestampValue", TimestampType)
	if err != nil {
		return Timestamp{}, err
	}
	if c.td.ShortTimestamp >= 0 {
		return decodeShortTimestamp(c.td.ShortTimestamp, b, c.valueStart)
	}
	if len(b) == 0 {
		return Timestamp{}, malformed(c.valueStart, "empty timestamp")
	}
	return decodeTimestamp10(b, c.valueStart)
}

// StringValue returns the current string.
func (c *Cursor) StringValue() (string, error) {
	b, err := c.body("StringValue", StringType)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", malformed(c.valueStart, "string is not valid UTF-8")
	}
	return string(b), nil
}

// SymbolValue returns the raw current symbol: inline text, or a symbol ID
// that the caller resolves.
func (c *Cursor) SymbolValue() (SymbolToken, error) {
	b, err := c.body("SymbolValue", SymbolType)
	if err != nil {
		return SymbolToken{}, err
	}
	switch {
	case c.td.IsInlineable:
		if !utf8.Valid(b) {
			return SymbolToken{}, malformed(c.valueStart, "symbol text is not valid UTF-8")
		}
		return NewSymbolToken(string(b)), nil
	case c.td.SymbolAddress:
		switch c.td.Byte {
		case 0xE1:
			return SymbolToken{SID: int64(decodeFixedUInt(b))}, nil
		case 0xE2:
			return SymbolToken{SID: int64(decodeFixedUInt(b)) + symbolBias2}, nil
		}
		v, _, st := decodeFlexUInt(b)
		if st != decodeOK {
			return SymbolToken{}, malformed(c.valueStart, "invalid symbol address")
		}
		return SymbolToken{SID: int64(v) + symbolBias3}, nil
	}
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	if len(b) > 8 {
		return SymbolToken{}, malformed(c.valueStart, "symbol ID does not fit in 64 bits")
	}
	var sid uint64
	for _, x := range b {
		sid = sid<<8 | uint64(x)
	}
	if sid > math.MaxInt64 {
		return SymbolToken{}, malformed(c.valueStart, "symbol ID out of range")
	}
	return SymbolToken{SID: int64(sid)}, nil
}

// Bytes returns the body of the current blob or clob. The slice is only valid
// until the cursor moves.
func (c *Cursor) Bytes() ([]byte, error) {
	if c.td != nil && c.td.Type == ClobType {
		return c.body("Bytes", ClobType)
	}
	return c.body("Bytes", BlobType)
}
