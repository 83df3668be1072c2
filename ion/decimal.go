package ion

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Decimal is an arbitrary precision decimal: value = coefficient * 10^exponent.
//
// The encoding keeps precision, so 1.0 and 1.00 are different values, and a
// negative zero coefficient is distinct from zero.
type Decimal struct {
	coef    *big.Int
	exp     int32
	negZero bool
}

// NewDecimal returns coef * 10^exp. The coefficient is copied.
func NewDecimal(coef *big.Int, exp int32, negZero bool) *Decimal {
	c := new(big.Int)
	if coef != nil {
		c.Set(coef)
	}
	return &Decimal{coef: c, exp: exp, negZero: negZero && c.Sign() == 0}
}

// NewDecimalFromInt64 returns v * 10^exp.
func NewDecimalFromInt64(v int64, exp int32) *Decimal {
	return &Decimal{coef: big.NewInt(v), exp: exp}
}

// ParseDecimal parses a decimal in text form: "123.45", "-0.0", "1.5d-3" or
// "2e10".
func ParseDecimal(s string) (*Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("invalid decimal: empty")
	}
	mant, expPart := s, ""
	if i := strings.IndexAny(s, "dDeE"); i >= 0 {
		mant, expPart = s[:i], s[i+1:]
	}
	var exp int64
	if expPart != "" {
		v, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal exponent %q: %w", s, err)
		}
		exp = v
	}
	neg := strings.HasPrefix(mant, "-")
	digits := strings.TrimLeft(mant, "+-")
	if dot := strings.IndexByte(digits, '.'); dot >= 0 {
		frac := digits[dot+1:]
		exp -= int64(len(frac))
		digits = digits[:dot] + frac
	}
	if digits == "" {
		return nil, fmt.Errorf("invalid decimal: %s", s)
	}
	coef, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal: %s", s)
	}
	if exp < -1<<31 || exp > 1<<31-1 {
		return nil, fmt.Errorf("decimal exponent out of range: %s", s)
	}
	if neg {
		coef.Neg(coef)
	}
	return &Decimal{coef: coef, exp: int32(exp), negZero: neg && coef.Sign() == 0}, nil
}

// Coefficient returns a copy of the coefficient.
func (d *Decimal) Coefficient() *big.Int { return new(big.Int).Set(d.coef) }

// Exponent returns the power of ten.
func (d *Decimal) Exponent() int32 { return d.exp }

// IsNegativeZero reports whether d is -0 at some precision.
func (d *Decimal) IsNegativeZero() bool { return d.negZero }

// Sign returns -1, 0 or +1. Negative zero has sign 0.
func (d *Decimal) Sign() int { return d.coef.Sign() }

// Equal reports whether d and o have the same coefficient, exponent and sign
// of zero.
func (d *Decimal) Equal(o *Decimal) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.exp == o.exp && d.negZero == o.negZero && d.coef.Cmp(o.coef) == 0
}

// Cmp compares the numeric values, ignoring precision.
func (d *Decimal) Cmp(o *Decimal) int {
	a, b := new(big.Int).Set(d.coef), new(big.Int).Set(o.coef)
	switch {
	case d.exp > o.exp:
		a.Mul(a, pow10(int64(d.exp)-int64(o.exp)))
	case d.exp < o.exp:
		b.Mul(b, pow10(int64(o.exp)-int64(d.exp)))
	}
	return a.Cmp(b)
}

// Float64 converts d, possibly losing precision.
func (d *Decimal) Float64() float64 {
	f, _ := strconv.ParseFloat(d.coef.String()+"e"+strconv.Itoa(int(d.exp)), 64)
	if d.negZero {
		return -f
	}
	return f
}

// String returns the text form: digits with a decimal point when the exponent
// is not positive, "d" notation otherwise.
func (d *Decimal) String() string {
	digits := new(big.Int).Abs(d.coef).String()
	sign := ""
	if d.coef.Sign() < 0 || d.negZero {
		sign = "-"
	}
	switch {
	case d.exp > 0:
		return sign + digits + "d" + strconv.Itoa(int(d.exp))
	case d.exp == 0:
		return sign + digits + "."
	}
	scale := int(-d.exp)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	return sign + digits[:point] + "." + digits[point:]
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// ============================================================
// Binary forms
// ============================================================

// signedMagnitude returns the big-endian sign-and-magnitude bytes of v used by
// 1.0 Int fields. Zero is empty unless negZero is set.
func signedMagnitude(v *big.Int, negZero bool) []byte {
	mag := new(big.Int).Abs(v).Bytes()
	neg := v.Sign() < 0 || (v.Sign() == 0 && negZero)
	if len(mag) == 0 {
		if neg {
			return []byte{0x80}
		}
		return nil
	}
	if mag[0]&0x80 != 0 {
		mag = append([]byte{0}, mag...)
	}
	if neg {
		mag[0] |= 0x80
	}
	return mag
}

// decodeSignedMagnitude is the inverse of signedMagnitude.
func decodeSignedMagnitude(b []byte) (*big.Int, bool) {
	if len(b) == 0 {
		return new(big.Int), false
	}
	neg := b[0]&0x80 != 0
	mag := make([]byte, len(b))
	copy(mag, b)
	mag[0] &= 0x7F
	v := new(big.Int).SetBytes(mag)
	if neg {
		v.Neg(v)
	}
	return v, neg && v.Sign() == 0
}

// twosComplementLE returns the minimal little-endian two's complement bytes of
// v; zero is empty.
func twosComplementLE(v *big.Int) []byte {
	if v.Sign() == 0 {
		return nil
	}
	if v.IsInt64() {
		n := fixedIntLen(v.Int64())
		return appendFixedInt(nil, v.Int64(), n)
	}
	var be []byte
	if v.Sign() > 0 {
		be = v.Bytes()
		if be[0]&0x80 != 0 {
			be = append([]byte{0}, be...)
		}
	} else {
		// -v - 1 inverted gives the two's complement of v.
		m := new(big.Int).Neg(v)
		m.Sub(m, big.NewInt(1))
		be = m.Bytes()
		if len(be) == 0 || be[0]&0x80 != 0 {
			be = append([]byte{0}, be...)
		}
		for i := range be {
			be[i] = ^be[i]
		}
	}
	le := make([]byte, len(be))
	for i := range be {
		le[len(be)-1-i] = be[i]
	}
	return le
}

// decodeTwosComplementLE decodes little-endian two's complement bytes of any
// width.
func decodeTwosComplementLE(b []byte) *big.Int {
	if len(b) <= 8 {
		return big.NewInt(decodeFixedInt(b))
	}
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	v := new(big.Int).SetBytes(be)
	if be[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	return v
}
