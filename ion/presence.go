package ion

import "fmt"

// maxParameters bounds macro signatures so a bitmap fits fixed storage.
const maxParameters = 128

// PresenceCode is the 2-bit code that says how an argument is encoded.
type PresenceCode uint8

const (
	PresenceVoid PresenceCode = iota
	PresenceExpression
	PresenceGroup
	PresenceReserved
)

func (p PresenceCode) String() string {
	switch p {
	case PresenceVoid:
		return "VOID"
	case PresenceExpression:
		return "EXPRESSION"
	case PresenceGroup:
		return "GROUP"
	default:
		return "RESERVED"
	}
}

const noSlot = 0xFF

// PresenceBitmap holds the presence codes of one invocation. Codes are packed
// four per byte, least significant bits first, with one slot per parameter
// that is not ExactlyOne; ExactlyOne parameters always read as
// PresenceExpression.
//
// A PresenceBitmap is a value type; the reader keeps a pool of them and
// resets one per invocation with Init.
type PresenceBitmap struct {
	sig   []Parameter
	slots int
	slot  [maxParameters]uint8
	bits  [maxParameters / 4]byte
}

// Init clears b and sizes it for sig.
func (b *PresenceBitmap) Init(sig []Parameter) error {
	if len(sig) > maxParameters {
		return ErrTooManyParams
	}
	b.sig = sig
	b.slots = 0
	b.bits = [maxParameters / 4]byte{}
	for i, p := range sig {
		if p.Cardinality == ExactlyOne {
			b.slot[i] = noSlot
			continue
		}
		b.slot[i] = uint8(b.slots)
		b.slots++
	}
	return nil
}

// Len returns the number of parameters.
func (b *PresenceBitmap) Len() int { return len(b.sig) }

// ByteSize returns the encoded size of the bitmap.
func (b *PresenceBitmap) ByteSize() int { return (b.slots + 3) / 4 }

// Read loads the codes from the first ByteSize bytes of p.
func (b *PresenceBitmap) Read(p []byte) {
	copy(b.bits[:], p[:b.ByteSize()])
}

// Get returns the code of parameter i.
func (b *PresenceBitmap) Get(i int) PresenceCode {
	s := b.slot[i]
	if s == noSlot {
		return PresenceExpression
	}
	return PresenceCode(b.bits[s/4]>>(2*(s%4))) & 3
}

// Set stores the code of parameter i. Setting an ExactlyOne parameter has
// no effect.
func (b *PresenceBitmap) Set(i int, code PresenceCode) {
	s := b.slot[i]
	if s == noSlot {
		return
	}
	shift := 2 * (s % 4)
	b.bits[s/4] = b.bits[s/4]&^(3<<shift) | byte(code&3)<<shift
}

// Validate checks every code against its parameter's cardinality and that
// the unused high bits of the last byte are zero.
func (b *PresenceBitmap) Validate() error {
	for i, p := range b.sig {
		code := b.Get(i)
		var ok bool
		switch p.Cardinality {
		case ExactlyOne:
			ok = code == PresenceExpression
		case ZeroOrOne:
			ok = code == PresenceVoid || code == PresenceExpression
		case OneOrMore:
			ok = code == PresenceExpression || code == PresenceGroup
		case ZeroOrMore:
			ok = code != PresenceReserved
		}
		if !ok {
			return fmt.Errorf("presence %s is not valid for parameter %s", code, p)
		}
	}
	if rem := b.slots % 4; rem != 0 && b.bits[b.slots/4]>>(2*rem) != 0 {
		return fmt.Errorf("presence bitmap has bits set past the last parameter")
	}
	return nil
}

// AppendTo appends the encoded bitmap to dst.
func (b *PresenceBitmap) AppendTo(dst []byte) []byte {
	return append(dst, b.bits[:b.ByteSize()]...)
}

// bitmapPool recycles bitmaps for nested invocations.
type bitmapPool struct {
	free []*PresenceBitmap
}

func (p *bitmapPool) get(sig []Parameter) (*PresenceBitmap, error) {
	var b *PresenceBitmap
	if n := len(p.free); n > 0 {
		b = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		b = new(PresenceBitmap)
	}
	if err := b.Init(sig); err != nil {
		p.free = append(p.free, b)
		return nil, err
	}
	return b, nil
}

func (p *bitmapPool) put(b *PresenceBitmap) {
	if b != nil {
		b.sig = nil
		p.free = append(p.free, b)
	}
}
