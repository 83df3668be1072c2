package ion

// ============================================================
// Type descriptors
// ============================================================

// DescriptorKind classifies what a leading byte introduces.
type DescriptorKind uint8

const (
	KindInvalid DescriptorKind = iota
	KindValue
	KindAnnotations
	KindNOP
	KindIVM
	KindMacro
	KindDelimitedEnd
)

func (k DescriptorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindValue:
		return "value"
	case KindAnnotations:
		return "annotations"
	case KindNOP:
		return "nop"
	case KindIVM:
		return "ivm"
	case KindMacro:
		return "macro"
	case KindDelimitedEnd:
		return "delimited-end"
	default:
		return "unknown"
	}
}

// Length markers used by TypeDescriptor.Length when the body length is not in
// the byte itself.
const (
	LengthVariable  = -1 // a VarUInt (1.0) or FlexUInt (1.1) length follows
	LengthDelimited = -2 // the container ends at a delimiter byte
)

// MacroForm describes how an invocation opcode carries its address.
type MacroForm uint8

const (
	MacroNone     MacroForm = iota
	MacroInline             // address is the byte itself
	MacroExtended           // low nibble plus a FlexUInt, biased by 64
	MacroSystem             // one address byte follows, system table
	MacroPrefixed           // FlexUInt address, then FlexUInt argument length
)

// AnnotationForm describes how a 1.1 annotation opcode lists its symbols.
type AnnotationForm uint8

const (
	AnnotationsWrapper    AnnotationForm = iota // 1.0 wrapper with lengths
	AnnotationsSID                              // FlexUInt symbol IDs
	AnnotationsSIDPrefixed                      // FlexUInt byte length, then FlexUInt symbol IDs
	AnnotationsFlexSym                          // FlexSym symbols
	AnnotationsFlexSymPrefixed                  // FlexUInt byte length, then FlexSyms
)

// TypeDescriptor is the precomputed meaning of one leading byte for one minor
// version. Descriptors are immutable and shared.
type TypeDescriptor struct {
	Byte  byte
	Minor int
	Kind  DescriptorKind
	Type  Type

	// Length is the body length in bytes, LengthVariable or LengthDelimited.
	Length int

	IsNull        bool
	IsNegativeInt bool
	Bool          bool // value of a bool descriptor

	// Variable is set when a length prefix follows the opcode.
	Variable    bool
	IsDelimited bool

	// IsInlineable is set for 1.1 symbols whose text is stored in the value.
	IsInlineable bool
	// SymbolAddress is set for 1.1 symbols encoded as an address (E1-E3).
	SymbolAddress bool
	// FlexSymFields is set for 1.1 structs whose field names are FlexSyms.
	FlexSymFields bool
	// Ordered is set for the 1.0 ordered struct, which must not be empty.
	Ordered bool
	// TypedNull is set for the 1.1 typed null opcode; the type byte follows.
	TypedNull bool

	IsMacroInvocation bool
	MacroForm         MacroForm
	// MacroID is the address carried by the byte itself, or -1.
	MacroID int

	AnnotationForm  AnnotationForm
	AnnotationCount int // 1 or 2 for the fixed-count 1.1 opcodes, 0 otherwise

	// ShortTimestamp is the 1.1 short timestamp precision index (0x70-0x7C), or -1.
	ShortTimestamp int

	// Tagless is the encoding of a synthetic descriptor for tagless values.
	Tagless Encoding
}

// IsContainer reports whether the descriptor starts a container with a body.
func (td *TypeDescriptor) IsContainer() bool {
	return td.Kind == KindValue && !td.IsNull && td.Type.IsContainer()
}

var (
	typeIDs10   [256]TypeDescriptor
	typeIDs11   [256]TypeDescriptor
	typedNulls  [12]*TypeDescriptor
	taglessDesc [encodingCount]TypeDescriptor
)

func init() {
	for i := 0; i < 256; i++ {
		typeIDs10[i] = newDescriptor10(byte(i))
		typeIDs11[i] = newDescriptor11(byte(i))
	}
	for i, b := range []byte{0x1F, 0x2F, 0x4F, 0x5F, 0x6F, 0x8F, 0x7F, 0xAF, 0x9F, 0xBF, 0xCF, 0xDF} {
		typedNulls[i] = &typeIDs10[b]
	}
	for e := Encoding(0); e < encodingCount; e++ {
		td := TypeDescriptor{Kind: KindValue, Minor: 1, Type: IntType, Tagless: e, MacroID: -1, ShortTimestamp: -1}
		if e == EncodingFloat32 || e == EncodingFloat64 {
			td.Type = FloatType
		}
		td.Length = e.FixedWidth()
		if td.Length == 0 {
			td.Length = LengthVariable
		}
		taglessDesc[e] = td
	}
}

// Lookup returns the descriptor of b for the given minor version (0 or 1).
func Lookup(b byte, minor int) *TypeDescriptor {
	if minor == 1 {
		return &typeIDs11[b]
	}
	return &typeIDs10[b]
}

// TypedNull11 returns the descriptor of the null denoted by the byte that
// follows the 1.1 typed null opcode, or nil if the byte is not a null type.
func TypedNull11(b byte) *TypeDescriptor {
	if int(b) >= len(typedNulls) {
		return nil
	}
	return typedNulls[b]
}

func taglessDescriptor(e Encoding) *TypeDescriptor {
	return &taglessDesc[e]
}

func newDescriptor10(b byte) TypeDescriptor {
	hi, lo := b>>4, int(b&0x0F)
	td := TypeDescriptor{Byte: b, Minor: 0, Kind: KindValue, MacroID: -1, ShortTimestamp: -1}
	if lo == 0x0E {
		td.Variable = true
		td.Length = LengthVariable
	} else {
		td.Length = lo
	}
	if lo == 0x0F && hi != 0x0E && hi != 0x0F {
		td.IsNull = true
		td.Length = 0
	}
	switch hi {
	case 0x0:
		if lo == 0x0F {
			td.Type = NullType
		} else {
			td.Kind = KindNOP
		}
	case 0x1:
		td.Type = BoolType
		switch lo {
		case 0x0, 0x1:
			td.Bool = lo == 1
			td.Length = 0
		case 0xF:
		default:
			td.Kind = KindInvalid
		}
	case 0x2:
		td.Type = IntType
	case 0x3:
		td.Type = IntType
		td.IsNegativeInt = true
		if lo == 0 {
			td.Kind = KindInvalid
		}
	case 0x4:
		td.Type = FloatType
		if lo != 0 && lo != 4 && lo != 8 && lo != 0xF {
			td.Kind = KindInvalid
		}
	case 0x5:
		td.Type = DecimalType
	case 0x6:
		td.Type = TimestampType
		if lo <= 1 {
			td.Kind = KindInvalid
		}
	case 0x7:
		td.Type = SymbolType
	case 0x8:
		td.Type = StringType
	case 0x9:
		td.Type = ClobType
	case 0xA:
		td.Type = BlobType
	case 0xB:
		td.Type = ListType
	case 0xC:
		td.Type = SexpType
	case 0xD:
		td.Type = StructType
		if lo == 1 {
			td.Ordered = true
			td.Variable = true
			td.Length = LengthVariable
		}
	case 0xE:
		switch {
		case lo == 0:
			td.Kind = KindIVM
		case lo < 3 || lo == 0xF:
			td.Kind = KindInvalid
		default:
			td.Kind = KindAnnotations
			td.AnnotationForm = AnnotationsWrapper
		}
	case 0xF:
		td.Kind = KindInvalid
	}
	return td
}

var shortTimestampLengths = [13]int{1, 2, 2, 4, 5, 6, 7, 8, 5, 5, 7, 8, 9}

func newDescriptor11(b byte) TypeDescriptor {
	hi, lo := b>>4, int(b&0x0F)
	td := TypeDescriptor{Byte: b, Minor: 1, Kind: KindValue, MacroID: -1, ShortTimestamp: -1, Length: lo}
	variable := func(t Type) {
		td.Type = t
		td.Variable = true
		td.Length = LengthVariable
	}
	switch {
	case b < 0x40:
		td.Kind = KindMacro
		td.IsMacroInvocation = true
		td.MacroForm = MacroInline
		td.MacroID = int(b)
		td.Length = LengthVariable
	case hi == 0x4:
		td.Kind = KindMacro
		td.IsMacroInvocation = true
		td.MacroForm = MacroExtended
		td.MacroID = lo
		td.Length = LengthVariable
	case hi == 0x5:
		switch {
		case lo <= 8:
			td.Type = IntType
		case lo == 9:
			td.Kind = KindInvalid
		case lo <= 0xD:
			td.Type = FloatType
			td.Length = [4]int{0, 2, 4, 8}[lo-0xA]
		default:
			td.Type = BoolType
			td.Bool = lo == 0xE
			td.Length = 0
		}
	case hi == 0x6:
		td.Type = DecimalType
	case hi == 0x7:
		td.Type = TimestampType
		if lo <= 0xC {
			td.ShortTimestamp = lo
			td.Length = shortTimestampLengths[lo]
		} else {
			td.Kind = KindInvalid
		}
	case hi == 0x8:
		td.Type = StringType
	case hi == 0x9:
		td.Type = SymbolType
		td.IsInlineable = true
	case hi == 0xA:
		td.Type = ListType
	case hi == 0xB:
		td.Type = SexpType
	case hi == 0xC:
		td.Type = StructType
		if lo == 1 {
			td.Kind = KindInvalid
		}
	case hi == 0xD:
		td.Type = StructType
		td.FlexSymFields = true
		if lo <= 1 {
			td.Kind = KindInvalid
		}
	case hi == 0xE:
		switch b {
		case 0xE0:
			td.Kind = KindIVM
		case 0xE1, 0xE2:
			td.Type = SymbolType
			td.SymbolAddress = true
			td.Length = lo
		case 0xE3:
			td.Type = SymbolType
			td.SymbolAddress = true
			td.Variable = true
			td.Length = LengthVariable
		case 0xE4, 0xE5:
			td.Kind = KindAnnotations
			td.AnnotationForm = AnnotationsSID
			td.AnnotationCount = lo - 3
		case 0xE6:
			td.Kind = KindAnnotations
			td.AnnotationForm = AnnotationsSIDPrefixed
		case 0xE7, 0xE8:
			td.Kind = KindAnnotations
			td.AnnotationForm = AnnotationsFlexSym
			td.AnnotationCount = lo - 6
		case 0xE9:
			td.Kind = KindAnnotations
			td.AnnotationForm = AnnotationsFlexSymPrefixed
		case 0xEA:
			td.Type = NullType
			td.IsNull = true
			td.Length = 0
		case 0xEB:
			td.Type = NullType
			td.IsNull = true
			td.TypedNull = true
			td.Length = 1
		case 0xEC:
			td.Kind = KindNOP
			td.Length = 0
		case 0xED:
			td.Kind = KindNOP
			td.Variable = true
			td.Length = LengthVariable
		case 0xEE:
			td.Kind = KindInvalid
		case 0xEF:
			td.Kind = KindMacro
			td.IsMacroInvocation = true
			td.MacroForm = MacroSystem
			td.Length = LengthVariable
		}
	default:
		switch b {
		case 0xF0:
			td.Kind = KindDelimitedEnd
			td.Length = 0
		case 0xF1, 0xF2, 0xF3:
			td.Type = [3]Type{ListType, SexpType, StructType}[b-0xF1]
			td.IsDelimited = true
			td.FlexSymFields = b == 0xF3
			td.Length = LengthDelimited
		case 0xF4:
			td.Kind = KindMacro
			td.IsMacroInvocation = true
			td.MacroForm = MacroPrefixed
			td.Variable = true
			td.Length = LengthVariable
		case 0xF5:
			variable(IntType)
		case 0xF6:
			variable(DecimalType)
		case 0xF7:
			variable(TimestampType)
		case 0xF8:
			variable(StringType)
		case 0xF9:
			variable(SymbolType)
			td.IsInlineable = true
		case 0xFA:
			variable(ListType)
		case 0xFB:
			variable(SexpType)
		case 0xFC:
			variable(StructType)
		case 0xFD:
			variable(StructType)
			td.FlexSymFields = true
		case 0xFE:
			variable(BlobType)
		case 0xFF:
			variable(ClobType)
		}
	}
	return td
}
