package ion

import "strconv"

// Type identifies the data model type of a value.
type Type uint8

const (
	NoType Type = iota
	NullType
	BoolType
	IntType
	FloatType
	DecimalType
	TimestampType
	SymbolType
	StringType
	ClobType
	BlobType
	ListType
	SexpType
	StructType
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case NoType:
		return "none"
	case NullType:
		return "null"
	case BoolType:
		return "bool"
	case IntType:
		return "int"
	case FloatType:
		return "float"
	case DecimalType:
		return "decimal"
	case TimestampType:
		return "timestamp"
	case SymbolType:
		return "symbol"
	case StringType:
		return "string"
	case ClobType:
		return "clob"
	case BlobType:
		return "blob"
	case ListType:
		return "list"
	case SexpType:
		return "sexp"
	case StructType:
		return "struct"
	default:
		return "unknown"
	}
}

// IsContainer reports whether values of the type hold child values.
func (t Type) IsContainer() bool {
	return t == ListType || t == SexpType || t == StructType
}

// Event is the result of a positioning call on a Cursor or Reader.
type Event uint8

const (
	// EventNeedsData means more input is required; repeat the call after the
	// source has grown.
	EventNeedsData Event = iota
	EventStartScalar
	EventStartContainer
	EventEndContainer
	// EventNeedsInstruction means the caller must decide how to proceed, for
	// example after a macro invocation header has been read.
	EventNeedsInstruction
	EventValueReady
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventNeedsData:
		return "NEEDS_DATA"
	case EventStartScalar:
		return "START_SCALAR"
	case EventStartContainer:
		return "START_CONTAINER"
	case EventEndContainer:
		return "END_CONTAINER"
	case EventNeedsInstruction:
		return "NEEDS_INSTRUCTION"
	case EventValueReady:
		return "VALUE_READY"
	default:
		return "UNKNOWN"
	}
}

// IntSize is the smallest Go integer representation that holds an int value.
type IntSize uint8

const (
	IntSizeInt IntSize = iota // fits int32
	IntSizeLong               // fits int64
	IntSizeBig                // needs *big.Int
)

func (s IntSize) String() string {
	switch s {
	case IntSizeInt:
		return "int"
	case IntSizeLong:
		return "long"
	case IntSizeBig:
		return "big"
	default:
		return "unknown"
	}
}

// SymbolToken is a symbol as seen by the reader: its text when known and its
// symbol ID when it was encoded by ID. Text is nil for a known slot without
// text; SID is SymbolIDUnknown for symbols encoded inline.
type SymbolToken struct {
	Text *string
	SID  int64
}

// SymbolIDUnknown marks a SymbolToken that did not come from a symbol ID.
const SymbolIDUnknown int64 = -1

// NewSymbolToken returns a token with text and no symbol ID.
func NewSymbolToken(text string) SymbolToken {
	return SymbolToken{Text: &text, SID: SymbolIDUnknown}
}

// String returns the text, or $<sid> when the text is unknown.
func (t SymbolToken) String() string {
	if t.Text != nil {
		return *t.Text
	}
	return "$" + strconv.FormatInt(t.SID, 10)
}

// Equal compares text when both tokens carry it, and IDs otherwise.
func (t SymbolToken) Equal(o SymbolToken) bool {
	if t.Text != nil && o.Text != nil {
		return *t.Text == *o.Text
	}
	if t.Text != nil || o.Text != nil {
		return false
	}
	return t.SID == o.SID
}
