package ion

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Macro table errors
var (
	ErrMacroExists   = errors.New("ion: macro name already defined")
	ErrMacroDefined  = errors.New("ion: macro already belongs to a macro table")
	ErrTooManyParams = errors.New("ion: macros support at most 128 parameters")
)

// ============================================================
// Parameters
// ============================================================

// Encoding is the wire form of an argument. Tagged arguments carry their own
// type byte; the others are tagless fixed or flexible width integers and
// floats.
type Encoding uint8

const (
	EncodingTagged Encoding = iota
	EncodingUint8
	EncodingUint16
	EncodingUint32
	EncodingUint64
	EncodingInt8
	EncodingInt16
	EncodingInt32
	EncodingInt64
	EncodingFlexUint
	EncodingFlexInt
	EncodingFloat32
	EncodingFloat64
	encodingCount
)

var encodingNames = [encodingCount]string{
	"tagged", "uint8", "uint16", "uint32", "uint64",
	"int8", "int16", "int32", "int64",
	"flex_uint", "flex_int", "float32", "float64",
}

func (e Encoding) String() string {
	if e < encodingCount {
		return encodingNames[e]
	}
	return "unknown"
}

// ParseEncoding returns the encoding with the given name.
func ParseEncoding(name string) (Encoding, error) {
	for i, n := range encodingNames {
		if n == name {
			return Encoding(i), nil
		}
	}
	return EncodingTagged, fmt.Errorf("ion: unknown encoding %q", name)
}

// FixedWidth returns the byte width of a fixed-width tagless encoding, or 0.
func (e Encoding) FixedWidth() int {
	switch e {
	case EncodingUint8, EncodingInt8:
		return 1
	case EncodingUint16, EncodingInt16:
		return 2
	case EncodingUint32, EncodingInt32, EncodingFloat32:
		return 4
	case EncodingUint64, EncodingInt64, EncodingFloat64:
		return 8
	}
	return 0
}

// IsSigned reports whether a tagless integer encoding is two's complement.
func (e Encoding) IsSigned() bool {
	switch e {
	case EncodingInt8, EncodingInt16, EncodingInt32, EncodingInt64, EncodingFlexInt:
		return true
	}
	return false
}

// Cardinality is the number of expressions a parameter accepts.
type Cardinality uint8

const (
	ExactlyOne Cardinality = iota
	ZeroOrOne
	OneOrMore
	ZeroOrMore
)

// String returns the sigil used in signatures.
func (c Cardinality) String() string {
	switch c {
	case ExactlyOne:
		return "!"
	case ZeroOrOne:
		return "?"
	case OneOrMore:
		return "+"
	case ZeroOrMore:
		return "*"
	default:
		return "unknown"
	}
}

// Parameter is one entry of a macro signature.
type Parameter struct {
	Name        string
	Encoding    Encoding
	Cardinality Cardinality
}

// String returns the parameter as written by ParseParameter.
func (p Parameter) String() string {
	var sb strings.Builder
	if p.Encoding != EncodingTagged {
		sb.WriteString(p.Encoding.String())
		sb.WriteByte(':')
	}
	sb.WriteString(p.Name)
	if p.Cardinality != ExactlyOne {
		sb.WriteString(p.Cardinality.String())
	}
	return sb.String()
}

// ParseParameter parses "name", "name?", "name*", "name+" or
// "uint8:name" forms.
func ParseParameter(s string) (Parameter, error) {
	p := Parameter{}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		enc, err := ParseEncoding(s[:i])
		if err != nil {
			return p, err
		}
		p.Encoding = enc
		s = s[i+1:]
	}
	if n := len(s); n > 0 {
		switch s[n-1] {
		case '!':
			s = s[:n-1]
		case '?':
			p.Cardinality = ZeroOrOne
			s = s[:n-1]
		case '+':
			p.Cardinality = OneOrMore
			s = s[:n-1]
		case '*':
			p.Cardinality = ZeroOrMore
			s = s[:n-1]
		}
	}
	if s == "" {
		return p, fmt.Errorf("ion: parameter has no name")
	}
	p.Name = s
	return p, nil
}

// ============================================================
// Macros
// ============================================================

// Macro is a compiled template. Address is -1 until the macro is defined in
// a MacroTable and never changes afterwards.
type Macro struct {
	Name      string
	Address   int
	Signature []Parameter
	Body      *Bytecode
	system    bool
	table     *MacroTable
}

// NewMacro compiles body against sig.
func NewMacro(name string, sig []Parameter, body ...Expr) (*Macro, error) {
	if len(sig) > maxParameters {
		return nil, ErrTooManyParams
	}
	code, err := Compile(sig, body...)
	if err != nil {
		return nil, fmt.Errorf("macro %q: %w", name, err)
	}
	return &Macro{Name: name, Address: -1, Signature: sig, Body: code}, nil
}

// MustMacro is NewMacro that panics on error.
func MustMacro(name string, sig []Parameter, body ...Expr) *Macro {
	m, err := NewMacro(name, sig, body...)
	if err != nil {
		panic(err)
	}
	return m
}

// IsSystem reports whether m belongs to the system macro table.
func (m *Macro) IsSystem() bool { return m.system }

func (m *Macro) String() string {
	params := make([]string, len(m.Signature))
	for i, p := range m.Signature {
		params[i] = p.String()
	}
	return fmt.Sprintf("(macro %s (%s))", m.Name, strings.Join(params, " "))
}

// System macro addresses.
const (
	SystemMacroNone   = 0
	SystemMacroValues = 1
	SystemMacroMeta   = 3
)

var systemMacros = func() map[int]*Macro {
	none := MustMacro("none", nil)
	values := MustMacro("values", []Parameter{{Name: "values", Cardinality: ZeroOrMore}}, Var("values"))
	meta := MustMacro("meta", []Parameter{{Name: "anything", Cardinality: ZeroOrMore}})
	table := map[int]*Macro{SystemMacroNone: none, SystemMacroValues: values, SystemMacroMeta: meta}
	for addr, m := range table {
		m.Address = addr
		m.system = true
	}
	return table
}()

// SystemMacro returns the system macro at addr, or nil.
func SystemMacro(addr int) *Macro {
	return systemMacros[addr]
}

// ============================================================
// Macro table
// ============================================================

// MacroTable maps addresses and names to macros. Addresses are assigned in
// definition order. A table is safe for concurrent use and may be shared by
// several readers.
type MacroTable struct {
	mu     sync.RWMutex
	byAddr []*Macro
	byName map[string]*Macro
}

// NewMacroTable returns a table holding macros at addresses 0, 1, ...
func NewMacroTable(macros ...*Macro) (*MacroTable, error) {
	t := &MacroTable{byName: make(map[string]*Macro)}
	for _, m := range macros {
		if _, err := t.Define(m); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Define appends m and returns its address. Anonymous macros are allowed;
// named ones must be unique. A macro belongs to at most one table.
func (t *MacroTable) Define(m *Macro) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.system || m.table != nil {
		return -1, fmt.Errorf("%w: %s", ErrMacroDefined, m.Name)
	}
	if m.Name != "" {
		if _, ok := t.byName[m.Name]; ok {
			return -1, fmt.Errorf("%w: %s", ErrMacroExists, m.Name)
		}
		t.byName[m.Name] = m
	}
	m.Address = len(t.byAddr)
	m.table = t
	t.byAddr = append(t.byAddr, m)
	return m.Address, nil
}

// Get returns the macro at addr, or nil.
func (t *MacroTable) Get(addr int64) *Macro {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if addr < 0 || addr >= int64(len(t.byAddr)) {
		return nil
	}
	return t.byAddr[addr]
}

// Lookup returns the macro named name, or nil.
func (t *MacroTable) Lookup(name string) *Macro {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byName[name]
}

// Len returns the number of macros.
func (t *MacroTable) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}

// Resolve looks up an invocation target in t or the system table.
func (t *MacroTable) Resolve(addr int64, system bool) (*Macro, error) {
	var m *Macro
	if system {
		if addr <= 0xFF {
			m = SystemMacro(int(addr))
		}
	} else {
		m = t.Get(addr)
	}
	if m == nil {
		return nil, &UnknownMacroError{Address: addr, System: system}
	}
	return m, nil
}
