package ion

import (
	"encoding/binary"
	"io"
	"math"
	"math/big"
	"math/bits"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Writer receives data-model values. Values inside a struct need a field
// name set with FieldName first; Annotations apply to the next value only.
type Writer interface {
	FieldName(name SymbolToken)
	Annotations(annotations ...SymbolToken)

	WriteNull() error
	WriteNullType(t Type) error
	WriteBool(v bool) error
	WriteInt(v int64) error
	WriteBigInt(v *big.Int) error
	WriteFloat(v float64) error
	WriteDecimal(v *Decimal) error
	WriteTimestamp(v Timestamp) error
	WriteString(v string) error
	WriteSymbol(v SymbolToken) error
	WriteBlob(v []byte) error
	WriteClob(v []byte) error

	BeginList() error
	EndList() error
	BeginSexp() error
	EndSexp() error
	BeginStruct() error
	EndStruct() error

	IsInStruct() bool
	Depth() int

	// Flush writes every completed top-level value.
	Flush() error
	// Finish flushes and ends the segment; the next value starts a new one
	// with a version marker.
	Finish() error
}

// ============================================================
// Options
// ============================================================

// WriterOptions configures a BinaryWriter.
type WriterOptions struct {
	// MinorVersion selects Ion 1.0 (0) or the 1.1 dialect (1).
	MinorVersion int

	// Imports are shared tables declared by every 1.0 segment. Symbols
	// they contain are written by ID.
	Imports []*SharedTable

	Logger log.Logger
}

// DefaultWriterOptions returns options for an Ion 1.0 writer without
// imports.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{Logger: log.NewNopLogger()}
}

// WriterOption configures a BinaryWriter.
type WriterOption func(*WriterOptions)

// WithMinorVersion selects the encoding: 0 for Ion 1.0, 1 for the 1.1
// dialect.
func WithMinorVersion(minor int) WriterOption {
	return func(o *WriterOptions) { o.MinorVersion = minor }
}

// WithImports declares shared tables in every 1.0 segment.
func WithImports(tables ...*SharedTable) WriterOption {
	return func(o *WriterOptions) { o.Imports = append(o.Imports, tables...) }
}

// WithWriterLogger sets the writer's logger.
func WithWriterLogger(l log.Logger) WriterOption {
	return func(o *WriterOptions) { o.Logger = l }
}

// ============================================================
// BinaryWriter
// ============================================================

type writerFrameKind uint8

const (
	writerTop writerFrameKind = iota
	writerContainer
	writerInvocation
	writerGroup
)

type writerFrame struct {
	kind writerFrameKind
	typ  Type
	buf  []byte

	field       SymbolToken
	hasField    bool
	annotations []SymbolToken

	macro    *Macro
	prefixed bool
	bitmap   PresenceBitmap
	param    int

	encoding Encoding
	count    int
}

// BinaryWriter encodes values in the binary format. Values are buffered
// until Flush so that a 1.0 segment can declare the symbols it uses before
// the values that use them.
type BinaryWriter struct {
	out     io.Writer
	minor   int
	imports []*SharedTable
	symtab  *SymbolTableManager
	logger  log.Logger

	started  bool
	declared int

	stack []*writerFrame
	depth int

	field       SymbolToken
	hasField    bool
	annotations []SymbolToken

	scratch []byte
	sids    []int64
}

var _ Writer = (*BinaryWriter)(nil)

// NewBinaryWriter returns a writer encoding to out.
func NewBinaryWriter(out io.Writer, opts ...WriterOption) *BinaryWriter {
	o := DefaultWriterOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	w := &BinaryWriter{
		out:     out,
		minor:   o.MinorVersion,
		imports: o.Imports,
		symtab:  NewSymbolTableManager(nil, o.Logger, nil),
		logger:  o.Logger,
		stack:   []*writerFrame{{kind: writerTop}},
	}
	w.symtab.ReplaceImports(w.imports...)
	return w
}

// MinorVersion returns the minor version the writer encodes.
func (w *BinaryWriter) MinorVersion() int { return w.minor }

// SymbolTable returns a snapshot of the writer's symbol table.
func (w *BinaryWriter) SymbolTable() *Snapshot { return w.symtab.Snapshot() }

func (w *BinaryWriter) top() *writerFrame { return w.stack[len(w.stack)-1] }

// FieldName sets the field name of the next value.
func (w *BinaryWriter) FieldName(name SymbolToken) {
	w.field, w.hasField = name, true
}

// Annotations adds annotations to the next value.
func (w *BinaryWriter) Annotations(annotations ...SymbolToken) {
	w.annotations = append(w.annotations, annotations...)
}

// IsInStruct reports whether the innermost open container is a struct.
func (w *BinaryWriter) IsInStruct() bool {
	f := w.top()
	return f.kind == writerContainer && f.typ == StructType
}

// Depth returns the number of open containers.
func (w *BinaryWriter) Depth() int { return w.depth }

func (w *BinaryWriter) takePending() (SymbolToken, bool, []SymbolToken) {
	field, hasField := w.field, w.hasField
	anns := w.annotations
	w.field, w.hasField = SymbolToken{}, false
	w.annotations = nil
	return field, hasField, anns
}

// check validates the position of a tagged value about to be written.
func (w *BinaryWriter) check(op string) error {
	f := w.top()
	switch f.kind {
	case writerContainer:
		if f.typ == StructType && !w.hasField {
			return usage(op, "value in a struct needs a field name")
		}
	case writerInvocation:
		if f.param >= len(f.macro.Signature) {
			return usage(op, "%s takes %d arguments", f.macro.Name, len(f.macro.Signature))
		}
	}
	if enc, ok := w.taglessTarget(); ok {
		return usage(op, "parameter is %s, not tagged", enc)
	}
	return nil
}

// value writes one encoded tagged value with the pending field name and
// annotations.
func (w *BinaryWriter) value(op string, v []byte) error {
	if err := w.check(op); err != nil {
		return err
	}
	field, hasField, anns := w.takePending()
	return w.place(w.top(), field, hasField, anns, v)
}

// place appends v to f with its field name and annotations.
func (w *BinaryWriter) place(f *writerFrame, field SymbolToken, hasField bool, anns []SymbolToken, v []byte) error {
	if f.kind == writerContainer && f.typ == StructType {
		if !hasField {
			return usage("write", "value in a struct needs a field name")
		}
		var err error
		if f.buf, err = w.appendFieldName(f.buf, field); err != nil {
			return err
		}
	}
	var err error
	if f.buf, err = w.appendAnnotated(f.buf, anns, v); err != nil {
		return err
	}
	switch f.kind {
	case writerInvocation:
		f.bitmap.Set(f.param, PresenceExpression)
		f.param++
	case writerGroup:
		f.count++
	}
	return nil
}

// ============================================================
// Symbols
// ============================================================

// sid returns the symbol ID of tok in a 1.0 segment, declaring its text as
// a new local symbol when needed.
func (w *BinaryWriter) sid(tok SymbolToken) (int64, error) {
	if tok.Text == nil {
		if tok.SID < 0 || tok.SID > w.symtab.MaxID() {
			return 0, &UnknownSymbolError{SID: tok.SID, OutOfRange: true}
		}
		return tok.SID, nil
	}
	if sid, ok := w.symtab.FindSID(*tok.Text); ok {
		return sid, nil
	}
	w.symtab.InstallSymbols(*tok.Text)
	return w.symtab.MaxID(), nil
}

func (w *BinaryWriter) appendFieldName(dst []byte, tok SymbolToken) ([]byte, error) {
	if w.minor == 1 {
		return appendFlexSym(dst, tok), nil
	}
	sid, err := w.sid(tok)
	if err != nil {
		return dst, err
	}
	return appendVarUInt(dst, uint64(sid)), nil
}

func appendFlexSym(dst []byte, tok SymbolToken) []byte {
	switch {
	case tok.Text != nil && *tok.Text == "":
		return append(dst, 0x01, 0x90)
	case tok.Text != nil:
		dst = appendFlexInt(dst, -int64(len(*tok.Text)))
		return append(dst, *tok.Text...)
	case tok.SID <= 0:
		return append(dst, 0x01, 0xE1)
	}
	return appendFlexInt(dst, tok.SID)
}

func flexSymLen(tok SymbolToken) int {
	switch {
	case tok.Text != nil && *tok.Text == "":
		return 2
	case tok.Text != nil:
		return flexIntLen(-int64(len(*tok.Text))) + len(*tok.Text)
	case tok.SID <= 0:
		return 2
	}
	return flexIntLen(tok.SID)
}

func (w *BinaryWriter) appendAnnotated(dst []byte, anns []SymbolToken, v []byte) ([]byte, error) {
	if len(anns) == 0 {
		return append(dst, v...), nil
	}
	if w.minor == 1 {
		switch len(anns) {
		case 1:
			dst = appendFlexSym(append(dst, 0xE7), anns[0])
		case 2:
			dst = appendFlexSym(appendFlexSym(append(dst, 0xE8), anns[0]), anns[1])
		default:
			n := 0
			for _, a := range anns {
				n += flexSymLen(a)
			}
			dst = appendFlexUInt(append(dst, 0xE9), uint64(n))
			for _, a := range anns {
				dst = appendFlexSym(dst, a)
			}
		}
		return append(dst, v...), nil
	}
	w.sids = w.sids[:0]
	n := 0
	for _, a := range anns {
		sid, err := w.sid(a)
		if err != nil {
			return dst, err
		}
		w.sids = append(w.sids, sid)
		n += varUIntLen(uint64(sid))
	}
	dst = header10(dst, 0xE, varUIntLen(uint64(n))+n+len(v))
	dst = appendVarUInt(dst, uint64(n))
	for _, sid := range w.sids {
		dst = appendVarUInt(dst, uint64(sid))
	}
	return append(dst, v...), nil
}

// ============================================================
// Headers
// ============================================================

// header10 appends a 1.0 type byte for a body of n bytes.
func header10(dst []byte, hi byte, n int) []byte {
	if n < 14 {
		return append(dst, hi<<4|byte(n))
	}
	return appendVarUInt(append(dst, hi<<4|0x0E), uint64(n))
}

// header11 appends a 1.1 opcode: short+n when n fits below limit, else the
// variable-length opcode and a FlexUInt length.
func header11(dst []byte, short byte, limit int, long byte, n int) []byte {
	if n <= limit {
		return append(dst, short+byte(n))
	}
	return appendFlexUInt(append(dst, long), uint64(n))
}

func uintBytes(v uint64) int { return (bits.Len64(v) + 7) / 8 }

func appendUIntBE(dst []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}

// ============================================================
// Scalars
// ============================================================

var nullTypes10 = map[Type]byte{
	NullType: 0x0F, BoolType: 0x1F, IntType: 0x2F, FloatType: 0x4F, DecimalType: 0x5F,
	TimestampType: 0x6F, SymbolType: 0x7F, StringType: 0x8F, ClobType: 0x9F, BlobType: 0xAF,
	ListType: 0xBF, SexpType: 0xCF, StructType: 0xDF,
}

var nullTypes11 = map[Type]byte{
	BoolType: 0, IntType: 1, FloatType: 2, DecimalType: 3, TimestampType: 4, StringType: 5,
	SymbolType: 6, BlobType: 7, ClobType: 8, ListType: 9, SexpType: 10, StructType: 11,
}

// WriteNull writes an untyped null.
func (w *BinaryWriter) WriteNull() error { return w.WriteNullType(NullType) }

// WriteNullType writes a null of type t.
func (w *BinaryWriter) WriteNullType(t Type) error {
	b := w.scratch[:0]
	if w.minor == 1 {
		code, ok := nullTypes11[t]
		switch {
		case t == NullType:
			b = append(b, 0xEA)
		case ok:
			b = append(b, 0xEB, code)
		default:
			return usage("WriteNullType", "no null of type %s", t)
		}
	} else {
		code, ok := nullTypes10[t]
		if !ok {
			return usage("WriteNullType", "no null of type %s", t)
		}
		b = append(b, code)
	}
	w.scratch = b
	return w.value("WriteNullType", b)
}

// WriteBool writes a bool.
func (w *BinaryWriter) WriteBool(v bool) error {
	var b byte
	switch {
	case w.minor == 1 && v:
		b = 0x5E
	case w.minor == 1:
		b = 0x5F
	case v:
		b = 0x11
	default:
		b = 0x10
	}
	w.scratch = append(w.scratch[:0], b)
	return w.value("WriteBool", w.scratch)
}

// WriteInt writes an int, or a tagless integer argument when the current
// parameter has a fixed or flex integer encoding.
func (w *BinaryWriter) WriteInt(v int64) error {
	if enc, ok := w.taglessTarget(); ok {
		return w.writeTaglessInt(enc, v)
	}
	b := w.scratch[:0]
	if w.minor == 1 {
		n := fixedIntLen(v)
		b = appendFixedInt(append(b, 0x50+byte(n)), v, n)
	} else {
		hi := byte(0x2)
		mag := uint64(v)
		if v < 0 {
			hi = 0x3
			mag = uint64(-(v + 1)) + 1
		}
		n := uintBytes(mag)
		b = appendUIntBE(header10(b, hi, n), mag, n)
	}
	w.scratch = b
	return w.value("WriteInt", b)
}

// WriteBigInt writes an int of any size.
func (w *BinaryWriter) WriteBigInt(v *big.Int) error {
	if v.IsInt64() {
		return w.WriteInt(v.Int64())
	}
	b := w.scratch[:0]
	if w.minor == 1 {
		le := twosComplementLE(v)
		b = append(header11(b, 0x50, 8, 0xF5, len(le)), le...)
	} else {
		hi := byte(0x2)
		if v.Sign() < 0 {
			hi = 0x3
		}
		mag := new(big.Int).Abs(v).Bytes()
		b = append(header10(b, hi, len(mag)), mag...)
	}
	w.scratch = b
	return w.value("WriteBigInt", b)
}

// WriteFloat writes a float, or a tagless float argument.
func (w *BinaryWriter) WriteFloat(v float64) error {
	if enc, ok := w.taglessTarget(); ok {
		return w.writeTaglessFloat(enc, v)
	}
	b := w.scratch[:0]
	positiveZero := v == 0 && !math.Signbit(v)
	switch {
	case w.minor == 1 && positiveZero:
		b = append(b, 0x5A)
	case w.minor == 1 && float64(float32(v)) == v:
		b = binary.LittleEndian.AppendUint32(append(b, 0x5C), math.Float32bits(float32(v)))
	case w.minor == 1:
		b = binary.LittleEndian.AppendUint64(append(b, 0x5D), math.Float64bits(v))
	case positiveZero:
		b = append(b, 0x40)
	default:
		b = binary.BigEndian.AppendUint64(append(b, 0x48), math.Float64bits(v))
	}
	w.scratch = b
	return w.value("WriteFloat", b)
}

// WriteDecimal writes a decimal.
func (w *BinaryWriter) WriteDecimal(v *Decimal) error {
	if v == nil {
		return w.WriteNullType(DecimalType)
	}
	zero := v.coef.Sign() == 0 && v.exp == 0 && !v.negZero
	var body []byte
	switch {
	case zero:
	case w.minor == 1:
		body = appendFlexInt(body, int64(v.exp))
		if v.negZero {
			body = append(body, 0x00)
		} else {
			body = append(body, twosComplementLE(v.coef)...)
		}
	default:
		body = appendVarInt(body, int64(v.exp), false)
		body = append(body, signedMagnitude(v.coef, v.negZero)...)
	}
	b := w.scratch[:0]
	if w.minor == 1 {
		b = header11(b, 0x60, 15, 0xF6, len(body))
	} else {
		b = header10(b, 0x5, len(body))
	}
	w.scratch = append(b, body...)
	return w.value("WriteDecimal", w.scratch)
}

// WriteTimestamp writes a timestamp.
func (w *BinaryWriter) WriteTimestamp(v Timestamp) error {
	body := appendTimestamp10(nil, v)
	b := w.scratch[:0]
	if w.minor == 1 {
		b = appendFlexUInt(append(b, 0xF7), uint64(len(body)))
	} else {
		b = header10(b, 0x6, len(body))
	}
	w.scratch = append(b, body...)
	return w.value("WriteTimestamp", w.scratch)
}

// WriteString writes a string.
func (w *BinaryWriter) WriteString(v string) error {
	b := w.scratch[:0]
	if w.minor == 1 {
		b = header11(b, 0x80, 15, 0xF8, len(v))
	} else {
		b = header10(b, 0x8, len(v))
	}
	w.scratch = append(b, v...)
	return w.value("WriteString", w.scratch)
}

// WriteSymbol writes a symbol. In 1.0 text is declared in the segment's
// symbol table; in 1.1 it is written inline.
func (w *BinaryWriter) WriteSymbol(v SymbolToken) error {
	b := w.scratch[:0]
	if w.minor == 1 {
		switch {
		case v.Text != nil:
			b = append(header11(b, 0x90, 15, 0xF9, len(*v.Text)), *v.Text...)
		case v.SID < 0:
			return usage("WriteSymbol", "symbol has neither text nor ID")
		case v.SID < symbolBias2:
			b = append(b, 0xE1, byte(v.SID))
		case v.SID < symbolBias3:
			b = appendFixedUInt(append(b, 0xE2), uint64(v.SID-symbolBias2), 2)
		default:
			b = appendFlexUInt(append(b, 0xE3), uint64(v.SID-symbolBias3))
		}
	} else {
		sid, err := w.sid(v)
		if err != nil {
			return err
		}
		n := uintBytes(uint64(sid))
		b = appendUIntBE(header10(b, 0x7, n), uint64(sid), n)
	}
	w.scratch = b
	return w.value("WriteSymbol", b)
}

// WriteBlob writes a blob.
func (w *BinaryWriter) WriteBlob(v []byte) error { return w.lob("WriteBlob", 0xA, 0xFE, v) }

// WriteClob writes a clob.
func (w *BinaryWriter) WriteClob(v []byte) error { return w.lob("WriteClob", 0x9, 0xFF, v) }

func (w *BinaryWriter) lob(op string, hi10, op11 byte, v []byte) error {
	b := w.scratch[:0]
	if w.minor == 1 {
		b = appendFlexUInt(append(b, op11), uint64(len(v)))
	} else {
		b = header10(b, hi10, len(v))
	}
	w.scratch = append(b, v...)
	return w.value(op, w.scratch)
}

// ============================================================
// Containers
// ============================================================

func (w *BinaryWriter) begin(op string, t Type) error {
	if err := w.check(op); err != nil {
		return err
	}
	field, hasField, anns := w.takePending()
	w.stack = append(w.stack, &writerFrame{
		kind:        writerContainer,
		typ:         t,
		field:       field,
		hasField:    hasField,
		annotations: anns,
	})
	w.depth++
	return nil
}

func (w *BinaryWriter) end(op string, t Type) error {
	f := w.top()
	if f.kind != writerContainer || f.typ != t {
		return usage(op, "no open %s", t)
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.depth--
	n := len(f.buf)
	b := w.scratch[:0]
	if w.minor == 1 {
		switch t {
		case ListType:
			b = header11(b, 0xA0, 15, 0xFA, n)
		case SexpType:
			b = header11(b, 0xB0, 15, 0xFB, n)
		default:
			if n < 2 {
				b = appendFlexUInt(append(b, 0xFD), uint64(n))
			} else {
				b = header11(b, 0xD0, 15, 0xFD, n)
			}
		}
	} else {
		hi := map[Type]byte{ListType: 0xB, SexpType: 0xC, StructType: 0xD}[t]
		b = header10(b, hi, n)
	}
	w.scratch = append(b, f.buf...)
	return w.place(w.top(), f.field, f.hasField, f.annotations, w.scratch)
}

// BeginList opens a list.
func (w *BinaryWriter) BeginList() error { return w.begin("BeginList", ListType) }

// EndList closes the innermost list.
func (w *BinaryWriter) EndList() error { return w.end("EndList", ListType) }

// BeginSexp opens an s-expression.
func (w *BinaryWriter) BeginSexp() error { return w.begin("BeginSexp", SexpType) }

// EndSexp closes the innermost s-expression.
func (w *BinaryWriter) EndSexp() error { return w.end("EndSexp", SexpType) }

// BeginStruct opens a struct.
func (w *BinaryWriter) BeginStruct() error { return w.begin("BeginStruct", StructType) }

// EndStruct closes the innermost struct.
func (w *BinaryWriter) EndStruct() error { return w.end("EndStruct", StructType) }

// ============================================================
// E-expressions
// ============================================================

// BeginInvocation starts an invocation of m. Each parameter then receives
// one value, WriteVoid, or a BeginGroup/EndGroup run. Prefixed invocations
// carry their argument length.
func (w *BinaryWriter) BeginInvocation(m *Macro, prefixed bool) error {
	if w.minor != 1 {
		return usage("BeginInvocation", "macros need the 1.1 encoding")
	}
	if err := w.check("BeginInvocation"); err != nil {
		return err
	}
	if len(w.annotations) > 0 {
		return usage("BeginInvocation", "an invocation cannot be annotated")
	}
	if m.Address < 0 {
		return usage("BeginInvocation", "macro %s is not defined in a macro table", m.Name)
	}
	f := &writerFrame{kind: writerInvocation, macro: m, prefixed: prefixed}
	if err := f.bitmap.Init(m.Signature); err != nil {
		return err
	}
	f.field, f.hasField, _ = w.takePending()
	w.stack = append(w.stack, f)
	return nil
}

// WriteVoid passes no value for the current parameter.
func (w *BinaryWriter) WriteVoid() error {
	f := w.top()
	if f.kind != writerInvocation || f.param >= len(f.macro.Signature) {
		return usage("WriteVoid", "no parameter to leave empty")
	}
	if c := f.macro.Signature[f.param].Cardinality; c == ExactlyOne || c == OneOrMore {
		return usage("WriteVoid", "parameter %s needs a value", f.macro.Signature[f.param])
	}
	f.bitmap.Set(f.param, PresenceVoid)
	f.param++
	return nil
}

// BeginGroup starts an expression group for the current parameter.
func (w *BinaryWriter) BeginGroup() error {
	f := w.top()
	if f.kind != writerInvocation || f.param >= len(f.macro.Signature) {
		return usage("BeginGroup", "no parameter to group")
	}
	p := f.macro.Signature[f.param]
	if p.Cardinality == ExactlyOne {
		return usage("BeginGroup", "parameter %s takes exactly one value", p)
	}
	w.stack = append(w.stack, &writerFrame{kind: writerGroup, encoding: p.Encoding})
	return nil
}

// EndGroup ends the current expression group.
func (w *BinaryWriter) EndGroup() error {
	g := w.top()
	if g.kind != writerGroup {
		return usage("EndGroup", "no open group")
	}
	w.stack = w.stack[:len(w.stack)-1]
	f := w.top()
	p := f.macro.Signature[f.param]
	switch {
	case g.count == 0 && p.Cardinality == OneOrMore:
		return usage("EndGroup", "parameter %s needs at least one value", p)
	case g.count == 0:
		f.bitmap.Set(f.param, PresenceVoid)
	case p.Cardinality == ZeroOrOne && g.count > 1:
		return usage("EndGroup", "parameter %s takes at most one value", p)
	case p.Cardinality == ZeroOrOne:
		f.buf = append(f.buf, g.buf...)
		f.bitmap.Set(f.param, PresenceExpression)
	default:
		f.buf = appendFlexUInt(f.buf, uint64(len(g.buf)))
		f.buf = append(f.buf, g.buf...)
		f.bitmap.Set(f.param, PresenceGroup)
	}
	f.param++
	return nil
}

// EndInvocation completes the current invocation. Optional parameters not
// written are left empty.
func (w *BinaryWriter) EndInvocation() error {
	f := w.top()
	if f.kind != writerInvocation {
		return usage("EndInvocation", "no open invocation")
	}
	for ; f.param < len(f.macro.Signature); f.param++ {
		p := f.macro.Signature[f.param]
		if p.Cardinality == ExactlyOne || p.Cardinality == OneOrMore {
			return usage("EndInvocation", "%s is missing parameter %s", f.macro.Name, p)
		}
		f.bitmap.Set(f.param, PresenceVoid)
	}
	w.stack = w.stack[:len(w.stack)-1]

	args := f.bitmap.AppendTo(nil)
	args = append(args, f.buf...)
	b := w.scratch[:0]
	addr := int64(f.macro.Address)
	switch {
	case f.macro.IsSystem():
		b = append(b, 0xEF, byte(addr))
		if f.prefixed {
			return usage("EndInvocation", "system macros cannot be length-prefixed")
		}
	case f.prefixed:
		b = appendFlexUInt(append(b, 0xF4), uint64(addr))
		b = appendFlexUInt(b, uint64(len(args)))
	case addr < 64:
		b = append(b, byte(addr))
	default:
		a := addr - 64
		b = appendFlexUInt(append(b, 0x40|byte(a&0x0F)), uint64(a>>4))
	}
	w.scratch = append(b, args...)
	return w.place(w.top(), f.field, f.hasField, nil, w.scratch)
}

// taglessTarget reports the encoding of the current parameter when it is
// not tagged.
func (w *BinaryWriter) taglessTarget() (Encoding, bool) {
	f := w.top()
	switch f.kind {
	case writerInvocation:
		if f.param < len(f.macro.Signature) {
			enc := f.macro.Signature[f.param].Encoding
			return enc, enc != EncodingTagged
		}
	case writerGroup:
		return f.encoding, f.encoding != EncodingTagged
	}
	return EncodingTagged, false
}

func (w *BinaryWriter) writeTaglessInt(enc Encoding, v int64) error {
	if len(w.annotations) > 0 || w.hasField {
		return usage("WriteInt", "tagless values have no annotations or field name")
	}
	b := w.scratch[:0]
	width := enc.FixedWidth()
	switch {
	case enc == EncodingFloat32 || enc == EncodingFloat64:
		return usage("WriteInt", "parameter is %s", enc)
	case enc == EncodingFlexUint:
		if v < 0 || v >= 1<<(7*maxFlexWidth) {
			return usage("WriteInt", "%d does not fit %s", v, enc)
		}
		b = appendFlexUInt(b, uint64(v))
	case enc == EncodingFlexInt:
		limit := int64(1) << (7*maxFlexWidth - 1)
		if v < -limit || v >= limit {
			return usage("WriteInt", "%d does not fit %s", v, enc)
		}
		b = appendFlexInt(b, v)
	case enc.IsSigned():
		if width < 8 && (v < -(1<<(8*width-1)) || v >= 1<<(8*width-1)) {
			return usage("WriteInt", "%d does not fit %s", v, enc)
		}
		b = appendFixedInt(b, v, width)
	default:
		if v < 0 || (width < 8 && v >= 1<<(8*width)) {
			return usage("WriteInt", "%d does not fit %s", v, enc)
		}
		b = appendFixedUInt(b, uint64(v), width)
	}
	w.scratch = b
	return w.place(w.top(), SymbolToken{}, false, nil, b)
}

func (w *BinaryWriter) writeTaglessFloat(enc Encoding, v float64) error {
	if len(w.annotations) > 0 || w.hasField {
		return usage("WriteFloat", "tagless values have no annotations or field name")
	}
	b := w.scratch[:0]
	switch enc {
	case EncodingFloat32:
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
	case EncodingFloat64:
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	default:
		return usage("WriteFloat", "parameter is %s", enc)
	}
	w.scratch = b
	return w.place(w.top(), SymbolToken{}, false, nil, b)
}

// writeRaw appends an already encoded 1.0 value whose symbol IDs are valid
// in the writer's table.
func (w *BinaryWriter) writeRaw(v []byte) error {
	if w.minor != 0 {
		return usage("writeRaw", "raw values need the 1.0 encoding")
	}
	if err := w.check("writeRaw"); err != nil {
		return err
	}
	field, hasField, _ := w.takePending()
	return w.place(w.top(), field, hasField, nil, v)
}

// ============================================================
// Output
// ============================================================

var (
	ivm10 = []byte{0xE0, 0x01, 0x00, 0xEA}
	ivm11 = []byte{0xE0, 0x01, 0x01, 0xEA}
)

// Flush writes the completed top-level values, preceded by a version
// marker and symbol table declarations as needed.
func (w *BinaryWriter) Flush() error {
	if len(w.stack) > 1 {
		return usage("Flush", "containers or invocations are still open")
	}
	top := w.top()
	var out []byte
	if !w.started {
		if w.minor == 1 {
			out = append(out, ivm11...)
		} else {
			out = append(out, ivm10...)
		}
	}
	if w.minor == 0 {
		out = w.appendSymbolTable(out)
	}
	w.started = true
	out = append(out, top.buf...)
	top.buf = top.buf[:0]
	if len(out) == 0 {
		return nil
	}
	_, err := w.out.Write(out)
	level.Debug(w.logger).Log("msg", "flushed", "bytes", len(out), "symbols", w.declared)
	return err
}

// Finish flushes and ends the segment.
func (w *BinaryWriter) Finish() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.started = false
	w.declared = 0
	w.symtab.ReplaceImports(w.imports...)
	return nil
}

// appendSymbolTable declares the imports and the local symbols added since
// the last flush.
func (w *BinaryWriter) appendSymbolTable(dst []byte) []byte {
	locals := w.symtab.Snapshot().LocalSymbols()
	fresh := locals[w.declared:]
	if w.started && len(fresh) == 0 {
		return dst
	}
	if !w.started && len(fresh) == 0 && len(w.imports) == 0 {
		return dst
	}
	var body []byte
	if w.started {
		body = appendVarUInt(body, sidImports)
		body = append(body, 0x71, sidSymbolTable)
	} else if len(w.imports) > 0 {
		var list []byte
		for _, t := range w.symtab.Snapshot().Imports()[1:] {
			var imp []byte
			imp = appendVarUInt(imp, sidName)
			imp = append(header10(imp, 0x8, len(t.Name())), t.Name()...)
			imp = appendVarUInt(imp, sidVersion)
			n := uintBytes(uint64(t.Version()))
			imp = appendUIntBE(header10(imp, 0x2, n), uint64(t.Version()), n)
			imp = appendVarUInt(imp, sidMaxID)
			n = uintBytes(uint64(t.MaxID()))
			imp = appendUIntBE(header10(imp, 0x2, n), uint64(t.MaxID()), n)
			list = append(header10(list, 0xD, len(imp)), imp...)
		}
		body = appendVarUInt(body, sidImports)
		body = append(header10(body, 0xB, len(list)), list...)
	}
	if len(fresh) > 0 {
		var list []byte
		for _, s := range fresh {
			if s == nil {
				list = append(list, 0x0F)
				continue
			}
			list = append(header10(list, 0x8, len(*s)), *s...)
		}
		body = appendVarUInt(body, sidSymbols)
		body = append(header10(body, 0xB, len(list)), list...)
	}
	w.declared = len(locals)

	var st []byte
	st = append(header10(st, 0xD, len(body)), body...)
	ann := appendVarUInt(nil, sidSymbolTable)
	dst = header10(dst, 0xE, varUIntLen(uint64(len(ann)))+len(ann)+len(st))
	dst = appendVarUInt(dst, uint64(len(ann)))
	dst = append(dst, ann...)
	return append(dst, st...)
}
