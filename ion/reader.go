package ion

import (
	"io"
	"math/big"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ============================================================
// Options
// ============================================================

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Cursor CursorOptions

	// Catalog resolves shared symbol table imports. May be nil.
	Catalog Catalog

	// Macros holds the macros addressed by e-expressions. May be nil, in
	// which case only system macros resolve.
	Macros *MacroTable
}

// DefaultReaderOptions returns the default options.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{Cursor: DefaultCursorOptions()}
}

// ReaderOption configures a Reader.
type ReaderOption func(*ReaderOptions)

// WithCatalog sets the catalog used to resolve imports.
func WithCatalog(cat Catalog) ReaderOption {
	return func(o *ReaderOptions) { o.Catalog = cat }
}

// WithMacroTable sets the macros available to e-expressions.
func WithMacroTable(t *MacroTable) ReaderOption {
	return func(o *ReaderOptions) { o.Macros = t }
}

// WithMaxBufferSize bounds the bytes one value may occupy (default: 64MiB).
func WithMaxBufferSize(n int64) ReaderOption {
	return func(o *ReaderOptions) { o.Cursor.MaxBufferSize = n }
}

// WithInitialBufferSize sets the starting buffer capacity (default: 32KiB).
func WithInitialBufferSize(n int) ReaderOption {
	return func(o *ReaderOptions) { o.Cursor.InitialBufferSize = n }
}

// WithOversizedValueHandler is called for every value skipped because it
// exceeds the maximum buffer size.
func WithOversizedValueHandler(fn func()) ReaderOption {
	return func(o *ReaderOptions) { o.Cursor.OnOversizedValue = fn }
}

// WithOversizedSymbolTableHandler is called when a symbol table exceeds the
// maximum buffer size. The reader stops afterwards.
func WithOversizedSymbolTableHandler(fn func()) ReaderOption {
	return func(o *ReaderOptions) { o.Cursor.OnOversizedSymbolTable = fn }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) ReaderOption {
	return func(o *ReaderOptions) { o.Cursor.Logger = l }
}

// WithMetrics sets the metrics the reader records to.
func WithMetrics(m *Metrics) ReaderOption {
	return func(o *ReaderOptions) { o.Cursor.Metrics = m }
}

// ============================================================
// Reader
// ============================================================

// currentValue is the value the reader is positioned on. Raw values are read
// through the cursor; values produced by a macro body carry their data here.
type currentValue struct {
	ev  Event
	raw bool

	typ    Type
	isNull bool

	field       SymbolToken
	hasField    bool
	annotations []SymbolToken

	scalar any

	code               *Bytecode
	bodyStart, bodyEnd int
	args               argSource
}

// Reader is the application view of a stream: symbol tables are consumed,
// symbol IDs resolve to text and macro invocations are expanded into the
// values they produce.
type Reader struct {
	cur     *Cursor
	symtab  *SymbolTableManager
	tables  symtabReader
	macros  *MacroTable
	logger  log.Logger
	metrics *Metrics

	stack   []*frame
	free    []*frame
	changed bool
	depth   int

	args    MarkerList
	bitmaps bitmapPool

	value currentValue
}

// NewReader returns a reader that refills from src.
func NewReader(src io.Reader, opts ...ReaderOption) *Reader {
	o := applyReaderOptions(opts)
	return newReader(NewCursor(src, o.Cursor), o)
}

// NewReaderBytes returns a reader over a complete input.
func NewReaderBytes(b []byte, opts ...ReaderOption) *Reader {
	o := applyReaderOptions(opts)
	return newReader(NewCursorBytes(b, o.Cursor), o)
}

func applyReaderOptions(opts []ReaderOption) ReaderOptions {
	o := DefaultReaderOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Cursor.Logger == nil {
		o.Cursor.Logger = log.NewNopLogger()
	}
	return o
}

func newReader(c *Cursor, o ReaderOptions) *Reader {
	r := &Reader{
		cur:     c,
		symtab:  NewSymbolTableManager(o.Catalog, o.Cursor.Logger, o.Cursor.Metrics),
		macros:  o.Macros,
		logger:  o.Cursor.Logger,
		metrics: o.Cursor.Metrics,
	}
	c.RegisterIVMHandler(func(major, minor int) {
		r.symtab.Reset()
	})
	c.SetMacroResolver(r.resolveMacro)
	r.push(frameRawTop)
	r.clearValue()
	return r
}

// RegisterIVMHandler adds fn to the handlers called when a version marker
// is read. The reader's own handler, which resets the symbol table, runs
// first.
func (r *Reader) RegisterIVMHandler(fn func(major, minor int)) {
	r.cur.RegisterIVMHandler(fn)
}

// MinorVersion returns the minor version of the stream: 0 or 1.
func (r *Reader) MinorVersion() int { return r.cur.MinorVersion() }

// Macros returns the macro table, which may be nil.
func (r *Reader) Macros() *MacroTable { return r.macros }

func (r *Reader) clearValue() {
	r.value = currentValue{annotations: r.value.annotations[:0]}
	r.value.ev = EventNeedsInstruction
}

// NextValue moves to the next value at the current depth. Symbol tables and
// macro invocations are consumed; EventNeedsData means the call must be
// repeated once more input is available.
func (r *Reader) NextValue() (Event, error) {
	r.clearValue()
	ev, err := r.next()
	if err != nil {
		return EventNeedsData, err
	}
	r.value.ev = ev
	if r.depth == 0 && (ev == EventStartScalar || ev == EventStartContainer) {
		size := int64(-1)
		if r.value.raw && r.cur.ValueEnd() >= 0 {
			size = r.cur.ValueEnd() - r.cur.HeaderStart()
		}
		r.metrics.observeValue(size)
	}
	return ev, nil
}

// FillValue makes the body of the current scalar available. It returns
// EventValueReady, EventNeedsData, or EventNeedsInstruction when the value
// was too large and has been skipped.
func (r *Reader) FillValue() (Event, error) {
	switch r.value.ev {
	case EventStartScalar, EventStartContainer, EventValueReady:
	default:
		return EventNeedsData, usage("FillValue", "not positioned on a value")
	}
	if !r.value.raw {
		r.value.ev = EventValueReady
		return EventValueReady, nil
	}
	ev, err := r.cur.FillValue()
	if err != nil {
		return EventNeedsData, err
	}
	switch ev {
	case EventValueReady:
		r.value.ev = EventValueReady
	case EventNeedsInstruction:
		r.clearValue()
	}
	return ev, nil
}

// StepIn enters the current container.
func (r *Reader) StepIn() (Event, error) {
	v := &r.value
	if (v.ev != EventStartContainer && v.ev != EventValueReady) || !v.typ.IsContainer() {
		return EventNeedsData, usage("StepIn", "not positioned on a container")
	}
	if v.isNull {
		return EventNeedsData, usage("StepIn", "cannot step into a null %s", v.typ)
	}
	isStruct := v.typ == StructType
	if v.raw {
		ev, err := r.cur.StepIn()
		if err != nil || ev == EventNeedsData {
			return ev, err
		}
		f := r.push(frameRawContainer)
		f.container, f.isStruct = true, isStruct
	} else {
		code, start, end, args := v.code, v.bodyStart, v.bodyEnd, v.args
		f := r.push(frameBytecode)
		f.container, f.isStruct = true, isStruct
		f.code, f.pc, f.limit = code, start, end
		f.args = args
	}
	r.depth++
	r.clearValue()
	return EventNeedsInstruction, nil
}

// StepOut leaves the innermost container, abandoning any expansion in
// progress inside it.
func (r *Reader) StepOut() (Event, error) {
	i := r.nearestContainer()
	if i < 0 {
		return EventNeedsData, usage("StepOut", "not inside a container")
	}
	for len(r.stack)-1 > i {
		r.pop()
	}
	f := r.stack[i]
	if f.bitmap != nil {
		r.args.Truncate(f.argBase)
		r.bitmaps.put(f.bitmap)
		f.bitmap = nil
	}
	f.invoking = false
	if f.kind == frameRawContainer {
		ev, err := r.cur.StepOut()
		if err != nil || ev == EventNeedsData {
			return ev, err
		}
	}
	r.pop()
	r.depth--
	r.clearValue()
	return EventNeedsInstruction, nil
}

// Depth returns the number of containers stepped into.
func (r *Reader) Depth() int { return r.depth }

// Close ends the stream, failing if it ended inside a value.
func (r *Reader) Close() error {
	if r.tables.active() {
		_ = r.cur.Close()
		return malformed(r.cur.Offset(), "stream ended inside a symbol table")
	}
	return r.cur.Close()
}

// ============================================================
// Symbol tables
// ============================================================

// SymbolTable returns a snapshot of the active symbol table.
func (r *Reader) SymbolTable() *Snapshot { return r.symtab.Snapshot() }

// IsSymbolTableSubsetOf reports whether every symbol of the active table has
// the same ID and text in s.
func (r *Reader) IsSymbolTableSubsetOf(s *Snapshot) bool { return r.symtab.IsSubsetOf(s) }

// RestoreSymbolTable replaces the active symbol table with s.
func (r *Reader) RestoreSymbolTable(s *Snapshot) { r.symtab.Restore(s) }

// ResetEncodingContext returns to the system symbol table.
func (r *Reader) ResetEncodingContext() {
	r.symtab.Reset()
	level.Debug(r.logger).Log("msg", "encoding context reset", "offset", r.cur.Offset())
}

// resolve fills in the text of tok when the symbol table knows it.
func (r *Reader) resolve(tok SymbolToken) SymbolToken {
	if tok.Text != nil {
		return tok
	}
	if text, known, err := r.symtab.Lookup(tok.SID); err == nil && known {
		tok.Text = &text
	}
	return tok
}

func (r *Reader) text(tok SymbolToken) (string, error) {
	if tok.Text != nil {
		return *tok.Text, nil
	}
	return r.symtab.Text(tok.SID)
}

// ============================================================
// Current value
// ============================================================

func (r *Reader) setRawValue(f *frame, ev Event) {
	c := r.cur
	v := &r.value
	v.raw = true
	v.typ = c.Type()
	v.isNull = c.IsNull()
	if f.hasField {
		v.field, v.hasField = f.field, true
	} else {
		v.field, v.hasField = c.FieldName()
	}
	for i := 0; i < c.AnnotationCount(); i++ {
		v.annotations = append(v.annotations, c.Annotation(i))
	}
}

func (r *Reader) setBytecodeValue(f *frame, t Type, isNull bool, scalar any) {
	v := &r.value
	v.raw = false
	v.typ, v.isNull, v.scalar = t, isNull, scalar
	v.field, v.hasField = f.takeField()
	v.annotations = append(v.annotations, f.annotations...)
	f.annotations = f.annotations[:0]
}

// Type returns the type of the current value, or NoType.
func (r *Reader) Type() Type { return r.value.typ }

// IsNull reports whether the current value is a null.
func (r *Reader) IsNull() bool { return r.value.isNull }

// IsInStruct reports whether the reader is inside a struct.
func (r *Reader) IsInStruct() bool {
	i := r.nearestContainer()
	return i >= 0 && r.stack[i].isStruct
}

// HasFieldName reports whether the current value has a field name.
func (r *Reader) HasFieldName() bool { return r.value.hasField }

// FieldNameSymbol returns the field name of the current value with its text
// resolved when known.
func (r *Reader) FieldNameSymbol() (SymbolToken, bool) {
	if !r.value.hasField {
		return SymbolToken{}, false
	}
	return r.resolve(r.value.field), true
}

// FieldName returns the text of the current field name, or "" when there is
// none. It fails when the name is a symbol ID without known text.
func (r *Reader) FieldName() (string, error) {
	if !r.value.hasField {
		return "", nil
	}
	return r.text(r.value.field)
}

// HasAnnotations reports whether the current value is annotated.
func (r *Reader) HasAnnotations() bool { return len(r.value.annotations) > 0 }

// AnnotationSymbols returns the annotations of the current value with their
// text resolved when known.
func (r *Reader) AnnotationSymbols() []SymbolToken {
	out := make([]SymbolToken, len(r.value.annotations))
	for i, a := range r.value.annotations {
		out[i] = r.resolve(a)
	}
	return out
}

// Annotations returns the text of every annotation on the current value.
func (r *Reader) Annotations() ([]string, error) {
	out := make([]string, len(r.value.annotations))
	for i, a := range r.value.annotations {
		t, err := r.text(a)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (r *Reader) scalar(op string, t Type) (any, error) {
	v := &r.value
	if v.ev != EventStartScalar && v.ev != EventValueReady {
		return nil, usage(op, "not positioned on a scalar")
	}
	if v.typ != t {
		return nil, usage(op, "value is %s, not %s", v.typ, t)
	}
	if v.isNull {
		return nil, usage(op, "value is null")
	}
	return v.scalar, nil
}

// BoolValue returns the current bool.
func (r *Reader) BoolValue() (bool, error) {
	if r.value.raw {
		return r.cur.BoolValue()
	}
	v, err := r.scalar("BoolValue", BoolType)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// IntSize reports the smallest Go type holding the current int.
func (r *Reader) IntSize() (IntSize, error) {
	if r.value.raw {
		return r.cur.IntSize()
	}
	v, err := r.scalar("IntSize", IntType)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		if n == int64(int32(n)) {
			return IntSizeInt, nil
		}
		return IntSizeLong, nil
	case *big.Int:
		if n.IsInt64() {
			return IntSizeLong, nil
		}
	}
	return IntSizeBig, nil
}

// Int64Value returns the current int, failing when it does not fit.
func (r *Reader) Int64Value() (int64, error) {
	if r.value.raw {
		return r.cur.Int64Value()
	}
	v, err := r.scalar("Int64Value", IntType)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case *big.Int:
		if n.IsInt64() {
			return n.Int64(), nil
		}
	}
	return 0, usage("Int64Value", "int does not fit in 64 bits")
}

// BigIntValue returns the current int.
func (r *Reader) BigIntValue() (*big.Int, error) {
	if r.value.raw {
		return r.cur.BigIntValue()
	}
	v, err := r.scalar("BigIntValue", IntType)
	if err != nil {
		return nil, err
	}
	if n, ok := v.(int64); ok {
		return big.NewInt(n), nil
	}
	return new(big.Int).Set(v.(*big.Int)), nil
}

// FloatValue returns the current float.
func (r *Reader) FloatValue() (float64, error) {
	if r.value.raw {
		return r.cur.FloatValue()
	}
	v, err := r.scalar("FloatValue", FloatType)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// DecimalValue returns the current decimal.
func (r *Reader) DecimalValue() (*Decimal, error) {
	if r.value.raw {
		return r.cur.DecimalValue()
	}
	v, err := r.scalar("DecimalValue", DecimalType)
	if err != nil {
		return nil, err
	}
	return v.(*Decimal), nil
}

// TimestampValue returns the current timestamp.
func (r *Reader) TimestampValue() (Timestamp, error) {
	if r.value.raw {
		return r.cur.TimestampValue()
	}
	v, err := r.scalar("TimestampValue", TimestampType)
	if err != nil {
		return Timestamp{}, err
	}
	return v.(Timestamp), nil
}

// StringValue returns the current string, or the text of the current
// symbol. Symbols without known text fail with an UnknownSymbolError.
func (r *Reader) StringValue() (string, error) {
	if r.value.typ == SymbolType {
		tok, err := r.SymbolValue()
		if err != nil {
			return "", err
		}
		return r.text(tok)
	}
	if r.value.raw {
		return r.cur.StringValue()
	}
	v, err := r.scalar("StringValue", StringType)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SymbolValue returns the current symbol with its text resolved when known.
// Unknown text is not an error here.
func (r *Reader) SymbolValue() (SymbolToken, error) {
	if r.value.raw {
		tok, err := r.cur.SymbolValue()
		if err != nil {
			return SymbolToken{}, err
		}
		return r.resolve(tok), nil
	}
	v, err := r.scalar("SymbolValue", SymbolType)
	if err != nil {
		return SymbolToken{}, err
	}
	return v.(SymbolToken), nil
}

// Bytes returns the content of the current blob or clob.
func (r *Reader) Bytes() ([]byte, error) {
	if r.value.raw {
		return r.cur.Bytes()
	}
	t := r.value.typ
	if t != ClobType {
		t = BlobType
	}
	v, err := r.scalar("Bytes", t)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// rawValue returns the encoded bytes of the current value when it was read
// from a 1.0 stream and is filled.
func (r *Reader) rawValue() ([]byte, bool) {
	if !r.value.raw || r.cur.MinorVersion() != 0 || r.value.ev != EventValueReady {
		return nil, false
	}
	return r.cur.RawValue()
}

// isRaw reports whether the current value was read from the stream rather
// than produced by a macro.
func (r *Reader) isRaw() bool { return r.value.raw }
