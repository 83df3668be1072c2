package ion

import (
	"fmt"
	"math"
	"math/big"
)

// ============================================================
// Frames
// ============================================================

// frameKind selects where a frame's values come from.
type frameKind uint8

const (
	frameRawTop       frameKind = iota // the stream itself, with symbol table interception
	frameRawContainer                  // a container in the stream
	frameRawArgument                   // one argument of a raw invocation, read through a cursor slice
	frameBytecode                      // a macro body, a container body in a macro, or a bytecode argument
)

func (k frameKind) String() string {
	switch k {
	case frameRawTop:
		return "raw-top"
	case frameRawContainer:
		return "raw-container"
	case frameRawArgument:
		return "raw-argument"
	case frameBytecode:
		return "bytecode"
	default:
		return "unknown"
	}
}

// frame is one entry of the evaluation stack. Frames are recycled through
// Reader.free.
type frame struct {
	kind frameKind

	// container frames yield END_CONTAINER when exhausted and are only
	// removed by StepOut; the others are popped.
	container bool
	isStruct  bool

	code      *Bytecode
	pc, limit int

	args     argSource
	ownsArgs bool

	// field overrides the field name of every value the frame yields.
	field    SymbolToken
	hasField bool

	nextField    SymbolToken
	hasNextField bool
	annotations  []SymbolToken

	// invoking is set while a raw invocation's arguments are being filled.
	invoking bool
	bitmap   *PresenceBitmap
	argBase  int
}

func (f *frame) reset(kind frameKind) {
	*f = frame{kind: kind, annotations: f.annotations[:0]}
}

// takeField returns the field name for the next value: the one set by a
// FIELD_NAME instruction, else the frame's override.
func (f *frame) takeField() (SymbolToken, bool) {
	if f.hasNextField {
		f.hasNextField = false
		return f.nextField, true
	}
	return f.field, f.hasField
}

// ============================================================
// Argument sources
// ============================================================

// argSource resolves ARGUMENT_REF instructions of a macro body.
type argSource interface {
	// evaluate pushes a frame yielding argument i. Absent arguments push
	// nothing.
	evaluate(r *Reader, i int, field SymbolToken, hasField bool) error
	// close releases the source and leaves the input after the invocation.
	close(r *Reader)
}

// lazyArgs are the arguments of an invocation in the stream. They are read
// from the input only when the body refers to them.
type lazyArgs struct {
	macro  *Macro
	bitmap *PresenceBitmap
	base   int   // index of the first argument marker in Reader.args
	end    int64 // offset after the invocation
}

func (a *lazyArgs) evaluate(r *Reader, i int, field SymbolToken, hasField bool) error {
	if i >= len(a.macro.Signature) {
		return fmt.Errorf("%w: %s has no parameter %d", ErrTemplate, a.macro.Name, i)
	}
	m := r.args.At(a.base + i)
	if a.bitmap.Get(i) == PresenceVoid || m.Start == m.End {
		return nil
	}
	r.cur.PushSlice(m.Start, m.End, a.macro.Signature[i].Encoding)
	f := r.push(frameRawArgument)
	f.field, f.hasField = field, hasField
	return nil
}

func (a *lazyArgs) close(r *Reader) {
	r.cur.SeekTo(a.end)
	r.cur.Unpin()
	r.args.Truncate(a.base)
	r.bitmaps.put(a.bitmap)
	a.bitmap = nil
}

// bytecodeArgs are the arguments of an invocation inside a macro body: word
// ranges of the caller's bytecode, evaluated against the caller's arguments.
type bytecodeArgs struct {
	code   *Bytecode
	starts []int
	ends   []int
	parent argSource
}

func (a *bytecodeArgs) evaluate(r *Reader, i int, field SymbolToken, hasField bool) error {
	if i >= len(a.starts) {
		return fmt.Errorf("%w: no argument %d", ErrTemplate, i)
	}
	if a.starts[i] == a.ends[i] {
		return nil
	}
	f := r.push(frameBytecode)
	f.code, f.pc, f.limit = a.code, a.starts[i], a.ends[i]
	f.args = a.parent
	f.field, f.hasField = field, hasField
	return nil
}

func (a *bytecodeArgs) close(*Reader) {}

// ============================================================
// Stack
// ============================================================

func (r *Reader) top() *frame { return r.stack[len(r.stack)-1] }

func (r *Reader) push(kind frameKind) *frame {
	var f *frame
	if n := len(r.free); n > 0 {
		f = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		f = new(frame)
	}
	f.reset(kind)
	r.stack = append(r.stack, f)
	r.changed = true
	return f
}

// pop removes the top frame, closing the arguments it owns.
func (r *Reader) pop() {
	f := r.top()
	if f.bitmap != nil {
		r.args.Truncate(f.argBase)
		r.bitmaps.put(f.bitmap)
		f.bitmap = nil
	}
	if f.ownsArgs && f.args != nil {
		f.args.close(r)
	}
	if f.kind == frameRawArgument {
		_ = r.cur.PopSlice()
	}
	r.stack = r.stack[:len(r.stack)-1]
	f.args = nil
	f.code = nil
	r.free = append(r.free, f)
	r.changed = true
}

// nearestContainer returns the index of the innermost container frame, or
// -1 at the top level.
func (r *Reader) nearestContainer() int {
	for i := len(r.stack) - 1; i > 0; i-- {
		if r.stack[i].container {
			return i
		}
	}
	return -1
}

// ============================================================
// Stepping
// ============================================================

// next runs the trampoline: the top frame is asked for its next event until
// one is produced without the stack changing.
func (r *Reader) next() (Event, error) {
	for {
		f := r.top()
		r.changed = false
		var ev Event
		var err error
		if f.kind == frameBytecode {
			ev, err = r.stepBytecode(f)
		} else {
			ev, err = r.stepRaw(f)
		}
		if err != nil {
			return EventNeedsData, err
		}
		if ev == EventNeedsData {
			return ev, nil
		}
		if r.changed || ev == EventNeedsInstruction {
			continue
		}
		return ev, nil
	}
}

func (r *Reader) stepRaw(f *frame) (Event, error) {
	c := r.cur
	if f.kind == frameRawTop && r.tables.active() {
		done, err := r.tables.resume(c, r.symtab)
		if err != nil || !done {
			return EventNeedsData, err
		}
		return EventNeedsInstruction, nil
	}
	if f.invoking {
		return r.beginInvocation(f)
	}
	ev, err := c.NextValue()
	if err != nil || ev == EventNeedsData {
		return ev, err
	}
	switch ev {
	case EventNeedsInstruction:
		if c.IsMacroInvocation() {
			f.invoking = true
			return r.beginInvocation(f)
		}
		return ev, nil
	case EventEndContainer:
		if f.kind == frameRawArgument {
			r.pop()
		}
		return ev, nil
	}
	if f.kind == frameRawTop && isSymbolTable(c) {
		if err := r.tables.begin(c); err != nil {
			return EventNeedsData, err
		}
		return EventNeedsInstruction, nil
	}
	r.setRawValue(f, ev)
	return ev, nil
}

// beginInvocation fills the invocation the cursor is on and pushes a frame
// running the macro body. It is repeated after EventNeedsData.
func (r *Reader) beginInvocation(f *frame) (Event, error) {
	c := r.cur
	m, err := r.resolveMacro(c.MacroAddress(), c.IsSystemInvocation())
	if err != nil {
		f.invoking = false
		return EventNeedsData, err
	}
	if f.bitmap == nil {
		if f.bitmap, err = r.bitmaps.get(m.Signature); err != nil {
			f.invoking = false
			return EventNeedsData, err
		}
		f.argBase = r.args.Len()
	}
	ev, err := c.FillInvocation(m, f.bitmap, &r.args)
	if err != nil {
		r.bitmaps.put(f.bitmap)
		f.bitmap = nil
		f.invoking = false
		return EventNeedsData, err
	}
	if ev == EventNeedsData {
		if c.IsTerminated() {
			// The arguments could not be buffered and the cursor gave up.
			r.bitmaps.put(f.bitmap)
			f.bitmap = nil
			f.invoking = false
		}
		return ev, nil
	}
	c.Pin(c.HeaderStart())
	args := &lazyArgs{macro: m, bitmap: f.bitmap, base: f.argBase, end: c.ValueEnd()}
	f.bitmap = nil
	f.invoking = false

	field, hasField := f.field, f.hasField
	if !hasField {
		field, hasField = c.FieldName()
	}
	body := r.push(frameBytecode)
	body.code, body.limit = m.Body, m.Body.Len()
	body.args, body.ownsArgs = args, true
	body.field, body.hasField = field, hasField
	r.metrics.incMacroExpansion(expansionRaw)
	return EventNeedsInstruction, nil
}

func (r *Reader) resolveMacro(addr int64, system bool) (*Macro, error) {
	return r.macros.Resolve(addr, system)
}

func (r *Reader) stepBytecode(f *frame) (Event, error) {
	code := f.code
	for {
		if f.pc >= f.limit {
			if f.container {
				return EventEndContainer, nil
			}
			r.pop()
			return EventNeedsInstruction, nil
		}
		op, operand := decodeInstruction(code.Code[f.pc])
		f.pc++
		switch op {
		case opAnnotation:
			f.annotations = append(f.annotations, code.Constants[operand].(SymbolToken))
		case opAnnotations:
			for i := 0; i < operand; i++ {
				f.annotations = append(f.annotations, code.Constants[code.Code[f.pc]].(SymbolToken))
				f.pc++
			}
		case opFieldName:
			f.nextField, f.hasNextField = code.Constants[operand].(SymbolToken), true
		case opArgumentRef:
			if f.args == nil {
				return EventNeedsData, fmt.Errorf("%w: argument reference outside a macro", ErrTemplate)
			}
			field, hasField := f.takeField()
			if err := f.args.evaluate(r, operand, field, hasField); err != nil {
				return EventNeedsData, err
			}
			r.changed = true
			return EventNeedsInstruction, nil
		case opInvokeMacro:
			return r.invokeBytecode(f, code.Constants[operand].(*Macro))
		case opListStart, opSexpStart, opStructStart:
			t := ListType
			switch op {
			case opSexpStart:
				t = SexpType
			case opStructStart:
				t = StructType
			}
			r.setBytecodeValue(f, t, false, nil)
			r.value.code, r.value.bodyStart, r.value.bodyEnd = code, f.pc, f.pc+operand
			r.value.args = f.args
			f.pc += operand + 1
			return EventStartContainer, nil
		case opContainerEnd, opArgumentValue:
			return EventNeedsData, fmt.Errorf("%w: unexpected %s at %d", ErrTemplate, op, f.pc-1)
		default:
			return r.bytecodeScalar(f, op, operand)
		}
	}
}

func (r *Reader) invokeBytecode(f *frame, m *Macro) (Event, error) {
	code := f.code
	args := &bytecodeArgs{
		code:   code,
		starts: make([]int, len(m.Signature)),
		ends:   make([]int, len(m.Signature)),
		parent: f.args,
	}
	for i := range m.Signature {
		if f.pc >= f.limit {
			return EventNeedsData, fmt.Errorf("%w: %s is missing argument %d", ErrTemplate, m.Name, i)
		}
		op, n := decodeInstruction(code.Code[f.pc])
		if op != opArgumentValue {
			return EventNeedsData, fmt.Errorf("%w: expected %s, found %s", ErrTemplate, opArgumentValue, op)
		}
		args.starts[i] = f.pc + 1
		args.ends[i] = f.pc + 1 + n
		f.pc = args.ends[i]
	}
	field, hasField := f.takeField()
	body := r.push(frameBytecode)
	body.code, body.limit = m.Body, m.Body.Len()
	body.args, body.ownsArgs = args, true
	body.field, body.hasField = field, hasField
	r.metrics.incMacroExpansion(expansionBytecode)
	return EventNeedsInstruction, nil
}

func (r *Reader) bytecodeScalar(f *frame, op opcode, operand int) (Event, error) {
	code := f.code
	var (
		t      Type
		isNull bool
		v      any
	)
	switch op {
	case opNull:
		t, isNull = NullType, true
	case opTypedNull:
		t, isNull = Type(operand), true
	case opBool:
		t, v = BoolType, operand == 1
	case opSmallInt:
		t, v = IntType, int64(operand)
	case opNegSmallInt:
		t, v = IntType, -int64(operand)
	case opInlineInt:
		t, v = IntType, int64(int32(code.Code[f.pc]))
		f.pc++
	case opLong:
		t, v = IntType, code.Ints[operand]
	case opBigInt:
		t, v = IntType, code.Constants[operand].(*big.Int)
	case opFloat:
		t, v = FloatType, math.Float64frombits(uint64(code.Ints[operand]))
	case opDecimal:
		t, v = DecimalType, code.Constants[operand]
	case opTimestamp:
		t, v = TimestampType, code.Constants[operand]
	case opString:
		t, v = StringType, code.Constants[operand]
	case opEmptyString:
		t, v = StringType, ""
	case opSymbol:
		t, v = SymbolType, code.Constants[operand]
	case opEmptySymbol:
		t, v = SymbolType, NewSymbolToken("")
	case opBlob:
		t, v = BlobType, code.Constants[operand]
	case opClob:
		t, v = ClobType, code.Constants[operand]
	default:
		return EventNeedsData, fmt.Errorf("%w: unknown opcode %s", ErrTemplate, op)
	}
	r.setBytecodeValue(f, t, isNull, v)
	return EventStartScalar, nil
}
