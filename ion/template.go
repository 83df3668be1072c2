package ion

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

// ErrTemplate is wrapped by every template compilation error.
var ErrTemplate = errors.New("ion: invalid template")

// ============================================================
// Template expressions
// ============================================================

type exprKind uint8

const (
	exprLiteral exprKind = iota
	exprList
	exprSexp
	exprStruct
	exprVar
	exprInvoke
	exprGroup
)

// Expr is one node of a macro body: a literal, a container, a variable
// reference, a nested invocation or an expression group.
type Expr struct {
	kind        exprKind
	typ         Type
	isNull      bool
	value       any
	name        string // variable name
	field       string
	annotations []string
	children    []Expr
	macro       *Macro
}

// Type returns the type of a literal or container expression.
func (e Expr) Type() Type { return e.typ }

// LitNull returns a null of type t; NullType gives the untyped null.
func LitNull(t Type) Expr { return Expr{typ: t, isNull: true} }

// LitBool returns a bool literal.
func LitBool(v bool) Expr { return Expr{typ: BoolType, value: v} }

// LitInt returns an int literal.
func LitInt(v int64) Expr { return Expr{typ: IntType, value: v} }

// LitBigInt returns an int literal of any size.
func LitBigInt(v *big.Int) Expr { return Expr{typ: IntType, value: new(big.Int).Set(v)} }

// LitFloat returns a float literal.
func LitFloat(v float64) Expr { return Expr{typ: FloatType, value: v} }

// LitDecimal returns a decimal literal.
func LitDecimal(v *Decimal) Expr { return Expr{typ: DecimalType, value: v} }

// LitTimestamp returns a timestamp literal.
func LitTimestamp(v Timestamp) Expr { return Expr{typ: TimestampType, value: v} }

// LitString returns a string literal.
func LitString(v string) Expr { return Expr{typ: StringType, value: v} }

// LitSymbol returns a symbol literal.
func LitSymbol(v string) Expr { return Expr{typ: SymbolType, value: v} }

// LitBlob returns a blob literal.
func LitBlob(v []byte) Expr { return Expr{typ: BlobType, value: append([]byte(nil), v...)} }

// LitClob returns a clob literal.
func LitClob(v []byte) Expr { return Expr{typ: ClobType, value: append([]byte(nil), v...)} }

// List returns a list of the given expressions.
func List(elems ...Expr) Expr { return Expr{kind: exprList, typ: ListType, children: elems} }

// Sexp returns an s-expression of the given expressions.
func Sexp(elems ...Expr) Expr { return Expr{kind: exprSexp, typ: SexpType, children: elems} }

// Struct returns a struct; every element must come from Field.
func Struct(fields ...Expr) Expr { return Expr{kind: exprStruct, typ: StructType, children: fields} }

// Field names the value e inside a Struct. Naming a Group names each of its
// elements that has no field name of its own.
func Field(name string, e Expr) Expr {
	e.field = name
	return e
}

// Annotate adds annotations to a literal or container expression.
func Annotate(e Expr, annotations ...string) Expr {
	e.annotations = append(append([]string(nil), annotations...), e.annotations...)
	return e
}

// Var refers to the parameter named name.
func Var(name string) Expr { return Expr{kind: exprVar, name: name} }

// Invoke calls m with one argument expression per parameter. Use Group for
// parameters that take zero or several expressions.
func Invoke(m *Macro, args ...Expr) Expr { return Expr{kind: exprInvoke, macro: m, children: args} }

// Group is a sequence of expressions passed as one argument. An empty group
// is an absent argument.
func Group(elems ...Expr) Expr { return Expr{kind: exprGroup, children: elems} }

// ============================================================
// Compiler
// ============================================================

type compiler struct {
	sig  []Parameter
	code *Bytecode
}

// Compile turns a macro body into bytecode, resolving variables against sig.
func Compile(sig []Parameter, body ...Expr) (*Bytecode, error) {
	seen := make(map[string]bool, len(sig))
	for _, p := range sig {
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: parameter %q declared twice", ErrTemplate, p.Name)
		}
		seen[p.Name] = true
	}
	c := &compiler{sig: sig, code: &Bytecode{}}
	for _, e := range body {
		if err := c.expr(e, false); err != nil {
			return nil, err
		}
	}
	return c.code, nil
}

func (c *compiler) emit(op opcode, operand int) int {
	c.code.Code = append(c.code.Code, instruction(op, operand))
	return len(c.code.Code) - 1
}

func (c *compiler) constant(v any) (int, error) {
	if len(c.code.Constants) >= maxOperand {
		return 0, fmt.Errorf("%w: too many constants", ErrTemplate)
	}
	c.code.Constants = append(c.code.Constants, v)
	return len(c.code.Constants) - 1, nil
}

func (c *compiler) emitConstant(op opcode, v any) error {
	i, err := c.constant(v)
	if err != nil {
		return err
	}
	c.emit(op, i)
	return nil
}

func (c *compiler) param(name string) (int, bool) {
	for i, p := range c.sig {
		if p.Name == name {
			return i, true
		}
	}
	return 0, false
}

// patch stores the body length of the instruction at pc.
func (c *compiler) patch(pc int) error {
	n := len(c.code.Code) - pc - 1
	if n > maxOperand {
		return fmt.Errorf("%w: body of %d words is too long", ErrTemplate, n)
	}
	op, _ := decodeInstruction(c.code.Code[pc])
	c.code.Code[pc] = instruction(op, n)
	return nil
}

func (c *compiler) expr(e Expr, inStruct bool) error {
	if inStruct && e.kind != exprGroup {
		if e.field == "" {
			return fmt.Errorf("%w: struct member has no field name", ErrTemplate)
		}
		if err := c.emitConstant(opFieldName, NewSymbolToken(e.field)); err != nil {
			return err
		}
	}
	if len(e.annotations) > 0 {
		if e.kind == exprVar || e.kind == exprInvoke || e.kind == exprGroup {
			return fmt.Errorf("%w: only values can be annotated", ErrTemplate)
		}
		if err := c.annotations(e.annotations); err != nil {
			return err
		}
	}
	switch e.kind {
	case exprVar:
		i, ok := c.param(e.name)
		if !ok {
			return fmt.Errorf("%w: unknown variable %q", ErrTemplate, e.name)
		}
		c.emit(opArgumentRef, i)
		return nil
	case exprGroup:
		for _, child := range e.children {
			if inStruct && child.field == "" {
				child.field = e.field
			}
			if err := c.expr(child, inStruct); err != nil {
				return err
			}
		}
		return nil
	case exprInvoke:
		return c.invoke(e)
	case exprList, exprSexp, exprStruct:
		op := opListStart
		switch e.kind {
		case exprSexp:
			op = opSexpStart
		case exprStruct:
			op = opStructStart
		}
		start := c.emit(op, 0)
		for _, child := range e.children {
			if err := c.expr(child, e.kind == exprStruct); err != nil {
				return err
			}
		}
		if err := c.patch(start); err != nil {
			return err
		}
		c.emit(opContainerEnd, 0)
		return nil
	}
	return c.literal(e)
}

func (c *compiler) annotations(anns []string) error {
	if len(anns) == 1 {
		return c.emitConstant(opAnnotation, NewSymbolToken(anns[0]))
	}
	c.emit(opAnnotations, len(anns))
	for _, a := range anns {
		i, err := c.constant(NewSymbolToken(a))
		if err != nil {
			return err
		}
		c.code.Code = append(c.code.Code, uint32(i))
	}
	return nil
}

func (c *compiler) literal(e Expr) error {
	if e.isNull {
		if e.typ == NullType || e.typ == NoType {
			c.emit(opNull, 0)
		} else {
			c.emit(opTypedNull, int(e.typ))
		}
		return nil
	}
	switch v := e.value.(type) {
	case bool:
		b := 0
		if v {
			b = 1
		}
		c.emit(opBool, b)
	case int64:
		c.int(v)
	case *big.Int:
		if v.IsInt64() {
			c.int(v.Int64())
		} else {
			return c.emitConstant(opBigInt, v)
		}
	case float64:
		c.code.Ints = append(c.code.Ints, int64(math.Float64bits(v)))
		c.emit(opFloat, len(c.code.Ints)-1)
	case *Decimal:
		if v == nil {
			return fmt.Errorf("%w: nil decimal", ErrTemplate)
		}
		return c.emitConstant(opDecimal, v)
	case Timestamp:
		return c.emitConstant(opTimestamp, v)
	case string:
		switch {
		case v == "" && e.typ == StringType:
			c.emit(opEmptyString, 0)
		case v == "":
			c.emit(opEmptySymbol, 0)
		case e.typ == StringType:
			return c.emitConstant(opString, v)
		default:
			return c.emitConstant(opSymbol, NewSymbolToken(v))
		}
	case []byte:
		op := opBlob
		if e.typ == ClobType {
			op = opClob
		}
		return c.emitConstant(op, v)
	default:
		return fmt.Errorf("%w: unsupported literal %T", ErrTemplate, e.value)
	}
	return nil
}

func (c *compiler) int(v int64) {
	switch {
	case v >= 0 && v <= maxOperand:
		c.emit(opSmallInt, int(v))
	case v < 0 && v >= -maxOperand:
		c.emit(opNegSmallInt, int(-v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		c.emit(opInlineInt, 0)
		c.code.Code = append(c.code.Code, uint32(int32(v)))
	default:
		c.code.Ints = append(c.code.Ints, v)
		c.emit(opLong, len(c.code.Ints)-1)
	}
}

func (c *compiler) invoke(e Expr) error {
	m := e.macro
	if m == nil {
		return fmt.Errorf("%w: invocation without a macro", ErrTemplate)
	}
	if len(e.children) > len(m.Signature) {
		return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrTemplate, m.Name, len(m.Signature), len(e.children))
	}
	if err := c.emitConstant(opInvokeMacro, m); err != nil {
		return err
	}
	for i, p := range m.Signature {
		var arg Expr
		if i < len(e.children) {
			arg = e.children[i]
		} else {
			arg = Group()
		}
		n := 1
		if arg.kind == exprGroup {
			n = len(arg.children)
		}
		switch {
		case p.Cardinality == ExactlyOne && (arg.kind == exprGroup || n != 1):
			return fmt.Errorf("%w: %s parameter %s needs exactly one expression", ErrTemplate, m.Name, p.Name)
		case p.Cardinality == ZeroOrOne && n > 1:
			return fmt.Errorf("%w: %s parameter %s takes at most one expression", ErrTemplate, m.Name, p.Name)
		case p.Cardinality == OneOrMore && n == 0:
			return fmt.Errorf("%w: %s parameter %s needs at least one expression", ErrTemplate, m.Name, p.Name)
		}
		start := c.emit(opArgumentValue, 0)
		if err := c.expr(arg, false); err != nil {
			return err
		}
		if err := c.patch(start); err != nil {
			return err
		}
	}
	return nil
}
