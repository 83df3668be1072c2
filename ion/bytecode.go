package ion

import "fmt"

// ============================================================
// Bytecode
// ============================================================

// opcode is the high byte of a bytecode instruction; the low 24 bits are its
// operand.
type opcode uint8

const (
	opAnnotation opcode = iota + 1 // operand: constant index of a SymbolToken
	opAnnotations                  // operand: n; n constant indexes follow
	opNull
	opTypedNull // operand: Type
	opBool      // operand: 0 or 1
	opSmallInt  // operand: value
	opNegSmallInt
	opInlineInt // next word: int32
	opLong      // operand: primitive pool index
	opBigInt    // operand: constant index
	opFloat     // operand: primitive pool index of the float bits
	opDecimal
	opTimestamp
	opString
	opSymbol
	opBlob
	opClob
	opEmptyString
	opEmptySymbol
	opListStart // operand: body length in words
	opSexpStart
	opStructStart
	opContainerEnd
	opFieldName     // operand: constant index of a SymbolToken
	opArgumentValue // operand: length in words of the argument expressions that follow
	opArgumentRef   // operand: parameter index
	opInvokeMacro   // operand: constant index of the *Macro; one opArgumentValue per parameter follows
)

var opcodeNames = [...]string{
	opAnnotation:    "ANNOTATION",
	opAnnotations:   "ANNOTATIONS",
	opNull:          "NULL",
	opTypedNull:     "TYPED_NULL",
	opBool:          "BOOL",
	opSmallInt:      "SMALL_INT",
	opNegSmallInt:   "NEG_SMALL_INT",
	opInlineInt:     "INLINE_INT",
	opLong:          "CP_LONG",
	opBigInt:        "CP_BIG_INT",
	opFloat:         "CP_FLOAT",
	opDecimal:       "CP_DECIMAL",
	opTimestamp:     "CP_TIMESTAMP",
	opString:        "CP_STRING",
	opSymbol:        "CP_SYMBOL",
	opBlob:          "CP_BLOB",
	opClob:          "CP_CLOB",
	opEmptyString:   "EMPTY_STRING",
	opEmptySymbol:   "EMPTY_SYMBOL",
	opListStart:     "LIST_START",
	opSexpStart:     "SEXP_START",
	opStructStart:   "STRUCT_START",
	opContainerEnd:  "CONTAINER_END",
	opFieldName:     "FIELD_NAME",
	opArgumentValue: "ARGUMENT_VALUE",
	opArgumentRef:   "ARGUMENT_REF",
	opInvokeMacro:   "INVOKE_MACRO",
}

func (o opcode) String() string {
	if int(o) < len(opcodeNames) && opcodeNames[o] != "" {
		return opcodeNames[o]
	}
	return fmt.Sprintf("OP_%d", uint8(o))
}

const maxOperand = 1<<24 - 1

func instruction(op opcode, operand int) uint32 {
	return uint32(op)<<24 | uint32(operand)&maxOperand
}

func decodeInstruction(w uint32) (opcode, int) {
	return opcode(w >> 24), int(w & maxOperand)
}

// Bytecode is a compiled macro body.
type Bytecode struct {
	Code      []uint32
	Constants []any
	Ints      []int64
}

// Len returns the number of instruction words.
func (b *Bytecode) Len() int { return len(b.Code) }

// String disassembles the bytecode, one instruction per line.
func (b *Bytecode) String() string {
	out := ""
	for pc := 0; pc < len(b.Code); pc++ {
		op, operand := decodeInstruction(b.Code[pc])
		out += fmt.Sprintf("%04d %s %d", pc, op, operand)
		switch op {
		case opInlineInt:
			pc++
			out += fmt.Sprintf(" %d", int32(b.Code[pc]))
		case opAnnotations:
			for i := 0; i < operand; i++ {
				pc++
				out += fmt.Sprintf(" %v", b.Constants[b.Code[pc]])
			}
		case opBigInt, opDecimal, opTimestamp, opString, opSymbol, opFieldName, opAnnotation:
			out += fmt.Sprintf(" ; %v", b.Constants[operand])
		case opInvokeMacro:
			out += fmt.Sprintf(" ; %s", b.Constants[operand].(*Macro).Name)
		}
		out += "\n"
	}
	return out
}
