package ion

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by this package wraps one of them.
var (
	ErrMalformed            = errors.New("ion: malformed stream")
	ErrUnknownSymbol        = errors.New("ion: unknown symbol")
	ErrUnknownMacro         = errors.New("ion: unknown macro")
	ErrUsage                = errors.New("ion: usage error")
	ErrOversizedSymbolTable = errors.New("ion: oversized symbol table")
)

// MalformedError reports structurally invalid input.
type MalformedError struct {
	Reason string
	Offset int64
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("ion: %s at offset %d", e.Reason, e.Offset)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

func malformed(offset int64, format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...), Offset: offset}
}

// UnknownSymbolError reports a symbol ID whose text cannot be resolved.
// OutOfRange is set when the ID lies beyond the active symbol table, as
// opposed to a known slot that has no text.
type UnknownSymbolError struct {
	SID        int64
	OutOfRange bool
}

func (e *UnknownSymbolError) Error() string {
	if e.OutOfRange {
		return fmt.Sprintf("ion: symbol ID $%d is out of range of the symbol table", e.SID)
	}
	return fmt.Sprintf("ion: symbol ID $%d has unknown text", e.SID)
}

func (e *UnknownSymbolError) Unwrap() error { return ErrUnknownSymbol }

// UnknownMacroError reports an invocation whose address has no macro.
type UnknownMacroError struct {
	Address int64
	System  bool
}

func (e *UnknownMacroError) Error() string {
	if e.System {
		return fmt.Sprintf("ion: no system macro at address %d", e.Address)
	}
	return fmt.Sprintf("ion: no macro at address %d", e.Address)
}

func (e *UnknownMacroError) Unwrap() error { return ErrUnknownMacro }

// UsageError reports a call that does not fit the reader's position.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("ion: %s: %s", e.Op, e.Reason)
}

func (e *UsageError) Unwrap() error { return ErrUsage }

func usage(op, format string, args ...any) error {
	return &UsageError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
