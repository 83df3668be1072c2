package ion

import "math/big"

// ValueReader is the reading side of Transfer. *Reader implements it.
type ValueReader interface {
	NextValue() (Event, error)
	StepIn() (Event, error)
	StepOut() (Event, error)
	FillValue() (Event, error)

	Depth() int
	Type() Type
	IsNull() bool
	IsInStruct() bool
	FieldNameSymbol() (SymbolToken, bool)
	AnnotationSymbols() []SymbolToken

	BoolValue() (bool, error)
	IntSize() (IntSize, error)
	Int64Value() (int64, error)
	BigIntValue() (*big.Int, error)
	FloatValue() (float64, error)
	DecimalValue() (*Decimal, error)
	TimestampValue() (Timestamp, error)
	StringValue() (string, error)
	SymbolValue() (SymbolToken, error)
	Bytes() ([]byte, error)
}

var _ ValueReader = (*Reader)(nil)

// TransferOption configures Transfer.
type TransferOption func(*transferConfig)

type transferConfig struct {
	rawCopy bool
}

// WithRawCopy copies encoded bytes unchanged when the value was read from a
// 1.0 stream, the writer encodes 1.0 and every symbol the reader knows has
// the same ID in the writer.
func WithRawCopy() TransferOption {
	return func(c *transferConfig) { c.rawCopy = true }
}

// Transfer writes the value r is positioned on, with its children, to w.
// r is left on the same value.
func Transfer(w Writer, r ValueReader, opts ...TransferOption) error {
	var cfg transferConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if r.Type() == NoType {
		return usage("Transfer", "reader is not positioned on a value")
	}
	if w.IsInStruct() && !r.IsInStruct() {
		return usage("Transfer", "writer is in a struct but the reader is not")
	}
	start := r.Depth()
	var open []Type
	for {
		stepped, err := transferValue(w, r, &cfg)
		if err != nil {
			return err
		}
		if stepped {
			open = append(open, r.Type())
			if _, err := r.StepIn(); err != nil {
				return err
			}
		}
		for {
			if r.Depth() == start {
				return nil
			}
			ev, err := r.NextValue()
			if err != nil {
				return err
			}
			if ev == EventNeedsData {
				return malformed(-1, "value is incomplete")
			}
			if ev != EventEndContainer {
				break
			}
			if _, err := r.StepOut(); err != nil {
				return err
			}
			if err := endContainer(w, open[len(open)-1]); err != nil {
				return err
			}
			open = open[:len(open)-1]
		}
	}
}

// TransferAll transfers the value r is positioned on and every value after
// it at the same depth.
func TransferAll(w Writer, r ValueReader, opts ...TransferOption) error {
	if r.Type() == NoType {
		return usage("TransferAll", "reader is not positioned on a value")
	}
	for {
		if err := Transfer(w, r, opts...); err != nil {
			return err
		}
		ev, err := r.NextValue()
		if err != nil {
			return err
		}
		if ev == EventNeedsData || ev == EventEndContainer {
			return nil
		}
	}
}

// transferValue writes the current value, or opens it when it is a
// non-null container. It reports whether the caller must step in.
func transferValue(w Writer, r ValueReader, cfg *transferConfig) (bool, error) {
	if !r.Type().IsContainer() || cfg.rawCopy {
		ev, err := r.FillValue()
		if err != nil {
			return false, err
		}
		switch ev {
		case EventNeedsData:
			return false, malformed(-1, "value is incomplete")
		case EventNeedsInstruction:
			// Oversized and skipped.
			return false, nil
		}
	}
	if w.IsInStruct() {
		if tok, ok := r.FieldNameSymbol(); ok {
			w.FieldName(tok)
		}
	}
	if cfg.rawCopy {
		if ok, err := transferRaw(w, r); ok || err != nil {
			return false, err
		}
	}
	if anns := r.AnnotationSymbols(); len(anns) > 0 {
		w.Annotations(anns...)
	}
	t := r.Type()
	if r.IsNull() {
		return false, w.WriteNullType(t)
	}
	switch t {
	case ListType:
		return true, w.BeginList()
	case SexpType:
		return true, w.BeginSexp()
	case StructType:
		return true, w.BeginStruct()
	}
	return false, transferScalar(w, r, t)
}

func transferRaw(w Writer, r ValueReader) (bool, error) {
	bw, ok := w.(*BinaryWriter)
	if !ok || bw.MinorVersion() != 0 {
		return false, nil
	}
	rr, ok := r.(*Reader)
	if !ok || !rr.isRaw() || rr.MinorVersion() != 0 || !rr.IsSymbolTableSubsetOf(bw.SymbolTable()) {
		return false, nil
	}
	b, ok := rr.rawValue()
	if !ok {
		return false, nil
	}
	return true, bw.writeRaw(b)
}

func transferScalar(w Writer, r ValueReader, t Type) error {
	switch t {
	case BoolType:
		v, err := r.BoolValue()
		if err != nil {
			return err
		}
		return w.WriteBool(v)
	case IntType:
		size, err := r.IntSize()
		if err != nil {
			return err
		}
		if size == IntSizeBig {
			v, err := r.BigIntValue()
			if err != nil {
				return err
			}
			return w.WriteBigInt(v)
		}
		v, err := r.Int64Value()
		if err != nil {
			return err
		}
		return w.WriteInt(v)
	case FloatType:
		v, err := r.FloatValue()
		if err != nil {
			return err
		}
		return w.WriteFloat(v)
	case DecimalType:
		v, err := r.DecimalValue()
		if err != nil {
			return err
		}
		return w.WriteDecimal(v)
	case TimestampType:
		v, err := r.TimestampValue()
		if err != nil {
			return err
		}
		return w.WriteTimestamp(v)
	case StringType:
		v, err := r.StringValue()
		if err != nil {
			return err
		}
		return w.WriteString(v)
	case SymbolType:
		v, err := r.SymbolValue()
		if err != nil {
			return err
		}
		return w.WriteSymbol(v)
	case BlobType, ClobType:
		v, err := r.Bytes()
		if err != nil {
			return err
		}
		if t == ClobType {
			return w.WriteClob(v)
		}
		return w.WriteBlob(v)
	}
	return usage("Transfer", "cannot transfer a value of type %s", t)
}

func endContainer(w Writer, t Type) error {
	switch t {
	case ListType:
		return w.EndList()
	case SexpType:
		return w.EndSexp()
	}
	return w.EndStruct()
}
