package main

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Neumenon/ionic/ion"
)

// retryFunc repeats a reader call while more input can be made available.
type retryFunc func(op func() (ion.Event, error)) (ion.Event, error)

func once(op func() (ion.Event, error)) (ion.Event, error) { return op() }

var (
	openers = map[ion.Type]string{ion.ListType: "[", ion.SexpType: "(", ion.StructType: "{"}
	closers = map[ion.Type]string{ion.ListType: "]", ion.SexpType: ")", ion.StructType: "}"}
)

// valuePrinter renders values in a compact text notation: field:, ann::,
// [list], (sexp) and {struct}.
type valuePrinter struct {
	r     *ion.Reader
	retry retryFunc
}

func newValuePrinter(r *ion.Reader, retry retryFunc) *valuePrinter {
	if retry == nil {
		retry = once
	}
	return &valuePrinter{r: r, retry: retry}
}

// next renders the next value at the current depth. It returns false at the
// end of the container or of the available input.
func (p *valuePrinter) next(sb *strings.Builder) (bool, error) {
	ev, err := p.retry(p.r.NextValue)
	if err != nil {
		return false, err
	}
	if ev == ion.EventNeedsData || ev == ion.EventEndContainer {
		return false, nil
	}
	return true, p.value(sb)
}

func (p *valuePrinter) value(sb *strings.Builder) error {
	r := p.r
	if r.HasFieldName() {
		sb.WriteString(fieldText(r))
		sb.WriteByte(':')
	}
	for _, a := range r.AnnotationSymbols() {
		sb.WriteString(a.String())
		sb.WriteString("::")
	}
	t := r.Type()
	if r.IsNull() {
		sb.WriteString(nullText(t))
		return nil
	}
	if !t.IsContainer() {
		ev, err := p.retry(r.FillValue)
		if err != nil {
			return err
		}
		if ev != ion.EventValueReady {
			return errors.Errorf("%s value is incomplete", t)
		}
		s, err := scalarText(r)
		if err != nil {
			return err
		}
		sb.WriteString(s)
		return nil
	}

	if _, err := p.retry(r.StepIn); err != nil {
		return err
	}
	sb.WriteString(openers[t])
	for first := true; ; first = false {
		var child strings.Builder
		ok, err := p.next(&child)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if !first {
			sb.WriteByte(' ')
		}
		sb.WriteString(child.String())
	}
	sb.WriteString(closers[t])
	_, err := p.retry(r.StepOut)
	return err
}

func fieldText(r *ion.Reader) string {
	name, err := r.FieldName()
	if err != nil {
		tok, _ := r.FieldNameSymbol()
		return "$" + strconv.FormatInt(tok.SID, 10)
	}
	return name
}

func nullText(t ion.Type) string {
	if t == ion.NullType {
		return "null"
	}
	return "null." + t.String()
}

func scalarText(r *ion.Reader) (string, error) {
	switch r.Type() {
	case ion.BoolType:
		v, err := r.BoolValue()
		return strconv.FormatBool(v), err
	case ion.IntType:
		v, err := r.BigIntValue()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	case ion.FloatType:
		v, err := r.FloatValue()
		return strconv.FormatFloat(v, 'g', -1, 64), err
	case ion.DecimalType:
		v, err := r.DecimalValue()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	case ion.TimestampType:
		v, err := r.TimestampValue()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	case ion.StringType:
		v, err := r.StringValue()
		return strconv.Quote(v), err
	case ion.SymbolType:
		v, err := r.SymbolValue()
		return v.String(), err
	case ion.BlobType:
		v, err := r.Bytes()
		return "{{" + hex.EncodeToString(v) + "}}", err
	case ion.ClobType:
		v, err := r.Bytes()
		return "{{" + strconv.Quote(string(v)) + "}}", err
	}
	return "", errors.Errorf("unexpected type %s", r.Type())
}
