package ion

import (
	"bytes"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// growingSource is an io.Reader that reports io.EOF until more bytes are
// added.
type growingSource struct {
	data []byte
	off  int
}

func (s *growingSource) Read(p []byte) (int, error) {
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.off:])
	s.off += n
	return n, nil
}

func (s *growingSource) add(b []byte) { s.data = append(s.data, b...) }

// feeder hands the rest of an input to a growingSource step bytes at a time.
type feeder struct {
	src  *growingSource
	rest []byte
	step int
}

func newFeeder(data []byte, first, step int) *feeder {
	if first > len(data) {
		first = len(data)
	}
	f := &feeder{src: &growingSource{}, rest: data[first:], step: step}
	f.src.add(data[:first])
	return f
}

// more adds the next chunk; false once the input is exhausted.
func (f *feeder) more() bool {
	if len(f.rest) == 0 {
		return false
	}
	n := f.step
	if n <= 0 || n > len(f.rest) {
		n = len(f.rest)
	}
	f.src.add(f.rest[:n])
	f.rest = f.rest[n:]
	return true
}

// retry repeats op while it reports EventNeedsData and more input arrives.
func retry(more func() bool, op func() (Event, error)) (Event, error) {
	for {
		ev, err := op()
		if err != nil || ev != EventNeedsData || more == nil || !more() {
			return ev, err
		}
	}
}

// dumpValues renders the values at the reader's depth in a compact text form.
// It stops at the end of the container or the input.
func dumpValues(r *Reader, more func() bool) (string, error) {
	var sb strings.Builder
	for {
		ev, err := retry(more, r.NextValue)
		if err != nil {
			return sb.String(), err
		}
		if ev == EventNeedsData || ev == EventEndContainer {
			return sb.String(), nil
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		if err := dumpValue(&sb, r, more); err != nil {
			return sb.String(), err
		}
	}
}

func dumpValue(sb *strings.Builder, r *Reader, more func() bool) error {
	if r.HasFieldName() {
		name, err := r.FieldName()
		if err != nil {
			tok, _ := r.FieldNameSymbol()
			name = "$" + strconv.FormatInt(tok.SID, 10)
		}
		sb.WriteString(name + ":")
	}
	for _, a := range r.AnnotationSymbols() {
		sb.WriteString(a.String() + "::")
	}
	t := r.Type()
	if r.IsNull() {
		if t == NullType {
			sb.WriteString("null")
		} else {
			sb.WriteString("null." + t.String())
		}
		return nil
	}
	if t.IsContainer() {
		open, closing := map[Type]string{ListType: "[", SexpType: "(", StructType: "{"}[t], map[Type]string{ListType: "]", SexpType: ")", StructType: "}"}[t]
		if _, err := r.StepIn(); err != nil {
			return err
		}
		inner, err := dumpValues(r, more)
		if err != nil {
			return err
		}
		if _, err := retry(more, r.StepOut); err != nil {
			return err
		}
		sb.WriteString(open + inner + closing)
		return nil
	}
	ev, err := retry(more, r.FillValue)
	if err != nil {
		return err
	}
	if ev != EventValueReady {
		sb.WriteString("<" + ev.String() + ">")
		return nil
	}
	s, err := scalarText(r)
	if err != nil {
		return err
	}
	sb.WriteString(s)
	return nil
}

func scalarText(r *Reader) (string, error) {
	switch r.Type() {
	case BoolType:
		v, err := r.BoolValue()
		return strconv.FormatBool(v), err
	case IntType:
		v, err := r.BigIntValue()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	case FloatType:
		v, err := r.FloatValue()
		return strconv.FormatFloat(v, 'g', -1, 64), err
	case DecimalType:
		v, err := r.DecimalValue()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	case TimestampType:
		v, err := r.TimestampValue()
		if err != nil {
			return "", err
		}
		return v.String(), nil
	case StringType:
		v, err := r.StringValue()
		return strconv.Quote(v), err
	case SymbolType:
		v, err := r.SymbolValue()
		return v.String(), err
	case BlobType:
		v, err := r.Bytes()
		return "{{" + hex.EncodeToString(v) + "}}", err
	case ClobType:
		v, err := r.Bytes()
		return "{{" + strconv.Quote(string(v)) + "}}", err
	}
	return "", usage("scalarText", "unexpected type %s", r.Type())
}

// dumpBytes reads a complete input.
func dumpBytes(t *testing.T, data []byte, opts ...ReaderOption) string {
	t.Helper()
	r := NewReaderBytes(data, opts...)
	out, err := dumpValues(r, nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return out
}

// dumpChunked reads data from a streaming source that starts with first
// bytes and grows step bytes each time the reader runs dry.
func dumpChunked(t *testing.T, data []byte, first, step int, opts ...ReaderOption) string {
	t.Helper()
	f := newFeeder(data, first, step)
	r := NewReader(f.src, opts...)
	out, err := dumpValues(r, f.more)
	require.NoError(t, err, "first=%d step=%d", first, step)
	return out
}

// hexBytes decodes a hex string that may contain spaces.
func hexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return b
}

// writeStream runs fn against a fresh writer and returns the finished output.
func writeStream(t *testing.T, fn func(w *BinaryWriter), opts ...WriterOption) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewBinaryWriter(&buf, opts...)
	fn(w)
	require.NoError(t, w.Finish())
	return buf.Bytes()
}

func sym(s string) SymbolToken { return NewSymbolToken(s) }
