package ion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleStream writes a 1.0 or 1.1 stream touching every value type.
func sampleStream(t *testing.T, minor int) []byte {
	t.Helper()
	ts, err := ParseTimestamp("2024-03-05T10:20:30.125+01:00")
	require.NoError(t, err)
	return writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.BeginStruct())
		w.FieldName(sym("id"))
		require.NoError(t, w.WriteInt(-42))
		w.FieldName(sym("when"))
		require.NoError(t, w.WriteTimestamp(ts))
		w.FieldName(sym("tags"))
		w.Annotations(sym("set"), sym("small"))
		require.NoError(t, w.BeginList())
		require.NoError(t, w.WriteSymbol(sym("red")))
		require.NoError(t, w.WriteNullType(StringType))
		require.NoError(t, w.EndList())
		w.FieldName(sym("data"))
		require.NoError(t, w.WriteBlob([]byte{0xCA, 0xFE}))
		require.NoError(t, w.EndStruct())

		require.NoError(t, w.BeginSexp())
		require.NoError(t, w.WriteSymbol(sym("+")))
		require.NoError(t, w.WriteFloat(0.25))
		require.NoError(t, w.WriteDecimal(NewDecimalFromInt64(105, -1)))
		require.NoError(t, w.EndSexp())
		require.NoError(t, w.WriteClob([]byte("hi")))
		require.NoError(t, w.WriteBool(true))
		require.NoError(t, w.WriteNull())
	}, WithMinorVersion(minor))
}

const sampleText = `{id:-42 when:2024-03-05T10:20:30.125+01:00 tags:set::small::[red null.string] data:{{cafe}}}` +
	` (+ 0.25 10.5) {{"hi"}} true null`

// transferStream copies every value of data through TransferAll.
func transferStream(t *testing.T, data []byte, ropts []ReaderOption, wopts []WriterOption, topts ...TransferOption) []byte {
	t.Helper()
	r := NewReaderBytes(data, ropts...)
	ev, err := r.NextValue()
	require.NoError(t, err)
	require.NotEqual(t, EventNeedsData, ev)

	var buf bytes.Buffer
	w := NewBinaryWriter(&buf, wopts...)
	require.NoError(t, TransferAll(w, r, topts...))
	require.NoError(t, w.Finish())
	return buf.Bytes()
}

func TestTransferRoundTrip(t *testing.T) {
	for _, in := range []int{0, 1} {
		for _, out := range []int{0, 1} {
			data := sampleStream(t, in)
			require.Equal(t, sampleText, dumpBytes(t, data))

			copied := transferStream(t, data, nil, []WriterOption{WithMinorVersion(out)})
			assert.Equal(t, sampleText, dumpBytes(t, copied), "%d -> %d", in, out)
			if in == out {
				assert.Equal(t, data, copied, "%d -> %d", in, out)
			}
		}
	}
}

func TestTransferExpandsMacros(t *testing.T) {
	point := MustMacro("point", params(t, "x", "y?"),
		Struct(Field("x", Var("x")), Field("y", Var("y"))))
	table := macroTable(t, point)
	data := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.BeginInvocation(point, false))
		require.NoError(t, w.WriteInt(1))
		require.NoError(t, w.WriteInt(2))
		require.NoError(t, w.EndInvocation())
		require.NoError(t, w.BeginInvocation(point, false))
		require.NoError(t, w.WriteInt(3))
		require.NoError(t, w.EndInvocation())
	}, WithMinorVersion(1))

	copied := transferStream(t, data, []ReaderOption{WithMacroTable(table)}, nil)
	assert.Equal(t, ivm10, copied[:4])
	assert.Equal(t, "{x:1 y:2} {x:3}", dumpBytes(t, copied))
}

func TestTransferRawCopy(t *testing.T) {
	data := writeStream(t, func(w *BinaryWriter) {
		for i := 0; i < 3; i++ {
			w.Annotations(sym("row"))
			require.NoError(t, w.BeginStruct())
			w.FieldName(sym("k"))
			require.NoError(t, w.WriteSymbol(sym("v")))
			require.NoError(t, w.EndStruct())
		}
	})
	expected := "row::{k:v} row::{k:v} row::{k:v}"
	require.Equal(t, expected, dumpBytes(t, data))

	copied := transferStream(t, data, nil, nil, WithRawCopy())
	assert.Equal(t, expected, dumpBytes(t, copied))
	// Same symbols in the same order: the copy is byte for byte identical.
	assert.Equal(t, data, copied)
}

func TestTransferRawCopyStepsIntoLargeContainer(t *testing.T) {
	data := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.BeginList())
		for i := int64(1); i <= 10; i++ {
			require.NoError(t, w.WriteInt(i))
		}
		require.NoError(t, w.EndList())
		require.NoError(t, w.WriteInt(11))
	})
	const expected = "[1 2 3 4 5 6 7 8 9 10] 11"

	calls := 0
	src := &growingSource{}
	src.add(data)
	r := NewReader(src, WithMaxBufferSize(16), WithOversizedValueHandler(func() { calls++ }))
	require.Equal(t, EventStartContainer, must(r.NextValue()))

	var buf bytes.Buffer
	w := NewBinaryWriter(&buf)
	require.NoError(t, TransferAll(w, r, WithRawCopy()))
	require.NoError(t, w.Finish())
	assert.Equal(t, expected, dumpBytes(t, buf.Bytes()))
	assert.Zero(t, calls)
}

func TestTransferRawCopyFallsBackOnConflictingIDs(t *testing.T) {
	// The writer already owns "b" at $10, so the reader's $10 ("a") cannot be
	// copied by ID.
	data := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.WriteSymbol(sym("a")))
		require.NoError(t, w.WriteSymbol(sym("b")))
	})
	r := NewReaderBytes(data)
	_, err := r.NextValue()
	require.NoError(t, err)

	var buf bytes.Buffer
	w := NewBinaryWriter(&buf)
	require.NoError(t, w.WriteSymbol(sym("b")))
	require.NoError(t, TransferAll(w, r, WithRawCopy()))
	require.NoError(t, w.Finish())
	assert.Equal(t, "b a b", dumpBytes(t, buf.Bytes()))
}

func TestTransferInsideStruct(t *testing.T) {
	data := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.BeginStruct())
		w.FieldName(sym("a"))
		require.NoError(t, w.WriteInt(1))
		w.FieldName(sym("b"))
		require.NoError(t, w.WriteString("two"))
		require.NoError(t, w.EndStruct())
	})
	r := NewReaderBytes(data)
	_, err := r.NextValue()
	require.NoError(t, err)
	_, err = r.StepIn()
	require.NoError(t, err)
	_, err = r.NextValue()
	require.NoError(t, err)

	var buf bytes.Buffer
	w := NewBinaryWriter(&buf)
	require.NoError(t, w.BeginStruct())
	require.NoError(t, TransferAll(w, r))
	require.NoError(t, w.EndStruct())
	require.NoError(t, w.Finish())
	assert.Equal(t, `{a:1 b:"two"}`, dumpBytes(t, buf.Bytes()))
}

func TestTransferUsageErrors(t *testing.T) {
	r := NewReaderBytes(hexBytes(t, "E0 01 00 EA 21 01"))
	w := NewBinaryWriter(&bytes.Buffer{})
	require.ErrorIs(t, Transfer(w, r), ErrUsage)
	require.ErrorIs(t, TransferAll(w, r), ErrUsage)

	_, err := r.NextValue()
	require.NoError(t, err)
	require.NoError(t, w.BeginStruct())
	require.ErrorIs(t, Transfer(w, r), ErrUsage)
}

func TestTransferIncompleteValue(t *testing.T) {
	// A list whose body is cut off.
	data := hexBytes(t, "E0 01 00 EA B4 21 01")
	src := &growingSource{}
	src.add(data)
	r := NewReader(src)
	ev, err := r.NextValue()
	require.NoError(t, err)
	require.Equal(t, EventStartContainer, ev)

	w := NewBinaryWriter(&bytes.Buffer{})
	require.ErrorIs(t, Transfer(w, r), ErrMalformed)
}
