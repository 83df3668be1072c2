package ion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorStateString(t *testing.T) {
	tests := []struct {
		s        cursorState
		expected string
	}{
		{stateAwaitingHeader, "AWAITING_HEADER"},
		{stateEnded, "ENDED"},
		{cursorState(200), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.expected {
			t.Errorf("%d.String() = %q, expected %q", tt.s, got, tt.expected)
		}
	}
}

func TestCursorLengthSplitAcrossChunks(t *testing.T) {
	body := strings.Repeat("x", 200)
	// 8E: string with a VarUInt length; 200 = 0x01 0xC8.
	data := append(hexBytes(t, "E0 01 00 EA 8E 01 C8"), body...)
	data = append(data, 0x21, 0x05)

	src := &growingSource{}
	src.add(data[:6])
	c := NewCursor(src, DefaultCursorOptions())

	ev, err := c.NextValue()
	require.NoError(t, err)
	assert.Equal(t, EventNeedsData, ev)

	src.add(data[6:])
	ev, err = c.NextValue()
	require.NoError(t, err)
	require.Equal(t, EventStartScalar, ev)
	assert.Equal(t, StringType, c.Type())

	ev, err = c.FillValue()
	require.NoError(t, err)
	require.Equal(t, EventValueReady, ev)
	s, err := c.StringValue()
	require.NoError(t, err)
	assert.Equal(t, body, s)

	ev, err = c.NextValue()
	require.NoError(t, err)
	require.Equal(t, EventStartScalar, ev)
	require.Equal(t, EventValueReady, must(c.FillValue()))
	v, err := c.Int64Value()
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func must(ev Event, err error) Event {
	if err != nil {
		panic(err)
	}
	return ev
}

func TestCursorOversizedValue(t *testing.T) {
	data := append(hexBytes(t, "E0 01 00 EA 8E E4"), strings.Repeat("y", 100)...)
	data = append(data, 0x21, 0x07)

	calls := 0
	src := &growingSource{}
	src.add(data)
	r := NewReader(src,
		WithMaxBufferSize(16),
		WithOversizedValueHandler(func() { calls++ }),
	)

	ev, err := r.NextValue()
	require.NoError(t, err)
	require.Equal(t, EventStartScalar, ev)
	assert.Equal(t, IntType, r.Type())
	require.Equal(t, EventValueReady, must(r.FillValue()))
	v, err := r.Int64Value()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.Equal(t, 1, calls)

	ev, err = r.NextValue()
	require.NoError(t, err)
	assert.Equal(t, EventNeedsData, ev)
	assert.Equal(t, 1, calls)
}

func TestCursorOversizedSymbolTableTerminates(t *testing.T) {
	long := strings.Repeat("a", 40)
	data := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.WriteSymbol(sym(long)))
		require.NoError(t, w.WriteInt(1))
	})

	calls, values := 0, 0
	src := &growingSource{}
	src.add(data)
	r := NewReader(src,
		WithMaxBufferSize(16),
		WithOversizedSymbolTableHandler(func() { calls++ }),
		WithOversizedValueHandler(func() { values++ }),
	)
	for i := 0; i < 3; i++ {
		ev, err := r.NextValue()
		require.NoError(t, err)
		assert.Equal(t, EventNeedsData, ev)
	}
	assert.Equal(t, 1, calls)
	assert.Zero(t, values)
}

func TestCursorLargeContainerIsSteppedInto(t *testing.T) {
	// A 1.0 list with twenty bytes of small ints, then 11.
	data := hexBytes(t, "E0 01 00 EA BE 94")
	for i := byte(1); i <= 10; i++ {
		data = append(data, 0x21, i)
	}
	data = append(data, 0x21, 0x0B)
	const expected = "[1 2 3 4 5 6 7 8 9 10] 11"

	calls := 0
	opts := []ReaderOption{
		WithMaxBufferSize(16),
		WithOversizedValueHandler(func() { calls++ }),
	}
	assert.Equal(t, expected, dumpChunked(t, data, len(data), 0, opts...))
	assert.Equal(t, expected, dumpChunked(t, data, 0, 3, opts...))

	src := &growingSource{}
	src.add(data)
	r := NewReader(src, opts...)
	require.Equal(t, EventStartContainer, must(r.NextValue()))
	// Too large to buffer, but still readable by stepping in.
	require.Equal(t, EventStartContainer, must(r.FillValue()))
	require.Equal(t, EventStartScalar, must(r.NextValue()))
	require.Equal(t, EventValueReady, must(r.FillValue()))
	v, err := r.Int64Value()
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)
	assert.Zero(t, calls)
}

func TestCursorSkipsLargeDelimitedContainer(t *testing.T) {
	// [[1 x8] 2 x4] 9, every container delimited.
	data := hexBytes(t, "E0 01 01 EA F1 F1")
	for i := 0; i < 8; i++ {
		data = append(data, 0x51, 0x01)
	}
	data = append(data, 0xF0)
	for i := 0; i < 4; i++ {
		data = append(data, 0x51, 0x02)
	}
	data = append(data, 0xF0, 0x51, 0x09)

	for _, step := range []int{0, 1, 2, 5} {
		calls := 0
		f := newFeeder(data, 0, step)
		if step == 0 {
			f = newFeeder(data, len(data), 0)
		}
		r := NewReader(f.src, WithMaxBufferSize(16), WithOversizedValueHandler(func() { calls++ }))
		ev, err := retry(f.more, r.NextValue)
		require.NoError(t, err)
		require.Equal(t, EventStartContainer, ev, "step %d", step)

		ev, err = retry(f.more, r.NextValue)
		require.NoError(t, err, "step %d", step)
		require.Equal(t, EventStartScalar, ev, "step %d", step)
		ev, err = retry(f.more, r.FillValue)
		require.NoError(t, err)
		require.Equal(t, EventValueReady, ev)
		v, err := r.Int64Value()
		require.NoError(t, err)
		assert.Equal(t, int64(9), v, "step %d", step)
		assert.Zero(t, calls, "step %d", step)
		require.NoError(t, r.Close())
	}
}

func TestCursorStepOutOfLargeDelimitedContainer(t *testing.T) {
	data := hexBytes(t, "E0 01 01 EA F1")
	for i := 0; i < 12; i++ {
		data = append(data, 0x51, 0x01)
	}
	data = append(data, 0xF0, 0x51, 0x09)

	f := newFeeder(data, 0, 1)
	r := NewReader(f.src, WithMaxBufferSize(16))
	ev, err := retry(f.more, r.NextValue)
	require.NoError(t, err)
	require.Equal(t, EventStartContainer, ev)
	_, err = r.StepIn()
	require.NoError(t, err)
	ev, err = retry(f.more, r.NextValue)
	require.NoError(t, err)
	require.Equal(t, EventStartScalar, ev)

	_, err = retry(f.more, r.StepOut)
	require.NoError(t, err)
	assert.Zero(t, r.Depth())
	ev, err = retry(f.more, r.NextValue)
	require.NoError(t, err)
	require.Equal(t, EventStartScalar, ev)
	ev, err = retry(f.more, r.FillValue)
	require.NoError(t, err)
	require.Equal(t, EventValueReady, ev)
	v, err := r.Int64Value()
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)
}

func TestCursorUnscannableInvocationCallsHandler(t *testing.T) {
	pair := MustMacro("pair", params(t, "a", "b"), List(Var("a"), Var("b")))
	// The first argument is a delimited list too long to buffer.
	data := hexBytes(t, "E0 01 01 EA 00 F1")
	for i := 0; i < 12; i++ {
		data = append(data, 0x51, 0x01)
	}
	data = append(data, 0xF0, 0x51, 0x02)

	calls := 0
	src := &growingSource{}
	src.add(data)
	r := NewReader(src,
		WithMaxBufferSize(16),
		WithMacroTable(macroTable(t, pair)),
		WithOversizedValueHandler(func() { calls++ }),
	)
	for i := 0; i < 2; i++ {
		ev, err := r.NextValue()
		require.NoError(t, err)
		assert.Equal(t, EventNeedsData, ev)
	}
	assert.Equal(t, 1, calls)
}

func TestCursorDelimitedContainers(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		expected string
	}{
		{"list", "E0 01 01 EA F1 51 01 51 02 F0 51 03", "[1 2] 3"},
		{"sexp", "E0 01 01 EA F2 5E F0", "(true)"},
		{"empty list", "E0 01 01 EA F1 F0 5F", "[] false"},
		{"struct", "E0 01 01 EA F3 FF 61 51 01 01 F0 5E", "{a:1} true"},
		{"nested", "E0 01 01 EA F1 F1 51 01 F0 A2 51 02 F0", "[[1] [2]]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := hexBytes(t, tt.data)
			assert.Equal(t, tt.expected, dumpBytes(t, data))
			assert.Equal(t, tt.expected, dumpChunked(t, data, 0, 1))
		})
	}
}

func TestCursorSkipsUnreadDelimitedBody(t *testing.T) {
	data := hexBytes(t, "E0 01 01 EA F1 F1 51 01 F0 51 02 F0 51 09")
	c := NewCursorBytes(data, DefaultCursorOptions())
	ev, err := c.NextValue()
	require.NoError(t, err)
	require.Equal(t, EventStartContainer, ev)

	ev, err = c.NextValue()
	require.NoError(t, err)
	require.Equal(t, EventStartScalar, ev)
	require.Equal(t, EventValueReady, must(c.FillValue()))
	v, err := c.Int64Value()
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)
}

func TestCursorResumesAtEverySplit(t *testing.T) {
	data := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.BeginStruct())
		w.FieldName(sym("name"))
		require.NoError(t, w.WriteString("widget"))
		w.FieldName(sym("tags"))
		w.Annotations(sym("set"))
		require.NoError(t, w.BeginList())
		require.NoError(t, w.WriteSymbol(sym("red")))
		require.NoError(t, w.WriteSymbol(sym("blue")))
		require.NoError(t, w.EndList())
		w.FieldName(sym("weight"))
		require.NoError(t, w.WriteDecimal(NewDecimalFromInt64(1250, -2)))
		require.NoError(t, w.EndStruct())
		require.NoError(t, w.WriteString(strings.Repeat("z", 20)))
		require.NoError(t, w.WriteFloat(2.5))
	})
	expected := `{name:"widget" tags:set::[red blue] weight:12.50} "zzzzzzzzzzzzzzzzzzzz" 2.5`
	require.Equal(t, expected, dumpBytes(t, data))

	for first := 0; first <= len(data); first++ {
		assert.Equal(t, expected, dumpChunked(t, data, first, 0), "split at %d", first)
	}
	assert.Equal(t, expected, dumpChunked(t, data, 0, 1))
}

func TestCursorRejectsOverrun(t *testing.T) {
	// A list of 2 bytes holding an int of 3 bytes.
	data := hexBytes(t, "E0 01 00 EA B2 22 01 02")
	r := NewReaderBytes(data)
	ev, err := r.NextValue()
	require.NoError(t, err)
	require.Equal(t, EventStartContainer, ev)
	_, err = r.StepIn()
	require.NoError(t, err)
	_, err = dumpValues(r, nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestCursorInvalidTypeID(t *testing.T) {
	// 0x59 is unassigned in 1.1.
	_, err := NewReaderBytes(hexBytes(t, "E0 01 01 EA 59")).NextValue()
	require.ErrorIs(t, err, ErrMalformed)
	var me *MalformedError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, int64(4), me.Offset)
}
