package stream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neumenon/ionic/ion"
)

func TestChunkedReader(t *testing.T) {
	cr := NewChunkedReader(bytes.NewReader([]byte("abcdefg")), 3)

	buf := make([]byte, 10)
	n, err := cr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	_, err = cr.Read(buf)
	assert.Equal(t, io.EOF, err)

	require.True(t, cr.More())
	n, _ = cr.Read(buf)
	assert.Equal(t, "def", string(buf[:n]))

	require.True(t, cr.More())
	n, _ = cr.Read(buf)
	assert.Equal(t, "g", string(buf[:n]))
	_, err = cr.Read(buf)
	assert.Equal(t, io.EOF, err)

	assert.False(t, cr.More())
	assert.Equal(t, int64(7), cr.BytesRead())
	assert.Equal(t, 3, cr.Chunks())
}

func TestChunkedReaderDrivesIonReader(t *testing.T) {
	var buf bytes.Buffer
	w := ion.NewBinaryWriter(&buf)
	require.NoError(t, w.BeginStruct())
	w.FieldName(ion.NewSymbolToken("name"))
	require.NoError(t, w.WriteString("a fairly long string value"))
	w.FieldName(ion.NewSymbolToken("count"))
	require.NoError(t, w.WriteInt(12345))
	require.NoError(t, w.EndStruct())
	require.NoError(t, w.WriteSymbol(ion.NewSymbolToken("done")))
	require.NoError(t, w.Finish())
	data := buf.Bytes()

	for _, chunk := range []int{1, 2, 5, 64} {
		cr := NewChunkedReader(bytes.NewReader(data), chunk)
		r := ion.NewReader(cr)

		ev, err := cr.Retry(r.NextValue)
		require.NoError(t, err)
		require.Equal(t, ion.EventStartContainer, ev, "chunk %d", chunk)
		_, err = cr.Retry(r.StepIn)
		require.NoError(t, err)

		var fields []string
		for {
			ev, err := cr.Retry(r.NextValue)
			require.NoError(t, err)
			if ev == ion.EventEndContainer {
				break
			}
			name, err := r.FieldName()
			require.NoError(t, err)
			fields = append(fields, name)
			_, err = cr.Retry(r.FillValue)
			require.NoError(t, err)
		}
		_, err = cr.Retry(r.StepOut)
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "count"}, fields, "chunk %d", chunk)

		ev, err = cr.Retry(r.NextValue)
		require.NoError(t, err)
		require.Equal(t, ion.EventStartScalar, ev)
		_, err = cr.Retry(r.FillValue)
		require.NoError(t, err)
		tok, err := r.SymbolValue()
		require.NoError(t, err)
		assert.Equal(t, "done", tok.String())

		ev, err = cr.Retry(r.NextValue)
		require.NoError(t, err)
		assert.Equal(t, ion.EventNeedsData, ev)
		assert.Equal(t, int64(len(data)), cr.BytesRead())
	}
}
