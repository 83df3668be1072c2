package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neumenon/ionic/stream"
)

func TestStatsRead(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.ion")
	data := sampleStream(t, 0)
	require.NoError(t, os.WriteFile(plain, data, 0o644))

	var zbuf bytes.Buffer
	zw, err := stream.NewCompressor(&zbuf, stream.CompressionZstd)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	compressed := filepath.Join(dir, "data.ion.zst")
	require.NoError(t, os.WriteFile(compressed, zbuf.Bytes(), 0o644))

	g := loadedGlobals(t)
	chunk, parallel := 5, 2
	files := []string{plain, compressed}
	cmd := &statsCommand{g: g, files: &files, chunk: &chunk, parallel: &parallel}

	base, err := g.readerOptions()
	require.NoError(t, err)
	for _, name := range files {
		st, err := cmd.read(name, base)
		require.NoError(t, err)
		assert.Equal(t, float64(4), st.Values, name)
		assert.Equal(t, float64(len(data)), st.Bytes, name)
		assert.Positive(t, st.NeedsData, name)
		assert.Equal(t, float64(1), st.SymbolTables["reset"], name)

		var out bytes.Buffer
		printStats(&out, st)
		assert.Contains(t, out.String(), "values: 4")
	}

	st, err := cmd.read(compressed, base)
	require.NoError(t, err)
	assert.Equal(t, stream.CompressionZstd, st.Compression)
	assert.Equal(t, int64(zbuf.Len()), st.FileSize)

	require.NoError(t, cmd.run(nil))
}

func TestLabelCounts(t *testing.T) {
	assert.Equal(t, "none", labelCounts(nil))
	assert.Equal(t, "append=2 reset=1,500", labelCounts(map[string]float64{"reset": 1500, "append": 2}))
}
