package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
catalog: /tmp/catalog.db
compression: zstd
log_level: debug
reader:
  max_buffer: 4MB
  initial_buffer: 512KB
`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/catalog.db", cfg.Catalog)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4*datasize.MB, cfg.Reader.MaxBuffer)
	assert.Equal(t, 512*datasize.KB, cfg.Reader.InitialBuffer)
	assert.Equal(t, DefaultConfig().CatalogCache, cfg.CatalogCache)
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown key", "colour: blue\n"},
		{"bad size", "reader:\n  max_buffer: lots\n"},
		{"zero buffer", "reader:\n  max_buffer: 0\n"},
		{"initial above max", "reader:\n  max_buffer: 1KB\n  initial_buffer: 2KB\n"},
		{"compression", "compression: lz4\n"},
		{"log level", "log_level: chatty\n"},
		{"cache", "catalog_cache: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(tt.input))
			require.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ionic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("definitions: defs.yaml\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "defs.yaml", cfg.Definitions)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestByteSizeFlag(t *testing.T) {
	var f byteSizeFlag
	require.NoError(t, f.Set("16MB"))
	assert.True(t, f.set)
	assert.Equal(t, 16*datasize.MB, f.size)
	assert.Equal(t, "16MB", f.String())
	require.Error(t, f.Set("16Mb"))
}

func TestGlobalsLoad(t *testing.T) {
	dir := t.TempDir()
	defs := filepath.Join(dir, "defs.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(`
tables:
  - name: fruit
    version: 1
    symbols: [apple]
macros:
  - name: pair
    params: [a, b]
    body:
      - list: [{var: a}, {var: b}]
`), 0o644))

	g := &globals{definitions: defs, logLevel: "error"}
	g.maxBuffer.size, g.maxBuffer.set = 1*datasize.MB, true
	require.NoError(t, g.load(nil))
	defer g.close()

	assert.Equal(t, 1*datasize.MB, g.cfg.Reader.MaxBuffer)
	assert.Equal(t, "error", g.cfg.LogLevel)
	require.NotNil(t, g.memory.Get("fruit", 1))
	require.NotNil(t, g.macros)
	assert.NotNil(t, g.macros.Lookup("pair"))

	opts, err := g.readerOptions()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	// No catalog is configured.
	b, err := g.openCatalog(true)
	require.NoError(t, err)
	assert.Nil(t, b)
}
