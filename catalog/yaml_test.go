package catalog

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Neumenon/ionic/ion"
)

const sampleDefinitions = `
tables:
  - name: fruit
    version: 2
    symbols: [apple, banana]
macros:
  - name: point
    params: [x, "y?"]
    body:
      - struct:
          lat: {var: x}
          lon: {var: y}
  - name: tagged
    params: ["v*"]
    body:
      - annotate:
          with: [tag]
          value:
            list:
              - {symbol: start}
              - {var: v}
              - 1.5
              - {decimal: "2.50"}
              - {null: string}
  - name: origin
    body:
      - invoke:
          macro: point
          args: [0, 0]
`

func TestLoadDefinitions(t *testing.T) {
	defs, err := LoadDefinitions(strings.NewReader(sampleDefinitions))
	require.NoError(t, err)

	require.Len(t, defs.Tables, 1)
	assert.Equal(t, "fruit", defs.Tables[0].Name())
	assert.Equal(t, 2, defs.Tables[0].Version())
	assert.Equal(t, []string{"apple", "banana"}, defs.Tables[0].Symbols())

	require.Len(t, defs.Macros, 3)
	assert.Equal(t, "point", defs.Macros[0].Name)
	require.Len(t, defs.Macros[0].Signature, 2)
	assert.Equal(t, ion.ZeroOrOne, defs.Macros[0].Signature[1].Cardinality)

	table, err := defs.MacroTable()
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
	assert.Same(t, defs.Macros[2], table.Lookup("origin"))

	cat := NewMemory()
	defs.Register(cat)
	assert.NotNil(t, cat.Get("fruit", 2))
}

func TestDefinedMacrosExpand(t *testing.T) {
	defs, err := LoadDefinitions(strings.NewReader(sampleDefinitions))
	require.NoError(t, err)
	table, err := defs.MacroTable()
	require.NoError(t, err)

	var buf bytes.Buffer
	w := ion.NewBinaryWriter(&buf, ion.WithMinorVersion(1))
	require.NoError(t, w.BeginInvocation(defs.Macros[0], false))
	require.NoError(t, w.WriteInt(3))
	require.NoError(t, w.EndInvocation())
	require.NoError(t, w.BeginInvocation(defs.Macros[2], false))
	require.NoError(t, w.EndInvocation())
	require.NoError(t, w.Finish())

	r := ion.NewReaderBytes(buf.Bytes(), ion.WithMacroTable(table))
	var fields []string
	for i := 0; i < 2; i++ {
		ev, err := r.NextValue()
		require.NoError(t, err)
		require.Equal(t, ion.EventStartContainer, ev)
		require.Equal(t, ion.StructType, r.Type())
		_, err = r.StepIn()
		require.NoError(t, err)
		for {
			ev, err := r.NextValue()
			require.NoError(t, err)
			if ev == ion.EventEndContainer {
				break
			}
			name, err := r.FieldName()
			require.NoError(t, err)
			_, err = r.FillValue()
			require.NoError(t, err)
			v, err := r.Int64Value()
			require.NoError(t, err)
			fields = append(fields, name+"="+strconv.FormatInt(v, 10))
		}
		_, err = r.StepOut()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"lat=3", "lat=0", "lon=0"}, fields)
}

func TestLoadDefinitionsErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "tabels: []"},
		{"table without name", "tables: [{version: 1}]"},
		{"macro without name", "macros: [{body: [1]}]"},
		{"bad parameter", `macros: [{name: m, params: ["uint99:x"]}]`},
		{"unknown expression", "macros: [{name: m, body: [{frob: 1}]}]"},
		{"two keys", "macros: [{name: m, body: [{var: x, symbol: y}]}]"},
		{"undefined variable", "macros: [{name: m, body: [{var: x}]}]"},
		{"forward invoke", "macros: [{name: m, body: [{invoke: {macro: later}}]}]"},
		{"duplicate", "macros: [{name: m, body: [1]}, {name: m, body: [2]}]"},
		{"bad blob", "macros: [{name: m, body: [{blob: zz}]}]"},
		{"bad null type", "macros: [{name: m, body: [{null: widget}]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDefinitions(strings.NewReader(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadDefinitionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDefinitions), 0o600))
	defs, err := LoadDefinitionsFile(path)
	require.NoError(t, err)
	assert.Len(t, defs.Macros, 3)

	_, err = LoadDefinitionsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEmptyDefinitions(t *testing.T) {
	defs, err := LoadDefinitions(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, defs.Tables)
	assert.Empty(t, defs.Macros)
}
