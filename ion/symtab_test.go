package ion

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCatalog returns exact matches or the highest version of a name.
type mapCatalog []*SharedTable

func (c mapCatalog) Table(name string, version int) *SharedTable {
	var best *SharedTable
	for _, t := range c {
		if t.Name() != name {
			continue
		}
		if t.Version() == version {
			return t
		}
		if best == nil || t.Version() > best.Version() {
			best = t
		}
	}
	return best
}

func strp(s string) *string { return &s }

func TestLocalSymbolTable(t *testing.T) {
	// $ion_symbol_table::{symbols:["foo","bar"]} followed by symbol $10.
	data := hexBytes(t, "E0 01 00 EA ED 81 83 DA 87 B8 83 66 6F 6F 83 62 61 72 71 0A 71 0B")
	r := NewReaderBytes(data)

	ev, err := r.NextValue()
	require.NoError(t, err)
	require.Equal(t, EventStartScalar, ev)
	require.Equal(t, SymbolType, r.Type())
	require.Equal(t, EventValueReady, must(r.FillValue()))
	s, err := r.StringValue()
	require.NoError(t, err)
	assert.Equal(t, "foo", s)

	tok, err := r.SymbolValue()
	require.NoError(t, err)
	assert.Equal(t, int64(10), tok.SID)

	_, err = r.NextValue()
	require.NoError(t, err)
	_, err = r.FillValue()
	require.NoError(t, err)
	s, err = r.StringValue()
	require.NoError(t, err)
	assert.Equal(t, "bar", s)

	snap := r.SymbolTable()
	assert.Equal(t, int64(10), snap.FirstLocalID())
	assert.Equal(t, int64(11), snap.MaxID())
	assert.Empty(t, cmp.Diff([]*string{strp("foo"), strp("bar")}, snap.LocalSymbols()))
}

func TestImportMissingFromCatalog(t *testing.T) {
	// $ion_symbol_table::{imports:[{name:"s", version:1, max_id:5}]}, then
	// symbols $10, $14 and $15.
	data := hexBytes(t, "E0 01 00 EA EE 8F 81 83 DC 86 BA D9 84 81 73 85 21 01 88 21 05 71 0A 71 0E 71 0F")
	r := NewReaderBytes(data)

	for _, sid := range []int64{10, 14} {
		ev, err := r.NextValue()
		require.NoError(t, err)
		require.Equal(t, EventStartScalar, ev)
		_, err = r.FillValue()
		require.NoError(t, err)

		tok, err := r.SymbolValue()
		require.NoError(t, err)
		assert.Equal(t, sid, tok.SID)
		assert.Nil(t, tok.Text)

		_, err = r.StringValue()
		require.ErrorIs(t, err, ErrUnknownSymbol)
		var use *UnknownSymbolError
		require.ErrorAs(t, err, &use)
		assert.False(t, use.OutOfRange)
	}

	_, err := r.NextValue()
	require.NoError(t, err)
	_, err = r.FillValue()
	require.NoError(t, err)
	_, err = r.StringValue()
	var use *UnknownSymbolError
	require.ErrorAs(t, err, &use)
	assert.True(t, use.OutOfRange)
	assert.Equal(t, int64(15), use.SID)

	imports := r.SymbolTable().Imports()
	require.Len(t, imports, 2)
	assert.True(t, imports[1].IsSubstitute())
	assert.Equal(t, 5, imports[1].MaxID())
}

func TestImportFromCatalog(t *testing.T) {
	cat := mapCatalog{
		NewSharedTable("s", 1, []string{"a", "b", "c", "d", "e"}),
		NewSharedTable("s", 2, []string{"a", "b", "c", "d", "e", "f", "g"}),
	}
	exact := hexBytes(t, "E0 01 00 EA EE 8F 81 83 DC 86 BA D9 84 81 73 85 21 01 88 21 05 71 0C")
	assert.Equal(t, "c", dumpBytes(t, exact, WithCatalog(cat)))

	// Version 3 is missing: the highest version stands in, cut to max_id 5.
	inexact := hexBytes(t, "E0 01 00 EA EE 8F 81 83 DC 86 BA D9 84 81 73 85 21 03 88 21 05 71 0E")
	r := NewReaderBytes(inexact, WithCatalog(cat))
	assert.Equal(t, "e", mustDump(t, r))
	imports := r.SymbolTable().Imports()
	require.Len(t, imports, 2)
	assert.True(t, imports[1].IsSubstitute())
	assert.Equal(t, 3, imports[1].Version())
	assert.Equal(t, 5, imports[1].MaxID())
}

func mustDump(t *testing.T, r *Reader) string {
	t.Helper()
	out, err := dumpValues(r, nil)
	require.NoError(t, err)
	return out
}

func TestAppendSymbolTable(t *testing.T) {
	data := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.WriteSymbol(sym("one")))
		require.NoError(t, w.Flush())
		require.NoError(t, w.WriteSymbol(sym("two")))
		require.NoError(t, w.WriteSymbol(sym("one")))
	})
	r := NewReaderBytes(data)
	assert.Equal(t, "one two one", mustDump(t, r))
	assert.Equal(t, int64(11), r.SymbolTable().MaxID())
}

func TestVersionMarkerResetsSymbols(t *testing.T) {
	first := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.WriteSymbol(sym("alpha")))
	})
	second := writeStream(t, func(w *BinaryWriter) {
		require.NoError(t, w.WriteSymbol(sym("beta")))
	})
	data := append(append([]byte(nil), first...), second...)
	r := NewReaderBytes(data)
	assert.Equal(t, "alpha beta", mustDump(t, r))
	assert.Equal(t, int64(10), r.SymbolTable().MaxID())
}

func TestSnapshotRestore(t *testing.T) {
	m := NewSymbolTableManager(nil, nil, nil)
	m.InstallSymbols("x", "y")
	snap := m.Snapshot()
	assert.Same(t, snap, m.Snapshot())

	m.InstallSymbols("z")
	assert.Equal(t, int64(12), m.MaxID())
	assert.Equal(t, int64(11), snap.MaxID())

	m.Restore(snap)
	assert.Equal(t, int64(11), m.MaxID())
	_, _, err := m.Lookup(12)
	require.ErrorIs(t, err, ErrUnknownSymbol)

	text, err := m.Text(11)
	require.NoError(t, err)
	assert.Equal(t, "y", text)

	m.InstallSymbols("w")
	assert.Equal(t, int64(11), snap.MaxID(), "snapshot must not change")
	sid, ok := m.FindSID("w")
	require.True(t, ok)
	assert.Equal(t, int64(12), sid)
}

func TestLookupEdges(t *testing.T) {
	m := NewSymbolTableManager(nil, nil, nil)
	text, known, err := m.Lookup(0)
	require.NoError(t, err)
	assert.False(t, known)
	assert.Empty(t, text)

	text, err = m.Text(sidSymbolTable)
	require.NoError(t, err)
	assert.Equal(t, "$ion_symbol_table", text)

	_, err = m.Text(-1)
	require.ErrorIs(t, err, ErrUnknownSymbol)
	_, err = m.Text(0)
	require.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestIsSubsetOf(t *testing.T) {
	shared := NewSharedTable("shared", 1, []string{"s1", "s2"})
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := rng.Intn(6)
		extra := rng.Intn(4)
		locals := make([]string, n+extra)
		for j := range locals {
			locals[j] = fmt.Sprintf("sym%d", rng.Intn(8))
		}
		withShared := rng.Intn(2) == 0

		m := NewSymbolTableManager(nil, nil, nil)
		var other *Snapshot
		if withShared {
			m.ReplaceImports(shared)
			other = NewSnapshot([]*SharedTable{shared}, locals...)
		} else {
			other = NewSnapshot(nil, locals...)
		}
		m.InstallSymbols(locals[:n]...)
		assert.True(t, m.IsSubsetOf(other), "case %d: prefix must be a subset", i)

		if extra > 0 {
			// A longer table is never a subset of a shorter one.
			m.InstallSymbols(locals[n:]...)
			m.InstallSymbols("tail")
			assert.False(t, m.IsSubsetOf(other), "case %d: longer table", i)
		}
	}

	m := NewSymbolTableManager(nil, nil, nil)
	m.InstallSymbols("a", "b")
	assert.False(t, m.IsSubsetOf(NewSnapshot(nil, "a", "c")))
	assert.False(t, m.IsSubsetOf(NewSnapshot([]*SharedTable{shared}, "a", "b")))
	assert.False(t, m.IsSubsetOf(nil))
	assert.True(t, m.IsSubsetOf(m.Snapshot()))
}

func TestSnapshotFingerprint(t *testing.T) {
	a := NewSnapshot(nil, "x", "y")
	b := NewSnapshot(nil, "x", "y")
	c := NewSnapshot(nil, "y", "x")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestSymtabStateString(t *testing.T) {
	tests := []struct {
		s        symtabState
		expected string
	}{
		{symtabIdle, "IDLE"},
		{symtabReadingImportMaxID, "READING_IMPORT_MAX_ID"},
		{symtabLeavingTable, "LEAVING_SYMBOL_TABLE"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.expected {
			t.Errorf("%d.String() = %q, expected %q", tt.s, got, tt.expected)
		}
	}
}

func TestUnknownSymbolErrorUnwrap(t *testing.T) {
	err := error(&UnknownSymbolError{SID: 42, OutOfRange: true})
	assert.True(t, errors.Is(err, ErrUnknownSymbol))
	assert.False(t, errors.Is(err, ErrMalformed))
}
