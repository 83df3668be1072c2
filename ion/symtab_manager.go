package ion

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// SymbolTableManager holds the live symbol table of a stream: the imports
// and the local symbols declared so far. It caches one snapshot and one
// subset comparison; every mutation drops both.
type SymbolTableManager struct {
	imports *Imports
	locals  []symbolSlot

	snapshot *Snapshot

	subsetOther  *Snapshot
	subsetMaxID  int64
	subsetResult bool

	catalog Catalog
	logger  log.Logger
	metrics *Metrics
}

// NewSymbolTableManager returns a manager holding the system table. cat may
// be nil.
func NewSymbolTableManager(cat Catalog, logger log.Logger, metrics *Metrics) *SymbolTableManager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &SymbolTableManager{
		imports: systemImports,
		catalog: cat,
		logger:  logger,
		metrics: metrics,
	}
}

func (m *SymbolTableManager) invalidate() {
	m.snapshot = nil
	m.subsetOther = nil
}

// Reset returns to the system table. Both minor versions share it.
func (m *SymbolTableManager) Reset() {
	m.imports = systemImports
	m.locals = m.locals[:0]
	m.invalidate()
}

// FirstLocalID returns the ID of the first local symbol.
func (m *SymbolTableManager) FirstLocalID() int64 { return m.imports.maxID + 1 }

// MaxID returns the highest valid symbol ID.
func (m *SymbolTableManager) MaxID() int64 { return m.imports.maxID + int64(len(m.locals)) }

// Lookup returns the text of sid. IDs beyond MaxID fail with an
// UnknownSymbolError marked OutOfRange; known IDs without text return
// known == false and no error. ID 0 never has text.
func (m *SymbolTableManager) Lookup(sid int64) (text string, known bool, err error) {
	switch {
	case sid == 0:
		return "", false, nil
	case sid < 0 || sid > m.MaxID():
		return "", false, &UnknownSymbolError{SID: sid, OutOfRange: true}
	case sid <= m.imports.maxID:
		text, known = m.imports.lookup(sid)
		return text, known, nil
	}
	slot := m.locals[sid-m.imports.maxID-1]
	return slot.text, slot.hasText, nil
}

// Text returns the text of sid, failing with UnknownSymbolError when the
// text is not known.
func (m *SymbolTableManager) Text(sid int64) (string, error) {
	text, known, err := m.Lookup(sid)
	if err != nil {
		return "", err
	}
	if !known {
		return "", &UnknownSymbolError{SID: sid}
	}
	return text, nil
}

// FindSID returns the lowest ID with the given text.
func (m *SymbolTableManager) FindSID(text string) (int64, bool) {
	if sid, ok := m.imports.find(text); ok {
		return sid, true
	}
	for i, s := range m.locals {
		if s.hasText && s.text == text {
			return m.imports.maxID + 1 + int64(i), true
		}
	}
	return 0, false
}

// Snapshot returns an immutable copy of the live table. The copy is cached
// until the next mutation.
func (m *SymbolTableManager) Snapshot() *Snapshot {
	if m.snapshot == nil {
		m.snapshot = newSnapshot(m.imports, m.locals)
	}
	return m.snapshot
}

// Restore replaces the live table with s.
func (m *SymbolTableManager) Restore(s *Snapshot) {
	m.imports = s.imports
	m.locals = append(m.locals[:0], s.locals...)
	m.invalidate()
	m.snapshot = s
}

// IsSubsetOf reports whether every symbol of the live table has the same ID
// and text in other. Imports are compared by reference, so equal tables
// loaded twice compare as different; the answer is then false, never wrongly
// true.
func (m *SymbolTableManager) IsSubsetOf(other *Snapshot) bool {
	if other == nil {
		return false
	}
	if m.subsetOther == other && m.subsetMaxID == other.maxID {
		return m.subsetResult
	}
	result := m.isSubsetOf(other)
	m.subsetOther, m.subsetMaxID, m.subsetResult = other, other.maxID, result
	return result
}

func (m *SymbolTableManager) isSubsetOf(other *Snapshot) bool {
	if m.snapshot == other {
		return true
	}
	if !m.imports.sameAs(other.imports) {
		return false
	}
	if len(m.locals) > len(other.locals) {
		return false
	}
	for i, s := range m.locals {
		if other.locals[i] != s {
			return false
		}
	}
	return true
}

// InstallSymbols appends local symbols.
func (m *SymbolTableManager) InstallSymbols(texts ...string) {
	for _, t := range texts {
		m.locals = append(m.locals, textSlot(t))
	}
	m.invalidate()
}

func (m *SymbolTableManager) installSlots(slots []symbolSlot) {
	m.locals = append(m.locals, slots...)
	m.invalidate()
}

// ReplaceImports installs tables after the system table and drops every
// local symbol.
func (m *SymbolTableManager) ReplaceImports(tables ...*SharedTable) {
	m.imports = newImports(tables...)
	m.locals = m.locals[:0]
	m.invalidate()
}

// importSpec is one entry of a symbol table's imports list.
type importSpec struct {
	name     string
	version  int64
	maxID    int64
	hasMaxID bool
}

// resolveImport finds the table for spec. Missing or inexact tables are
// replaced by substitutes when max_id is declared; without max_id a missing
// table cannot be laid out and the import is dropped.
func (m *SymbolTableManager) resolveImport(spec importSpec) *SharedTable {
	version := int(spec.version)
	if version < 1 {
		version = 1
	}
	var t *SharedTable
	if m.catalog != nil {
		t = m.catalog.Table(spec.name, version)
	}
	if !spec.hasMaxID {
		if t == nil {
			level.Warn(m.logger).Log("msg", "dropping import without max_id missing from catalog", "name", spec.name, "version", version)
			return nil
		}
		return t
	}
	if t != nil && t.Version() == version && int64(t.MaxID()) == spec.maxID {
		return t
	}
	level.Debug(m.logger).Log("msg", "substituting import", "name", spec.name, "version", version, "max_id", spec.maxID, "found", t != nil)
	return NewSubstituteTable(spec.name, version, int(spec.maxID), t)
}

// symtabMode says how a symbol table struct relates to the live table.
type symtabMode uint8

const (
	symtabReset symtabMode = iota
	symtabReplace
	symtabAppend
)

func (s symtabMode) String() string {
	switch s {
	case symtabReset:
		return "reset"
	case symtabReplace:
		return "replace"
	case symtabAppend:
		return "append"
	default:
		return "unknown"
	}
}

// apply installs a parsed symbol table struct.
func (m *SymbolTableManager) apply(mode symtabMode, imports []importSpec, symbols []symbolSlot) {
	switch mode {
	case symtabReplace:
		tables := make([]*SharedTable, 0, len(imports))
		for _, spec := range imports {
			if t := m.resolveImport(spec); t != nil {
				tables = append(tables, t)
			}
		}
		m.ReplaceImports(tables...)
	case symtabReset:
		m.ReplaceImports()
	}
	m.installSlots(symbols)
	m.metrics.incSymbolTable(mode)
	level.Debug(m.logger).Log("msg", "installed symbol table", "mode", mode, "imports", len(m.imports.tables)-1, "locals", len(m.locals), "max_id", m.MaxID())
}
