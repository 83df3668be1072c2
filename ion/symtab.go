package ion

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// System symbol IDs, shared by both minor versions.
const (
	sidIon                  = 1
	sidIon10                = 2
	sidSymbolTable          = 3
	sidName                 = 4
	sidVersion              = 5
	sidImports              = 6
	sidSymbols              = 7
	sidMaxID                = 8
	sidSharedSymbolTable    = 9
	symbolTableAnnotation   = "$ion_symbol_table"
	systemSymbolTableName   = "$ion"
	systemSymbolTableMaxSID = sidSharedSymbolTable
)

// symbolSlot is one symbol table entry. A slot without text is a known ID
// whose text is not available.
type symbolSlot struct {
	text    string
	hasText bool
}

func textSlot(s string) symbolSlot { return symbolSlot{text: s, hasText: true} }

// ============================================================
// Shared tables
// ============================================================

// SharedTable is a named, versioned list of symbols that streams import.
// Shared tables are immutable.
type SharedTable struct {
	name       string
	version    int
	slots      []symbolSlot
	index      map[string]int
	substitute bool
}

// NewSharedTable returns a table whose symbol i+1 is symbols[i].
func NewSharedTable(name string, version int, symbols []string) *SharedTable {
	slots := make([]symbolSlot, len(symbols))
	for i, s := range symbols {
		slots[i] = textSlot(s)
	}
	return newSharedTable(name, version, slots)
}

func newSharedTable(name string, version int, slots []symbolSlot) *SharedTable {
	if version < 1 {
		version = 1
	}
	t := &SharedTable{name: name, version: version, slots: slots, index: make(map[string]int, len(slots))}
	for i, s := range slots {
		if !s.hasText {
			continue
		}
		if _, ok := t.index[s.text]; !ok {
			t.index[s.text] = i + 1
		}
	}
	return t
}

// NewSubstituteTable returns a stand-in for an import that the catalog could
// not provide exactly. It has maxID symbols; those within base (which may be
// nil) keep base's text, the rest have unknown text.
func NewSubstituteTable(name string, version, maxID int, base *SharedTable) *SharedTable {
	if maxID < 0 {
		maxID = 0
	}
	slots := make([]symbolSlot, maxID)
	if base != nil {
		copy(slots, base.slots)
	}
	t := newSharedTable(name, version, slots)
	t.substitute = true
	return t
}

var systemTable = NewSharedTable(systemSymbolTableName, 1, []string{
	"$ion", "$ion_1_0", symbolTableAnnotation, "name", "version",
	"imports", "symbols", "max_id", "$ion_shared_symbol_table",
})

// SystemTable returns the system symbol table.
func SystemTable() *SharedTable { return systemTable }

// Name returns the table name.
func (t *SharedTable) Name() string { return t.name }

// Version returns the table version.
func (t *SharedTable) Version() int { return t.version }

// MaxID returns the number of symbols.
func (t *SharedTable) MaxID() int { return len(t.slots) }

// IsSubstitute reports whether t stands in for a missing import.
func (t *SharedTable) IsSubstitute() bool { return t.substitute }

// Text returns the text of symbol sid (1-based) of the table.
func (t *SharedTable) Text(sid int) (string, bool) {
	if sid < 1 || sid > len(t.slots) {
		return "", false
	}
	s := t.slots[sid-1]
	return s.text, s.hasText
}

// Find returns the lowest symbol ID (1-based) with the given text.
func (t *SharedTable) Find(text string) (int, bool) {
	sid, ok := t.index[text]
	return sid, ok
}

// Symbols returns the symbol texts; unknown slots are empty strings.
func (t *SharedTable) Symbols() []string {
	out := make([]string, len(t.slots))
	for i, s := range t.slots {
		out[i] = s.text
	}
	return out
}

func (t *SharedTable) String() string {
	return t.name + "@" + strconv.Itoa(t.version)
}

// Catalog provides shared tables for imports.
type Catalog interface {
	// Table returns the table with the given name and version, or the best
	// available version (the highest) when the exact one is missing, or nil.
	Table(name string, version int) *SharedTable
}

// ============================================================
// Imports
// ============================================================

// Imports is an immutable ordered list of shared tables laid out in one ID
// space. The first table is always the system table.
type Imports struct {
	tables  []*SharedTable
	offsets []int64 // offsets[i] is the ID before the first symbol of tables[i]
	maxID   int64
}

func newImports(tables ...*SharedTable) *Imports {
	im := &Imports{
		tables:  make([]*SharedTable, 0, len(tables)+1),
		offsets: make([]int64, 0, len(tables)+1),
	}
	im.tables = append(im.tables, systemTable)
	im.offsets = append(im.offsets, 0)
	im.maxID = int64(systemTable.MaxID())
	for _, t := range tables {
		if t == nil || t == systemTable {
			continue
		}
		im.tables = append(im.tables, t)
		im.offsets = append(im.offsets, im.maxID)
		im.maxID += int64(t.MaxID())
	}
	return im
}

var systemImports = newImports()

// Tables returns the imported tables, system table first.
func (im *Imports) Tables() []*SharedTable {
	return append([]*SharedTable(nil), im.tables...)
}

// MaxID returns the highest imported symbol ID.
func (im *Imports) MaxID() int64 { return im.maxID }

func (im *Imports) lookup(sid int64) (string, bool) {
	for i := len(im.tables) - 1; i >= 0; i-- {
		if sid > im.offsets[i] {
			return im.tables[i].Text(int(sid - im.offsets[i]))
		}
	}
	return "", false
}

func (im *Imports) find(text string) (int64, bool) {
	for i, t := range im.tables {
		if sid, ok := t.Find(text); ok {
			return im.offsets[i] + int64(sid), true
		}
	}
	return 0, false
}

// sameAs reports whether im and o list the same table references in order.
func (im *Imports) sameAs(o *Imports) bool {
	if im == o {
		return true
	}
	if len(im.tables) != len(o.tables) {
		return false
	}
	for i := range im.tables {
		if im.tables[i] != o.tables[i] {
			return false
		}
	}
	return true
}

// ============================================================
// Snapshots
// ============================================================

// Snapshot is an immutable copy of a symbol table: imports plus local
// symbols. Snapshots are safe to share between goroutines.
type Snapshot struct {
	imports *Imports
	locals  []symbolSlot
	byText  map[string]int64
	maxID   int64
}

func newSnapshot(imports *Imports, locals []symbolSlot) *Snapshot {
	s := &Snapshot{
		imports: imports,
		locals:  append([]symbolSlot(nil), locals...),
		byText:  make(map[string]int64, len(locals)),
		maxID:   imports.maxID + int64(len(locals)),
	}
	for i, slot := range s.locals {
		if !slot.hasText {
			continue
		}
		if _, ok := s.byText[slot.text]; !ok {
			s.byText[slot.text] = imports.maxID + 1 + int64(i)
		}
	}
	return s
}

// NewSnapshot returns a snapshot importing tables and declaring locals.
func NewSnapshot(tables []*SharedTable, locals ...string) *Snapshot {
	slots := make([]symbolSlot, len(locals))
	for i, s := range locals {
		slots[i] = textSlot(s)
	}
	return newSnapshot(newImports(tables...), slots)
}

// MaxID returns the highest symbol ID.
func (s *Snapshot) MaxID() int64 { return s.maxID }

// FirstLocalID returns the ID of the first local symbol.
func (s *Snapshot) FirstLocalID() int64 { return s.imports.maxID + 1 }

// Imports returns the imported tables, system table first.
func (s *Snapshot) Imports() []*SharedTable { return s.imports.Tables() }

// LocalSymbols returns the local symbol texts; unknown slots are nil.
func (s *Snapshot) LocalSymbols() []*string {
	out := make([]*string, len(s.locals))
	for i := range s.locals {
		if s.locals[i].hasText {
			text := s.locals[i].text
			out[i] = &text
		}
	}
	return out
}

// Lookup returns the text of sid. An ID beyond MaxID is an UnknownSymbolError
// with OutOfRange set; a known ID without text returns known == false.
func (s *Snapshot) Lookup(sid int64) (text string, known bool, err error) {
	switch {
	case sid == 0:
		return "", false, nil
	case sid < 0 || sid > s.maxID:
		return "", false, &UnknownSymbolError{SID: sid, OutOfRange: true}
	case sid <= s.imports.maxID:
		text, known = s.imports.lookup(sid)
		return text, known, nil
	}
	slot := s.locals[sid-s.imports.maxID-1]
	return slot.text, slot.hasText, nil
}

// FindSID returns the lowest ID with the given text.
func (s *Snapshot) FindSID(text string) (int64, bool) {
	if sid, ok := s.imports.find(text); ok {
		return sid, true
	}
	sid, ok := s.byText[text]
	return sid, ok
}

// Fingerprint hashes the imported table identities and local texts.
func (s *Snapshot) Fingerprint() uint64 {
	d := xxhash.New()
	for _, t := range s.imports.tables {
		_, _ = d.WriteString(t.name)
		_, _ = d.WriteString("@" + strconv.Itoa(t.version) + "#" + strconv.Itoa(t.MaxID()) + "\x00")
	}
	_, _ = d.WriteString("\x01")
	for _, slot := range s.locals {
		if slot.hasText {
			_, _ = d.WriteString("+" + slot.text)
		} else {
			_, _ = d.WriteString("?")
		}
		_, _ = d.WriteString("\x00")
	}
	return d.Sum64()
}
