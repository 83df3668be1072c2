// Package catalog provides shared symbol table catalogs for the ion reader:
// an in-memory LRU, a persistent bbolt store, and YAML definitions of tables
// and macros.
package catalog

import (
	"container/list"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/Neumenon/ionic/ion"
)

// DefaultMaxTables is the default capacity of a Memory catalog.
const DefaultMaxTables = 64

// key identifies one version of a shared table.
type key struct {
	name    string
	version int
}

// memoryEntry holds a table and its position in the LRU list.
type memoryEntry struct {
	table   *ion.SharedTable
	element *list.Element // stores the key
}

// Memory is an in-process catalog with LRU eviction. It is safe for
// concurrent use.
type Memory struct {
	tables  map[key]*memoryEntry
	lruList *list.List // Front = most recent, Back = least recent
	mu      sync.RWMutex
	maxSize int
	logger  log.Logger
}

// MemoryOption configures a Memory catalog.
type MemoryOption func(*Memory)

// WithMaxTables caps the number of table versions held.
func WithMaxTables(n int) MemoryOption {
	return func(m *Memory) {
		if n < 1 {
			n = 1
		}
		m.maxSize = n
	}
}

// WithMemoryLogger logs evictions.
func WithMemoryLogger(l log.Logger) MemoryOption {
	return func(m *Memory) { m.logger = l }
}

// NewMemory creates an empty catalog.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tables:  make(map[key]*memoryEntry),
		lruList: list.New(),
		maxSize: DefaultMaxTables,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add adds or replaces a table version.
// If the catalog is at capacity, the least recently used table is evicted.
func (m *Memory) Add(tables ...*ion.SharedTable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tables {
		k := key{t.Name(), t.Version()}
		if entry, ok := m.tables[k]; ok {
			entry.table = t
			m.lruList.MoveToFront(entry.element)
			continue
		}

		for m.lruList.Len() >= m.maxSize {
			oldest := m.lruList.Back()
			if oldest == nil {
				break
			}
			old := oldest.Value.(key)
			m.lruList.Remove(oldest)
			delete(m.tables, old)
			level.Debug(m.logger).Log("msg", "evicted shared table", "name", old.name, "version", old.version)
		}

		elem := m.lruList.PushFront(k)
		m.tables[k] = &memoryEntry{table: t, element: elem}
	}
}

// Get returns exactly the requested version, or nil.
// Accessing a table marks it as recently used.
func (m *Memory) Get(name string, version int) *ion.SharedTable {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.tables[key{name, version}]
	if !ok {
		return nil
	}
	m.lruList.MoveToFront(entry.element)
	return entry.table
}

// Table implements ion.Catalog: the exact version when present, else the
// highest version held under the name.
func (m *Memory) Table(name string, version int) *ion.SharedTable {
	if t := m.Get(name, version); t != nil {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var best *memoryEntry
	for k, entry := range m.tables {
		if k.name != name {
			continue
		}
		if best == nil || k.version > best.table.Version() {
			best = entry
		}
	}
	if best == nil {
		return nil
	}
	m.lruList.MoveToFront(best.element)
	return best.table
}

// Remove drops a table version.
func (m *Memory) Remove(name string, version int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.tables[key{name, version}]
	if !ok {
		return
	}
	m.lruList.Remove(entry.element)
	delete(m.tables, key{name, version})
}

// Tables returns the held tables ordered by name then version.
func (m *Memory) Tables() []*ion.SharedTable {
	m.mu.RLock()
	out := make([]*ion.SharedTable, 0, len(m.tables))
	for _, entry := range m.tables {
		out = append(out, entry.table)
	}
	m.mu.RUnlock()

	sortTables(out)
	return out
}

// Len returns the number of table versions held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables)
}

func sortTables(ts []*ion.SharedTable) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Name() != ts[j].Name() {
			return ts[i].Name() < ts[j].Name()
		}
		return ts[i].Version() < ts[j].Version()
	})
}

// ============================================================
// Chained lookups
// ============================================================

// Chain asks each catalog in turn. The first exact version wins, otherwise
// the highest version offered by any of them.
type Chain []ion.Catalog

// Table implements ion.Catalog.
func (c Chain) Table(name string, version int) *ion.SharedTable {
	var fallback *ion.SharedTable
	for _, cat := range c {
		if cat == nil {
			continue
		}
		t := cat.Table(name, version)
		if t == nil {
			continue
		}
		if t.Version() == version {
			return t
		}
		if fallback == nil || t.Version() > fallback.Version() {
			fallback = t
		}
	}
	return fallback
}
