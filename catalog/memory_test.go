package catalog

import (
	"sync"
	"testing"

	"github.com/Neumenon/ionic/ion"
)

func table(name string, version int, symbols ...string) *ion.SharedTable {
	return ion.NewSharedTable(name, version, symbols)
}

func TestMemory(t *testing.T) {
	cat := NewMemory()
	cat.Add(table("fruit", 1, "apple"), table("fruit", 3, "apple", "banana", "cherry"))

	got := cat.Get("fruit", 1)
	if got == nil || got.MaxID() != 1 {
		t.Fatalf("Get(fruit, 1) = %v", got)
	}
	if cat.Get("fruit", 2) != nil {
		t.Error("Get(fruit, 2) should return nil")
	}

	// Missing version falls back to the highest.
	if got := cat.Table("fruit", 2); got == nil || got.Version() != 3 {
		t.Errorf("Table(fruit, 2) = %v, want fruit@3", got)
	}
	if got := cat.Table("veg", 1); got != nil {
		t.Errorf("Table(veg, 1) = %v, want nil", got)
	}

	cat.Add(table("fruit", 1, "apricot", "avocado"))
	if got := cat.Get("fruit", 1); got.MaxID() != 2 {
		t.Errorf("replaced fruit@1 MaxID = %d, want 2", got.MaxID())
	}
	if cat.Len() != 2 {
		t.Errorf("Len = %d, want 2", cat.Len())
	}

	cat.Remove("fruit", 3)
	cat.Remove("fruit", 9)
	if got := cat.Table("fruit", 3); got == nil || got.Version() != 1 {
		t.Errorf("Table(fruit, 3) after Remove = %v, want fruit@1", got)
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	cat := NewMemory(WithMaxTables(3))
	cat.Add(table("a", 1), table("b", 1), table("c", 1))

	// Access a so b becomes the least recently used.
	cat.Get("a", 1)
	cat.Add(table("d", 1))

	if cat.Get("b", 1) != nil {
		t.Error("b should have been evicted")
	}
	for _, name := range []string{"a", "c", "d"} {
		if cat.Get(name, 1) == nil {
			t.Errorf("%s should still exist", name)
		}
	}
	if cat.Len() != 3 {
		t.Errorf("Len = %d, want 3", cat.Len())
	}
}

func TestMemoryTablesSorted(t *testing.T) {
	cat := NewMemory()
	cat.Add(table("b", 2), table("a", 1), table("b", 1))
	var got []string
	for _, tb := range cat.Tables() {
		got = append(got, tb.String())
	}
	want := []string{table("a", 1).String(), table("b", 1).String(), table("b", 2).String()}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("Tables() = %v, want %v", got, want)
		}
	}
}

func TestMemoryConcurrent(t *testing.T) {
	cat := NewMemory(WithMaxTables(8))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for v := 1; v <= 20; v++ {
				cat.Add(table("t", v+i*20))
				cat.Table("t", v)
				cat.Len()
			}
		}(i)
	}
	wg.Wait()
	if cat.Len() != 8 {
		t.Errorf("Len = %d, want 8", cat.Len())
	}
}

func TestChain(t *testing.T) {
	first := NewMemory()
	first.Add(table("s", 3, "x"))
	second := NewMemory()
	second.Add(table("s", 2, "y"), table("s", 1, "z"))

	chain := Chain{first, nil, second}
	if got := chain.Table("s", 2); got == nil || got.Version() != 2 {
		t.Errorf("exact match from later catalog: got %v", got)
	}
	if got := chain.Table("s", 7); got == nil || got.Version() != 3 {
		t.Errorf("best match: got %v, want s@3", got)
	}
	if got := chain.Table("q", 1); got != nil {
		t.Errorf("missing: got %v", got)
	}
}

func TestMemoryServesReader(t *testing.T) {
	shared := table("s", 1, "a", "b")
	cat := NewMemory()
	cat.Add(shared)

	// $ion_symbol_table::{imports:[{name:"s", version:1, max_id:2}]} then $11.
	data := []byte{
		0xE0, 0x01, 0x00, 0xEA,
		0xEE, 0x8F, 0x81, 0x83, 0xDC, 0x86, 0xBA, 0xD9, 0x84, 0x81, 0x73, 0x85, 0x21, 0x01, 0x88, 0x21, 0x02,
		0x71, 0x0B,
	}
	r := ion.NewReaderBytes(data, ion.WithCatalog(cat))
	if _, err := r.NextValue(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.FillValue(); err != nil {
		t.Fatal(err)
	}
	tok, err := r.SymbolValue()
	if err != nil {
		t.Fatal(err)
	}
	if tok.String() != "b" {
		t.Errorf("symbol = %v, want b", tok)
	}
}
