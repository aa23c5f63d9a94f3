package diskcache

import (
	"testing"

	"github.com/layerfs/avfs/internal/objref"
)

func TestEvictsLRUTailUnderLimit(t *testing.T) {
	m := NewManager()
	m.SetLimit(150)
	m.SetKeepFree(0)
	m.SetFreeSpaceFunc(func() int64 { return 0 })

	destroyed := map[string]bool{}
	newBox := func(name string) *objref.Box {
		return objref.New(func() { destroyed[name] = true })
	}

	oa := m.New(newBox("a"), "a", 100)
	_ = m.New(newBox("b"), "b", 100)

	if !destroyed["a"] {
		t.Fatal("oldest object should have been evicted once the limit was exceeded")
	}
	if oa.elem != nil {
		t.Fatal("evicted object should be unlinked")
	}
	if m.Usage() != 100 {
		t.Fatalf("usage = %d, want 100", m.Usage())
	}
}

func TestGetBumpsToMRUAndSavesFromEviction(t *testing.T) {
	m := NewManager()
	m.SetLimit(250)
	m.SetKeepFree(0)
	m.SetFreeSpaceFunc(func() int64 { return 0 })

	destroyed := map[string]bool{}
	newBox := func(name string) *objref.Box {
		return objref.New(func() { destroyed[name] = true })
	}

	oa := m.New(newBox("a"), "a", 100)
	ob := m.New(newBox("b"), "b", 100)
	m.Get(oa) // touch a: b is now the LRU tail
	_ = ob
	_ = m.New(newBox("c"), "c", 100)

	if destroyed["a"] {
		t.Fatal("recently-touched object should not have been evicted")
	}
	if !destroyed["b"] {
		t.Fatal("least-recently-used object should have been evicted, not the recently-touched one")
	}
}

func TestClearEmptiesCache(t *testing.T) {
	m := NewManager()
	box := objref.New(func() {})
	m.New(box, "a", 10)
	m.Clear()

	if m.Usage() != 0 {
		t.Fatalf("usage after Clear = %d, want 0", m.Usage())
	}
	if m.Len() != 0 {
		t.Fatalf("len after Clear = %d, want 0", m.Len())
	}
}
