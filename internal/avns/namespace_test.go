package avns

import "testing"

func TestResolveAndGetPath(t *testing.T) {
	ns := New(false)
	e := ns.Resolve("/a/b/c")
	if got := ns.GetPath(e); got != "/a/b/c" {
		t.Fatalf("GetPath = %q, want /a/b/c", got)
	}

	e2 := ns.Resolve("/a/b/c")
	if e2 != e {
		t.Fatal("Resolve should return the same entry for the same path")
	}
}

func TestNoCase(t *testing.T) {
	ns := New(true)
	a := ns.Resolve("/Foo")
	b := ns.Resolve("/foo")
	if a != b {
		t.Fatal("nocase namespace should unify differently-cased names")
	}
}

func TestRemoveOrphans(t *testing.T) {
	ns := New(false)
	e := ns.Resolve("/x/y")
	ns.Remove(e)
	if e.Parent() != nil {
		t.Fatal("removed entry should have nil parent")
	}
	if _, ok := ns.Find(ns.Resolve("/x"), "y"); ok {
		t.Fatal("removed entry should not be found via parent")
	}
}

func TestRename(t *testing.T) {
	ns := New(false)
	src := ns.Resolve("/a/b")
	dstDir := ns.Resolve("/c")
	ns.Rename(src, dstDir, "d")

	if got := ns.GetPath(src); got != "/c/d" {
		t.Fatalf("GetPath after rename = %q, want /c/d", got)
	}
	if _, ok := ns.Find(ns.Resolve("/a"), "b"); ok {
		t.Fatal("old location should no longer resolve")
	}
}
