package filecache

import (
	"errors"
	"testing"

	"github.com/layerfs/avfs/internal/objref"
)

type fakePayload struct {
	box *objref.Box
}

func newFakePayload() *fakePayload {
	p := &fakePayload{}
	p.box = objref.New(func() {})
	return p
}

func (p *fakePayload) Box() *objref.Box { return p.box }

func TestSetGetReplace(t *testing.T) {
	c := New()
	a := newFakePayload()
	c.Set("k", a)

	got, ok := c.Get("k")
	if !ok || got != a {
		t.Fatal("expected to get back a")
	}
	a.box.Unref() // drop the ref Get gave us

	b := newFakePayload()
	c.Set("k", b) // replace; a should be unref'd by the cache

	if a.box.Alive() {
		t.Fatal("old payload should have been unref'd on replace")
	}

	got, ok = c.Get("k")
	if !ok || got != b {
		t.Fatal("expected to get back b after replace")
	}
}

func TestGetOrLoadReusesCachedPayload(t *testing.T) {
	c := New()
	calls := 0
	load := func() (Payload, error) {
		calls++
		return newFakePayload(), nil
	}

	p1, err := c.GetOrLoad("k", load)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.GetOrLoad("k", load)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("expected same payload from cache on second call")
	}
	if calls != 1 {
		t.Fatalf("load called %d times, want 1", calls)
	}
}

func TestGetOrLoadPropagatesError(t *testing.T) {
	c := New()
	wantErr := errors.New("boom")
	_, err := c.GetOrLoad("k", func() (Payload, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if c.Len() != 0 {
		t.Fatal("failed load should not populate the cache")
	}
}
