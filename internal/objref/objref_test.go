package objref

import "testing"

func TestRefUnrefDestroys(t *testing.T) {
	destroyed := false
	b := New(func() { destroyed = true })

	b.Ref()
	if b.Count() != 2 {
		t.Fatalf("count = %d, want 2", b.Count())
	}

	b.Unref()
	if destroyed {
		t.Fatal("destroyed too early")
	}

	b.Unref()
	if !destroyed {
		t.Fatal("destructor did not run at zero")
	}
	if b.Alive() {
		t.Fatal("object should not be alive after destroy")
	}
}

func TestDoubleUnrefIsNotFatal(t *testing.T) {
	calls := 0
	b := New(func() { calls++ })

	b.Unref()
	b.Unref() // double free: logged, not panicked

	if calls != 1 {
		t.Fatalf("destructor called %d times, want 1", calls)
	}
}

func TestNilDestroyer(t *testing.T) {
	b := New(nil)
	b.Unref() // must not panic
	if b.Alive() {
		t.Fatal("expected dead object")
	}
}
