package avfscore

import "testing"

type stubHandler struct {
	BaseHandler
	name string
	exts []string
}

func (s *stubHandler) Name() string                                   { return s.name }
func (s *stubHandler) Extensions() []string                           { return s.exts }
func (s *stubHandler) Lookup(ve *VEntry, name string) (*VEntry, error) { return nil, ErrNotFound }
func (s *stubHandler) Open(ve *VEntry, flags OpenFlag) (VFile, error)  { return nil, ErrNotSupported }
func (s *stubHandler) GetAttr(ve *VEntry) (Stat, error)                { return Stat{}, ErrNotFound }
func (s *stubHandler) ReadDir(ve *VEntry) ([]DirEntry, error)          { return nil, ErrNotDir }
func (s *stubHandler) GetPath(ve *VEntry) (string, error)              { return "", nil }

func TestMatchExtensionPrefersRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubHandler{name: "ugz", exts: []string{".gz"}})
	r.Register(&stubHandler{name: "uztar", exts: []string{".tar.gz", ".tgz"}})

	h, suffix, ok := r.MatchExtension("archive.tar.gz")
	if !ok {
		t.Fatal("expected a match")
	}
	if h.Name() != "ugz" || suffix != ".gz" {
		t.Fatalf("got handler %q suffix %q, want ugz/.gz (first-registered wins)", h.Name(), suffix)
	}
}

func TestByNameAndNames(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubHandler{name: "ugz"})
	r.Register(&stubHandler{name: "utar"})

	if _, ok := r.ByName("ugz"); !ok {
		t.Fatal("expected ugz to be registered")
	}
	if _, ok := r.ByName("missing"); ok {
		t.Fatal("did not expect missing to be registered")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "ugz" || names[1] != "utar" {
		t.Fatalf("Names() = %v, want sorted [ugz utar]", names)
	}
}
