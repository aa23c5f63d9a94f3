package webdav

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/afero"
)

func TestFileSystemDelegatesToAferoFs(t *testing.T) {
	mem := afero.NewMemMapFs()
	fs := aferoToWebdavFS(mem)
	ctx := context.Background()

	if err := fs.Mkdir(ctx, "/dir", 0o755); err != nil {
		t.Fatal(err)
	}
	if fi, err := mem.Stat("/dir"); err != nil || !fi.IsDir() {
		t.Fatal("Mkdir should have created a directory on the underlying afero.Fs")
	}

	f, err := fs.OpenFile(ctx, "/dir/file.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	st, err := fs.Stat(ctx, "/dir/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", st.Size())
	}

	if err := fs.Rename(ctx, "/dir/file.txt", "/dir/renamed.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Stat("/dir/renamed.txt"); err != nil {
		t.Fatal("Rename should have renamed on the underlying afero.Fs")
	}

	if err := fs.RemoveAll(ctx, "/dir"); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Stat("/dir"); err == nil {
		t.Fatal("RemoveAll should have removed /dir from the underlying afero.Fs")
	}
}
