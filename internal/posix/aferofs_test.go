package posix_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/dispatch"
	"github.com/layerfs/avfs/internal/posix"
	"github.com/layerfs/avfs/internal/resolver"
	"github.com/layerfs/avfs/internal/volatile"
)

func newAferoFS(t *testing.T) *posix.AferoFS {
	t.Helper()
	registry := avfscore.NewRegistry()
	registry.Register(volatile.New("vol"))
	local := posix.NewLocalHandler()
	r := resolver.New(registry, func(p string) (*avfscore.VEntry, error) {
		return local.RootEntry(p), nil
	})
	return posix.NewAferoFS(dispatch.New(r))
}

func TestAferoFSCreateWriteReadRemove(t *testing.T) {
	fs := newAferoFS(t)
	require.NoError(t, fs.Mkdir("/base#vol/dir", 0o755))

	f, err := fs.Create("/base#vol/dir/file.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = fs.Open("/base#vol/dir/file.txt")
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	require.NoError(t, f.Close())

	require.NoError(t, fs.Remove("/base#vol/dir/file.txt"))
	_, err = fs.Stat("/base#vol/dir/file.txt")
	assert.True(t, os.IsNotExist(err))
}

func TestAferoFSRemoveAll(t *testing.T) {
	fs := newAferoFS(t)
	require.NoError(t, fs.Mkdir("/base#vol/dir", 0o755))
	f, err := fs.Create("/base#vol/dir/a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.RemoveAll("/base#vol/dir"))
	_, err = fs.Stat("/base#vol/dir")
	assert.True(t, os.IsNotExist(err))
}
