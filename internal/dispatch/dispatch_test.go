package dispatch_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/dispatch"
	"github.com/layerfs/avfs/internal/posix"
	"github.com/layerfs/avfs/internal/resolver"
	"github.com/layerfs/avfs/internal/volatile"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	registry := avfscore.NewRegistry()
	registry.Register(volatile.New("vol"))

	local := posix.NewLocalHandler()
	r := resolver.New(registry, func(p string) (*avfscore.VEntry, error) {
		return local.RootEntry(p), nil
	})
	return dispatch.New(r)
}

func TestDispatchMkdirAndReadDir(t *testing.T) {
	d := newDispatcher(t)

	require.NoError(t, d.Mkdir("/base#vol/dir", 0o755))

	entries, err := d.ReadDir("/base#vol/dir")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, ".")
	assert.Contains(t, names, "..")
}

func TestDispatchOpenCreateWriteRead(t *testing.T) {
	d := newDispatcher(t)
	require.NoError(t, d.Mkdir("/base#vol/dir", 0o755))

	h, err := d.Open("/base#vol/dir/file.txt", avfscore.ORdwr|avfscore.OCreat)
	require.NoError(t, err)

	n, err := h.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = h.Lseek(0, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err = h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	require.NoError(t, h.Close())
}

func TestDispatchOpenCreateExclFailsIfExists(t *testing.T) {
	d := newDispatcher(t)
	require.NoError(t, d.Mkdir("/base#vol/dir", 0o755))
	require.NoError(t, d.Mknod("/base#vol/dir/f", 0o644))

	_, err := d.Open("/base#vol/dir/f", avfscore.ORdwr|avfscore.OCreat|avfscore.OExcl)
	assert.ErrorIs(t, err, avfscore.ErrExists)
}

func TestDispatchReadOnlyHandleRejectsWrite(t *testing.T) {
	d := newDispatcher(t)
	require.NoError(t, d.Mknod("/base#vol/f", 0o644))

	h, err := d.Open("/base#vol/f", avfscore.ORdonly)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write([]byte("x"))
	assert.ErrorIs(t, err, avfscore.ErrPermission)
}

func TestDispatchRenameWithinMount(t *testing.T) {
	d := newDispatcher(t)
	require.NoError(t, d.Mknod("/base#vol/old.txt", 0o644))

	require.NoError(t, d.Rename("/base#vol/old.txt", "/base#vol/new.txt"))

	_, err := d.GetAttr("/base#vol/old.txt")
	assert.ErrorIs(t, err, avfscore.ErrNotFound)

	_, err = d.GetAttr("/base#vol/new.txt")
	require.NoError(t, err)
}

func TestDispatchUnlinkAndRmdir(t *testing.T) {
	d := newDispatcher(t)
	require.NoError(t, d.Mkdir("/base#vol/dir", 0o755))
	require.NoError(t, d.Mknod("/base#vol/dir/f", 0o644))

	require.NoError(t, d.Unlink("/base#vol/dir/f"))
	require.NoError(t, d.Rmdir("/base#vol/dir"))

	_, err := d.GetAttr("/base#vol/dir")
	assert.ErrorIs(t, err, avfscore.ErrNotFound)
}

func TestDispatchSymlink(t *testing.T) {
	d := newDispatcher(t)
	require.NoError(t, d.Symlink("/base#vol/target.txt", "/base#vol/link"))

	target, err := d.ReadLink("/base#vol/link")
	require.NoError(t, err)
	assert.Equal(t, "/base#vol/target.txt", target)
}
