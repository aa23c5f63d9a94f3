package volatile_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/volatile"
)

func rootVE(fs *volatile.FS) *avfscore.VEntry {
	ve, err := fs.Lookup(&avfscore.VEntry{Handler: fs}, "")
	if err != nil {
		panic(err)
	}
	return ve
}

func TestMkdirOpenWriteReadUnlinkRmdir(t *testing.T) {
	fs := volatile.New("vol")
	root := rootVE(fs)

	require.NoError(t, fs.Mkdir(root, "dir", 0o755))

	dirVE, err := fs.Lookup(root, "dir")
	require.NoError(t, err)
	st, err := fs.GetAttr(dirVE)
	require.NoError(t, err)
	assert.Equal(t, avfscore.TypeDirectory, st.Type)

	require.NoError(t, fs.Mknod(dirVE, "file.txt", 0o644))
	fileVE, err := fs.Lookup(dirVE, "file.txt")
	require.NoError(t, err)

	f, err := fs.Open(fileVE, avfscore.ORdwr)
	require.NoError(t, err)

	n, err := f.Pwrite([]byte("hello world"), 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	buf := make([]byte, 5)
	n, err = f.Pread(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))

	_, err = f.Pread(buf, 100)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, f.Close())

	entries, err := fs.ReadDir(dirVE)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "file.txt")
	assert.Contains(t, names, ".")
	assert.Contains(t, names, "..")

	require.NoError(t, fs.Unlink(fileVE))
	_, err = fs.Lookup(dirVE, "file.txt")
	assert.ErrorIs(t, err, avfscore.ErrNotFound)

	require.NoError(t, fs.Rmdir(dirVE))
	_, err = fs.Lookup(root, "dir")
	assert.ErrorIs(t, err, avfscore.ErrNotFound)
}

func TestMkdirExistsAndRmdirNotEmpty(t *testing.T) {
	fs := volatile.New("vol")
	root := rootVE(fs)

	require.NoError(t, fs.Mkdir(root, "dir", 0o755))
	err := fs.Mkdir(root, "dir", 0o755)
	assert.ErrorIs(t, err, avfscore.ErrExists)

	dirVE, err := fs.Lookup(root, "dir")
	require.NoError(t, err)
	require.NoError(t, fs.Mknod(dirVE, "f", 0o644))

	err = fs.Rmdir(dirVE)
	assert.ErrorIs(t, err, avfscore.ErrNotEmpty)
}

func TestSymlinkAndReadLink(t *testing.T) {
	fs := volatile.New("vol")
	root := rootVE(fs)

	require.NoError(t, fs.Symlink("/target", root, "link"))
	linkVE, err := fs.Lookup(root, "link")
	require.NoError(t, err)

	target, err := fs.ReadLink(linkVE)
	require.NoError(t, err)
	assert.Equal(t, "/target", target)
}

func TestUnlinkRejectsDirectory(t *testing.T) {
	fs := volatile.New("vol")
	root := rootVE(fs)

	require.NoError(t, fs.Mkdir(root, "dir", 0o755))
	dirVE, err := fs.Lookup(root, "dir")
	require.NoError(t, err)

	err = fs.Unlink(dirVE)
	assert.ErrorIs(t, err, avfscore.ErrIsDir)
}

func TestRename(t *testing.T) {
	fs := volatile.New("vol")
	root := rootVE(fs)

	require.NoError(t, fs.Mknod(root, "old.txt", 0o644))
	oldVE, err := fs.Lookup(root, "old.txt")
	require.NoError(t, err)

	require.NoError(t, fs.Rename(oldVE, root, "new.txt"))

	_, err = fs.Lookup(root, "old.txt")
	assert.ErrorIs(t, err, avfscore.ErrNotFound)

	_, err = fs.Lookup(root, "new.txt")
	require.NoError(t, err)
}
