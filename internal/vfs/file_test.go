package vfs

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"blockvfs/internal/storage"
)

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}

func TestOpenWithoutCreateFails(t *testing.T) {
	fs := testFS(t)

	_, err := fs.Open("missing", 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenExcl(t *testing.T) {
	fs := testFS(t)

	fd, err := fs.Open("f", FlagCreate|FlagExcl)
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	_, err = fs.Open("f", FlagCreate|FlagExcl)
	require.ErrorIs(t, err, ErrExists)
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs := testFS(t)

	require.NoError(t, fs.Mkdir("Documents/"))

	fd, err := fs.Open("Documents/a.txt", FlagCreate)
	require.NoError(t, err)
	n, err := fs.Write(fd, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, fs.Close(fd))

	fd, err = fs.Open("Documents/a.txt", 0)
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err = fs.Read(fd, buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))

	// The cursor sits at the end of the file now.
	n, err = fs.Read(fd, buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, fs.Close(fd))
}

func TestLargeFileSeekOverwrite(t *testing.T) {
	fs := testFS(t)

	data := pattern(250)
	fd, err := fs.Open("big", FlagCreate)
	require.NoError(t, err)
	n, err := fs.Write(fd, data)
	require.NoError(t, err)
	require.Equal(t, 250, n)

	_, err = fs.Seek(fd, 234, io.SeekStart)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("ei"))
	require.NoError(t, err)

	_, err = fs.Seek(fd, 234, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = fs.Read(fd, buf)
	require.NoError(t, err)
	require.Equal(t, "ei", string(buf))

	want := append([]byte{}, data...)
	copy(want[234:236], "ei")
	_, err = fs.Seek(fd, 0, io.SeekStart)
	require.NoError(t, err)
	got := make([]byte, 250)
	n, err = fs.Read(fd, got)
	require.NoError(t, err)
	require.Equal(t, 250, n)
	require.Equal(t, want, got)
}

func TestFirstFitReusesFreedBlocks(t *testing.T) {
	fs := testFS(t)

	fd, err := fs.Open("old", FlagCreate)
	require.NoError(t, err)
	oldContent := fs.descriptors[fd].content
	_, err = fs.Write(fd, pattern(140))
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))
	require.NoError(t, fs.Unlink("old"))

	fd, err = fs.Open("new", FlagCreate)
	require.NoError(t, err)
	require.Equal(t, oldContent, fs.descriptors[fd].content)
	_, err = fs.Write(fd, []byte("fresh"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))
}

func TestAppend(t *testing.T) {
	fs := testFS(t)

	fd, err := fs.Open("log", FlagCreate)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	fd, err = fs.Open("log", FlagAppend)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("world"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	fd, err = fs.Open("log", 0)
	require.NoError(t, err)
	buf := make([]byte, 10)
	n, err := fs.Read(fd, buf)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, "helloworld", string(buf))
}

func TestTrunc(t *testing.T) {
	fs := testFS(t)

	fd, err := fs.Open("f", FlagCreate)
	require.NoError(t, err)
	_, err = fs.Write(fd, pattern(45))
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	before := inUse(t, fs)

	fd, err = fs.Open("f", FlagTrunc)
	require.NoError(t, err)

	de, err := fs.Stat("f")
	require.NoError(t, err)
	require.Equal(t, int64(0), de.Size)

	_, err = fs.Write(fd, []byte("new"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	// The five-block chain shrank to one fresh block.
	require.Equal(t, before-4, inUse(t, fs))

	fd, err = fs.Open("f", 0)
	require.NoError(t, err)
	buf := make([]byte, 10)
	n, err := fs.Read(fd, buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "new", string(buf[:n]))
}

func TestSeekWhenceAndClamping(t *testing.T) {
	fs := testFS(t)

	fd, err := fs.Open("f", FlagCreate)
	require.NoError(t, err)
	_, err = fs.Write(fd, pattern(10))
	require.NoError(t, err)

	pos, err := fs.Seek(fd, -5, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(0), pos)

	pos, err = fs.Seek(fd, 3, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(10), pos)

	pos, err = fs.Seek(fd, -4, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(6), pos)

	pos, err = fs.Seek(fd, 0, 42)
	require.ErrorIs(t, err, ErrBadWhence)
	require.Equal(t, int64(6), pos)
}

func TestIndependentCursorsShareBytes(t *testing.T) {
	fs := testFS(t)

	fd1, err := fs.Open("f", FlagCreate)
	require.NoError(t, err)
	_, err = fs.Write(fd1, []byte("abcdefghij"))
	require.NoError(t, err)
	_, err = fs.Seek(fd1, 0, io.SeekStart)
	require.NoError(t, err)

	fd2, err := fs.Open("f", 0)
	require.NoError(t, err)
	require.NotEqual(t, fd1, fd2)

	// Interleaved reads exercise the cursor re-seat protocol.
	buf := make([]byte, 4)
	_, err = fs.Read(fd1, buf)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(buf))

	_, err = fs.Read(fd2, buf)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(buf))

	_, err = fs.Read(fd1, buf)
	require.NoError(t, err)
	require.Equal(t, "efgh", string(buf))

	_, err = fs.Read(fd2, buf)
	require.NoError(t, err)
	require.Equal(t, "efgh", string(buf))
}

func TestDescriptorTableExhaustion(t *testing.T) {
	fs := testFS(t)

	fd, err := fs.Open("f", FlagCreate)
	require.NoError(t, err)

	fds := []int{fd}
	for i := 1; i < maxDescriptors; i++ {
		fd, err := fs.Open("f", 0)
		require.NoError(t, err)
		fds = append(fds, fd)
	}

	_, err = fs.Open("f", 0)
	require.ErrorIs(t, err, ErrDescriptorsFull)

	// Releasing one slot makes open work again.
	require.NoError(t, fs.Close(fds[17]))
	fd, err = fs.Open("f", 0)
	require.NoError(t, err)
	require.Equal(t, fds[17], fd)
}

func TestBadDescriptor(t *testing.T) {
	fs := testFS(t)

	_, err := fs.Read(42, make([]byte, 1))
	require.ErrorIs(t, err, ErrBadDescriptor)

	_, err = fs.Write(42, []byte("x"))
	require.ErrorIs(t, err, ErrBadDescriptor)

	_, err = fs.Seek(42, 0, io.SeekStart)
	require.ErrorIs(t, err, ErrBadDescriptor)

	require.ErrorIs(t, fs.Close(-1), ErrBadDescriptor)
	require.ErrorIs(t, fs.Close(maxDescriptors), ErrBadDescriptor)
}

func TestStorageExhaustionShortWrite(t *testing.T) {
	st, err := storage.Open(filepath.Join(t.TempDir(), "image"), 10, 8)
	require.NoError(t, err)
	fs, err := New(st)
	require.NoError(t, err)
	defer fs.Shutdown()

	// Root takes block 0; content and metadata one each; five blocks are
	// left for the chain to grow into.
	fd, err := fs.Open("f", FlagCreate)
	require.NoError(t, err)

	n, err := fs.Write(fd, pattern(100))
	require.ErrorIs(t, err, storage.ErrStorageFull)
	require.Equal(t, 60, n)

	// The stored length reflects the bytes that made it in.
	de, err := fs.Stat("f")
	require.NoError(t, err)
	require.Equal(t, int64(60), de.Size)
}
