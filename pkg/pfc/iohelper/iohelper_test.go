package iohelper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreadPwriteRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "data")
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	n, err := Pwrite(f, []byte("hello"), 100)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = Pread(f, buf, 100)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestFallocateGrowsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "data")
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, Fallocate(f, 1<<20))

	info, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), info.Size())
}

func TestStatVS(t *testing.T) {
	st, err := StatVS(t.TempDir())
	require.NoError(t, err)
	require.Greater(t, st.TotalBytes, int64(0))
}
