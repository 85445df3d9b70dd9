package fstraversal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestBeginPairsDataAndCinfo(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.root"), "data")
	writeFile(t, filepath.Join(root, "a.root.cinfo"), "meta")
	writeFile(t, filepath.Join(root, "orphan.cinfo"), "meta")
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "pfc-stats"), 0755))

	tr := New(root, []string{"pfc-stats"})
	require.NoError(t, tr.Begin())

	entries := tr.Entries()
	require.True(t, entries["a.root"].HasData)
	require.True(t, entries["a.root"].HasCinfo)
	require.True(t, entries["orphan"].HasCinfo)
	require.False(t, entries["orphan"].HasData)

	require.Equal(t, []string{"sub"}, tr.Subdirs())
}

func TestCdDownCdUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "b.root"), "data")

	tr := New(root, nil)
	require.NoError(t, tr.Begin())
	require.NoError(t, tr.CdDown("sub"))
	require.Equal(t, filepath.Join(root, "sub"), tr.CurrentPath())
	require.True(t, tr.Entries()["b.root"].HasData)

	require.NoError(t, tr.CdUp())
	require.Equal(t, root, tr.CurrentPath())
	require.Error(t, tr.CdUp())
}

func TestUnlinkAt(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.root"), "data")

	tr := New(root, nil)
	require.NoError(t, tr.Begin())
	require.NoError(t, tr.UnlinkAt("a.root"))

	_, err := os.Stat(filepath.Join(root, "a.root"))
	require.True(t, os.IsNotExist(err))

	// Unlinking an already-missing file is not an error.
	require.NoError(t, tr.UnlinkAt("a.root"))
}
