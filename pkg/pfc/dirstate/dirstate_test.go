package dirstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFindPathCreatesAndParsesLFN(t *testing.T) {
	tree := NewTree()
	n, ok := tree.FindPath("/a/b/c.root", 0, true, true)
	require.True(t, ok)
	require.Equal(t, "/a/b", n.Path)

	// Re-resolving without create must find the same node, not duplicate it.
	n2, ok := tree.FindPath("/a/b/other.root", 0, true, false)
	require.True(t, ok)
	require.Same(t, n, n2)
}

func TestFindPathRespectsMaxDepth(t *testing.T) {
	tree := NewTree()
	n, ok := tree.FindPath("/a/b/c/d/file.root", 2, true, true)
	require.True(t, ok)
	require.Equal(t, "/a/b", n.Path)
}

func TestUpwardPropagateSumsSubtree(t *testing.T) {
	tree := NewTree()
	tree.SeedHereUsage("/x", 0, 3, 300)
	tree.SeedHereUsage("/x/y", 0, 2, 200)
	tree.SeedHereUsage("/x/z", 0, 1, 100)

	tree.UpwardPropagateInitialScanUsages()

	root := tree.Root()
	x := root.Children["x"]

	// Recursive excludes a node's own Here: x's subtree is just y and z.
	require.Equal(t, int64(2+1), x.Recursive.NFiles)
	require.Equal(t, int64(200+100), x.Recursive.UsedBytes)

	// Root's subtree folds in x's own Here plus x's Recursive.
	require.Equal(t, int64(3+2+1), root.Recursive.NFiles)
	require.Equal(t, int64(300+200+100), root.Recursive.UsedBytes)
}

func TestUpdateStatsAndUsagesRecursiveInvariant(t *testing.T) {
	tree := NewTree()
	tree.ApplyOpen("/a/b/f1.root", 0, time.Unix(100, 0))
	tree.ApplyOpen("/a/c/f2.root", 0, time.Unix(100, 0))
	tree.ApplyStatDelta("/a/b/f1.root", 0, Stats{FilesCreated: 1, BytesWritten: 1024})
	tree.ApplyStatDelta("/a/c/f2.root", 0, Stats{FilesCreated: 1, BytesWritten: 2048})

	tree.UpdateStatsAndUsages(false, nil)

	root := tree.Root()
	a := root.Children["a"]
	b := a.Children["b"]
	c := a.Children["c"]

	// Recursive usage equals the sum of children's here-usage plus
	// children's recursive usage — it never folds in this node's own Here.
	require.Equal(t, b.Here.UsedBytes+b.Recursive.UsedBytes+c.Here.UsedBytes+c.Recursive.UsedBytes, a.Recursive.UsedBytes)
	require.Equal(t, int64(1024), b.Here.UsedBytes)
	require.Equal(t, int64(2048), c.Here.UsedBytes)
}

func TestUpdateStatsAndUsagesReapsEmptyDirs(t *testing.T) {
	tree := NewTree()
	tree.FindPath("/empty/dir/x.root", 0, true, true)

	var unlinked []string
	tree.UpdateStatsAndUsages(true, func(path string) error {
		unlinked = append(unlinked, path)
		return nil
	})

	root := tree.Root()
	empty := root.Children["empty"]
	require.NotNil(t, empty)
	_, ok := empty.Children["dir"]
	require.False(t, ok)
	require.Contains(t, unlinked, "/empty/dir")
}
