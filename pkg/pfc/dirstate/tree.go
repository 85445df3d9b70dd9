/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package dirstate

import (
	"sync"
	"time"

	"github.com/mohae/deepcopy"
)

// Tree is the whole hierarchical accountant, rooted at "/". A single mutex
// guards the structure: critical sections are short (one path lookup or
// one reconciliation pass), matching the teacher's short-critical-section
// style for its own shared maps.
type Tree struct {
	mu   sync.Mutex
	root *Node
}

// NewTree creates an accountant with just the root node.
func NewTree() *Tree {
	return &Tree{root: newNode("", "/", 0, nil)}
}

// FindPath resolves path to a Node, descending at most maxDepth levels
// (0 means unlimited); deeper components are accounted against the node at
// maxDepth rather than creating further nesting. When parseAsLFN is true,
// the final path component is treated as a file name and dropped before
// walking. createIfMissing controls whether intermediate/leaf nodes are
// created on the way.
func (t *Tree) FindPath(path string, maxDepth int, parseAsLFN, createIfMissing bool) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findPathLocked(path, maxDepth, parseAsLFN, createIfMissing)
}

func (t *Tree) findPathLocked(path string, maxDepth int, parseAsLFN, createIfMissing bool) (*Node, bool) {
	parts := splitPath(path)
	if parseAsLFN && len(parts) > 0 {
		parts = parts[:len(parts)-1]
	}

	cur := t.root
	for i, name := range parts {
		if maxDepth > 0 && i >= maxDepth {
			break
		}
		next, ok := cur.findDir(name, createIfMissing)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// ApplyOpen records a file-open event charged against path's directory.
func (t *Tree) ApplyOpen(path string, maxDepth int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.findPathLocked(path, maxDepth, true, true)
	if !ok {
		return
	}
	n.pending.FilesOpened++
	n.Here.LastOpenTime = at
}

// ApplyClose records a file-close event charged against path's directory.
func (t *Tree) ApplyClose(path string, maxDepth int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.findPathLocked(path, maxDepth, true, true)
	if !ok {
		return
	}
	n.pending.FilesClosed++
	n.Here.LastCloseTime = at
}

// ApplyStatDelta folds a byte/IO-counter delta into path's directory.
func (t *Tree) ApplyStatDelta(path string, maxDepth int, delta Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.findPathLocked(path, maxDepth, true, true)
	if !ok {
		return
	}
	n.pending.add(delta)
}

// ApplyPurge records a purge outcome (files and bytes reclaimed) against
// path's directory.
func (t *Tree) ApplyPurge(path string, maxDepth int, nFiles, nBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.findPathLocked(path, maxDepth, true, true)
	if !ok {
		return
	}
	n.pending.FilesRemoved += nFiles
	n.pending.BytesRemoved += nBytes
}

// SeedHereUsage sets a node's own usage figures directly from the initial
// filesystem scan (file count, bytes on disk), before any propagation.
func (t *Tree) SeedHereUsage(path string, maxDepth int, files, usedBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.findPathLocked(path, maxDepth, false, true)
	if !ok {
		return
	}
	n.Here.NFiles += files
	n.Here.UsedBytes += usedBytes
}

// UpwardPropagateInitialScanUsages walks the tree bottom-up once after the
// initial scan: each node's directory count is written into Here, and
// Recursive is built from each child's own Here plus its Recursive (so
// Recursive never includes this node's own Here — it is strictly the
// subtree below this directory).
func (t *Tree) UpwardPropagateInitialScanUsages() {
	t.mu.Lock()
	defer t.mu.Unlock()
	propagateUp(t.root)
}

// propagateUp returns n's total usage (Here plus Recursive), the figure a
// parent folds in as its contribution to the parent's own Recursive.
func propagateUp(n *Node) Usage {
	n.Here.NDirectories = int64(len(n.Children))
	n.Recursive = Usage{}
	for _, c := range n.Children {
		n.Recursive.foldChild(propagateUp(c))
	}
	total := n.Here
	total.foldChild(n.Recursive)
	return total
}

// UpdateStatsAndUsages is the per-tick reconciliation pass: depth-first,
// fold child stats upward, reap empty childless directories when
// purgeEmptyDirs is set, then apply this tick's deltas into the cumulative
// snapshot and usages.
func (t *Tree) UpdateStatsAndUsages(purgeEmptyDirs bool, unlinkFn func(path string) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	updateNode(t.root, purgeEmptyDirs, unlinkFn)
}

func updateNode(n *Node, purgeEmptyDirs bool, unlinkFn func(path string) error) {
	for name, c := range n.Children {
		updateNode(c, purgeEmptyDirs, unlinkFn)

		if purgeEmptyDirs && c.Here.NFiles == 0 && c.Recursive.NFiles == 0 && len(c.Children) == 0 && c.nDirectoriesRemoved == 0 {
			if unlinkFn != nil {
				if err := unlinkFn(c.Path); err == nil {
					delete(n.Children, name)
					n.nDirectoriesRemoved++
					continue
				}
			}
		}

		if c.Here.LastOpenTime.After(n.Here.LastOpenTime) {
			n.Here.LastOpenTime = c.Here.LastOpenTime
		}
		if c.Here.LastCloseTime.After(n.Here.LastCloseTime) {
			n.Here.LastCloseTime = c.Here.LastCloseTime
		}
	}

	n.sshot.add(n.pending)
	n.Here.NFilesOpened += n.pending.FilesOpened
	n.Here.NFilesClosed += n.pending.FilesClosed
	n.Here.NFilesCreated += n.pending.FilesCreated
	n.Here.NFilesRemoved += n.pending.FilesRemoved
	// File counts follow from cumulative create/remove, not from opens/closes.
	n.Here.NFiles += n.pending.FilesCreated - n.pending.FilesRemoved
	n.Here.UsedBytes += n.pending.BytesWritten - n.pending.BytesRemoved
	n.pending = Stats{}
	n.Here.NDirectories = int64(len(n.Children))

	// Recursive totals are recomputed from scratch each pass: strictly the
	// subtree below this node, i.e. every surviving child's own Here plus
	// that child's Recursive (post-reap) — never this node's own Here.
	n.Recursive = Usage{}
	for _, c := range n.Children {
		childTotal := c.Here
		childTotal.foldChild(c.Recursive)
		n.Recursive.foldChild(childTotal)
	}
}

// SnapshotStats returns a deep copy of n's cumulative snapshot stats, safe
// to hand across a goroutine boundary (e.g. to a JSON exporter).
func (n *Node) SnapshotStats() Stats {
	return deepcopy.Copy(n.sshot).(Stats)
}

// Root returns the tree's root node. Callers must hold no assumption of
// thread-safety beyond what Tree's own methods provide; walking Children
// directly is only safe while holding Tree's lock, which is why exported
// read paths go through Tree methods or Export.
func (t *Tree) Root() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// Lock/Unlock expose the tree mutex to callers (e.g. the JSON snapshot
// exporter) that need to walk the whole structure consistently.
func (t *Tree) Lock()   { t.mu.Lock() }
func (t *Tree) Unlock() { t.mu.Unlock() }
