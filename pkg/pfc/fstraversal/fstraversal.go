/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package fstraversal walks the cache root during the initial scan and
// during purge candidate selection, pairing each data file with its .cinfo
// sidecar at every directory level.
package fstraversal

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	securejoin "github.com/cyphar/filepath-securejoin"
)

const cinfoSuffix = ".cinfo"

// Entry pairs a data file with its cinfo sidecar by base name.
type Entry struct {
	Name      string
	HasData   bool
	DataStat  os.FileInfo
	HasCinfo  bool
	CinfoStat os.FileInfo
}

type frame struct {
	path    string
	subdirs []string
	entries map[string]*Entry
}

// Traversal is a stateful recursive walker bound to a single cache root. It
// never resolves a path outside that root, even through symlinks.
type Traversal struct {
	root      string
	protected map[string]bool
	stack     []frame
}

// New constructs a Traversal rooted at root. protectedAtDepth0 names a set
// of top-level directories (e.g. the stats export dir) skipped entirely.
func New(root string, protectedAtDepth0 []string) *Traversal {
	prot := make(map[string]bool, len(protectedAtDepth0))
	for _, n := range protectedAtDepth0 {
		prot[n] = true
	}
	return &Traversal{root: root, protected: prot}
}

// Begin opens the root directory and populates the first traversal frame.
func (t *Traversal) Begin() error {
	t.stack = nil
	f, err := t.scan(t.root, true)
	if err != nil {
		return err
	}
	t.stack = []frame{f}
	return nil
}

func (t *Traversal) scan(path string, atRootDepth bool) (frame, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return frame{}, errors.Wrapf(err, "read dir %s", path)
	}

	f := frame{path: path, entries: make(map[string]*Entry)}
	for _, de := range dirEntries {
		if de.IsDir() {
			if atRootDepth && t.protected[de.Name()] {
				continue
			}
			f.subdirs = append(f.subdirs, de.Name())
			continue
		}

		info, err := de.Info()
		if err != nil {
			return frame{}, errors.Wrapf(err, "stat %s", filepath.Join(path, de.Name()))
		}

		if strings.HasSuffix(de.Name(), cinfoSuffix) {
			base := strings.TrimSuffix(de.Name(), cinfoSuffix)
			e := f.entries[base]
			if e == nil {
				e = &Entry{Name: base}
				f.entries[base] = e
			}
			e.HasCinfo = true
			e.CinfoStat = info
		} else {
			e := f.entries[de.Name()]
			if e == nil {
				e = &Entry{Name: de.Name()}
				f.entries[de.Name()] = e
			}
			e.HasData = true
			e.DataStat = info
		}
	}
	return f, nil
}

func (t *Traversal) current() *frame {
	return &t.stack[len(t.stack)-1]
}

// CurrentPath returns the absolute path of the directory currently open.
func (t *Traversal) CurrentPath() string { return t.current().path }

// Subdirs lists the subdirectories discovered at the current level.
func (t *Traversal) Subdirs() []string { return t.current().subdirs }

// Entries lists the data/cinfo pairs discovered at the current level.
func (t *Traversal) Entries() map[string]*Entry { return t.current().entries }

// CdDown descends into subdirectory name, pushing a new frame.
func (t *Traversal) CdDown(name string) error {
	next := filepath.Join(t.current().path, name)
	resolved, err := securejoin.SecureJoin(t.root, strings.TrimPrefix(next, t.root))
	if err != nil {
		return errors.Wrapf(err, "resolve %s under cache root", next)
	}
	f, err := t.scan(resolved, false)
	if err != nil {
		return err
	}
	t.stack = append(t.stack, f)
	return nil
}

// CdUp pops the current frame, returning to the parent directory. It is an
// error to call CdUp at the root frame.
func (t *Traversal) CdUp() error {
	if len(t.stack) <= 1 {
		return errors.New("fstraversal: already at root")
	}
	t.stack = t.stack[:len(t.stack)-1]
	return nil
}

// Depth returns how many CdDown calls deep the traversal currently is.
func (t *Traversal) Depth() int { return len(t.stack) - 1 }

// OpenAtRO opens name (relative to the current directory) read-only.
func (t *Traversal) OpenAtRO(name string) (*os.File, error) {
	p, err := securejoin.SecureJoin(t.current().path, name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// UnlinkAt removes name (relative to the current directory).
func (t *Traversal) UnlinkAt(name string) error {
	p, err := securejoin.SecureJoin(t.current().path, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
