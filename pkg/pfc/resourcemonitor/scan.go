/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package resourcemonitor

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/fstraversal"
)

// deferredCheckCadence is how many directories the scanner processes
// between drains of the deferred-open list, bounding the latency a
// concurrent GetFile waits before being told its directory exists.
const deferredCheckCadence = 100

// CrossCheckIfScanIsInProgress is called from Cache.GetFile when a file is
// opened while the initial scan may not yet have descended into its
// directory. If a scan is running, the caller blocks on scanCond until the
// scanner marks lfn checked (either because it reached that directory
// naturally, or via the deferred-check drain).
func (m *Monitor) CrossCheckIfScanIsInProgress(lfn string) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	if !m.scanning {
		return
	}
	d := &deferredOpen{lfn: lfn}
	m.deferredOpen = append(m.deferredOpen, d)
	for !d.checked {
		m.scanCond.Wait()
	}
}

// InitialScan walks the cache root with fstraversal, seeding the
// DirState tree's Here usage at every level and periodically draining the
// deferred-open list so concurrent opens aren't stalled for the whole
// scan's duration.
func (m *Monitor) InitialScan(t *fstraversal.Traversal) error {
	m.scanMu.Lock()
	m.scanning = true
	m.scanMu.Unlock()
	defer func() {
		m.scanMu.Lock()
		m.scanning = false
		m.drainDeferredLocked("")
		m.scanMu.Unlock()
	}()

	if err := t.Begin(); err != nil {
		return errors.Wrap(err, "begin initial scan")
	}

	visited := 0
	// path is the directory's tree path ("/" for the cache root), not its
	// on-disk path, so it matches the tree's and the deferred entries' keys.
	var walk func(path string) error
	walk = func(path string) error {

		var files, bytes int64
		for _, e := range t.Entries() {
			if e.HasCinfo {
				files++
				if e.DataStat != nil {
					bytes += e.DataStat.Size()
				}
			}
		}
		m.tree.SeedHereUsage(path, m.cfg.DirStats.Depth, files, bytes)

		m.scanMu.Lock()
		m.drainDeferredLocked(path)
		visited++
		if visited%deferredCheckCadence == 0 {
			m.drainDeferredLocked("")
		}
		m.scanMu.Unlock()

		for _, name := range t.Subdirs() {
			if err := t.CdDown(name); err != nil {
				return err
			}
			if err := walk(filepath.Join(path, name)); err != nil {
				return err
			}
			if err := t.CdUp(); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return err
	}

	m.tree.UpwardPropagateInitialScanUsages()
	return nil
}

// drainDeferredLocked marks every deferred entry whose directory is path
// (or, when path == "", every remaining entry — used at scan end and on
// the every-100-directories cadence) as checked and wakes its waiter. The
// caller must hold scanMu.
func (m *Monitor) drainDeferredLocked(path string) {
	remaining := m.deferredOpen[:0]
	woke := false
	for _, d := range m.deferredOpen {
		if path == "" || filepath.Dir("/"+d.lfn) == path {
			d.checked = true
			woke = true
			continue
		}
		remaining = append(remaining, d)
	}
	m.deferredOpen = remaining
	if woke {
		m.scanCond.Broadcast()
	}
}
