/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package resourcemonitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/internal/logging"
	"github.com/xrootd/xrootd-sub004/pkg/metrics/data"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/dirstate"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/iohelper"
)

const (
	queueProcessInterval = 10 * time.Second
	purgeCheckInterval   = 60 * time.Second
)

// Purger is the subset of the purge subsystem the heartbeat drives each
// time a purge check is due.
type Purger interface {
	Run(diskUsed, diskTotal, fileUsage, writesSinceLastCheck int64) error
	RunColdFiles(age time.Duration) error
}

// deferredOpen is one entry on the scan-in-progress wait list: a reader
// thread blocked in Cache.GetFile for an lfn whose directory the initial
// scan has not yet reached. All entries wait on the Monitor's own scanCond,
// which is bound to scanMu, so Wait/Broadcast always agree on the lock.
type deferredOpen struct {
	lfn     string
	checked bool
}

// Monitor owns the single heartbeat thread: it drains Queues into the
// DirState tree in a fixed precedence (open -> stat-update -> close ->
// purge), refreshes disk usage, and periodically drives Purge.
type Monitor struct {
	cfg    *config.Config
	queues *Queues
	tree   *dirstate.Tree
	purge  Purger

	writesSinceLastCall func() int64
	unlinkDir           func(path string) error

	scanMu       sync.Mutex
	scanCond     *sync.Cond
	scanning     bool
	deferredOpen []*deferredOpen

	purgeCycle int

	statsDir string
}

// New constructs a Monitor. writesSinceLastCall and unlinkDir are narrow
// seams onto the Cache (WritesSinceLastCall, and the OSS-backed empty-dir
// removal DirState needs) so this package doesn't import cache directly.
func New(cfg *config.Config, queues *Queues, tree *dirstate.Tree, purge Purger,
	writesSinceLastCall func() int64, unlinkDir func(path string) error) *Monitor {
	m := &Monitor{
		cfg:                 cfg,
		queues:              queues,
		tree:                tree,
		purge:               purge,
		writesSinceLastCall: writesSinceLastCall,
		unlinkDir:           unlinkDir,
		statsDir:            filepath.Join(cfg.Cache.DataDir, cfg.Cache.StatsDirName),
	}
	m.scanCond = sync.NewCond(&m.scanMu)
	return m
}

// Run is the heart_beat loop: it blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	queueTimer := time.NewTimer(queueProcessInterval)
	snapshotTimer := time.NewTimer(m.snapshotInterval())
	purgeTimer := time.NewTimer(purgeCheckInterval)
	defer queueTimer.Stop()
	defer snapshotTimer.Stop()
	defer purgeTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-queueTimer.C:
			m.drainAndReplay()
			queueTimer.Reset(queueProcessInterval)
		case <-snapshotTimer.C:
			m.drainAndReplay()
			if err := m.snapshot(); err != nil {
				logging.L.WithError(err).Warn("pfc: snapshot export failed")
			}
			snapshotTimer.Reset(m.snapshotInterval())
		case <-purgeTimer.C:
			m.drainAndReplay()
			m.runPurgeCheck()
			purgeTimer.Reset(purgeCheckInterval)
		}
	}
}

func (m *Monitor) snapshotInterval() time.Duration {
	if m.cfg.DirStats.Interval <= 0 {
		return 5 * time.Minute
	}
	return m.cfg.DirStats.Interval
}

// drainAndReplay swaps every queue under its own mutex and then replays
// the drained records into the tree without holding any queue lock, in the
// fixed precedence open -> stat-update -> close -> purge.
func (m *Monitor) drainAndReplay() {
	opens := m.queues.opens.swap()
	stats := m.queues.stats.swap()
	closes := m.queues.closes.swap()
	purges := m.queues.purges.swap()

	depth := m.cfg.DirStats.Depth

	// Records carry directory paths, while the tree's Apply* methods take a
	// file path and charge its parent directory; asLFN adds a leaf name.
	asLFN := func(dir string) string { return filepath.Join(dir, "_") }

	for _, r := range opens {
		if r.path == "" {
			continue
		}
		m.tree.ApplyOpen(asLFN(r.path), depth, r.at)
	}
	for _, r := range stats {
		if r.path == "" {
			continue
		}
		m.tree.ApplyStatDelta(asLFN(r.path), depth, r.delta)
	}
	for _, r := range closes {
		if r.path == "" {
			continue
		}
		m.tree.ApplyClose(asLFN(r.path), depth, r.at)
	}
	for _, r := range purges {
		m.tree.ApplyPurge(asLFN(r.path), depth, r.nFiles, r.nBytes)
		data.PurgedFiles.Add(float64(r.nFiles))
		data.PurgedBytes.Add(float64(r.nBytes))
	}

	m.tree.UpdateStatsAndUsages(true, m.unlinkDir)
}

// runPurgeCheck refreshes disk usage via StatVS and, if that worked,
// drives the purge subsystem. A StatVS failure here means the filesystem
// went away under us after succeeding at startup — the spec treats that as
// indicative of memory corruption and exits hard rather than limping on.
func (m *Monitor) runPurgeCheck() {
	st, err := iohelper.StatVS(m.cfg.Cache.DataDir)
	if err != nil {
		// StatVS worked at startup; failure here means the filesystem went
		// away or memory was corrupted. logrus.Fatal exits the process.
		logging.L.WithError(err).Fatal("pfc: StatVS failed after succeeding at startup")
	}
	data.DiskUsageBytes.Set(float64(st.UsedBytes))

	root := m.tree.Root()
	fileUsage := root.Here.UsedBytes + root.Recursive.UsedBytes
	data.FileUsageBytes.Set(float64(fileUsage))

	delta := int64(0)
	if m.writesSinceLastCall != nil {
		delta = m.writesSinceLastCall()
	}

	if err := m.purge.Run(st.UsedBytes, st.TotalBytes, fileUsage, delta); err != nil {
		logging.L.WithError(err).Warn("pfc: purge run failed")
	}

	m.purgeCycle++
	if m.cfg.Purge.ColdFilesEnable && m.cfg.Purge.ColdFilesPeriod > 0 &&
		m.purgeCycle%m.cfg.Purge.ColdFilesPeriod == 0 {
		if err := m.purge.RunColdFiles(m.cfg.Purge.ColdFilesAge); err != nil {
			logging.L.WithError(err).Warn("pfc: cold-file purge failed")
		}
	}
}

// snapshot writes the depth-limited DirState projection to
// <statsDir>/DirStat.json.
func (m *Monitor) snapshot() error {
	if err := iohelper.EnsureDir(m.statsDir); err != nil {
		return err
	}
	snap := m.tree.Export(m.cfg.DirStats.Depth)
	buf, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal dirstate snapshot")
	}
	tmp := filepath.Join(m.statsDir, "DirStat.json.tmp")
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return errors.Wrap(err, "write dirstate snapshot")
	}
	return os.Rename(tmp, filepath.Join(m.statsDir, "DirStat.json"))
}
