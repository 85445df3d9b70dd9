/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package resourcemonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/dirstate"
)

type stubPurger struct {
	ran      bool
	coldRan  bool
	lastArgs [4]int64
}

func (s *stubPurger) Run(diskUsed, diskTotal, fileUsage, writesSinceLastCheck int64) error {
	s.ran = true
	s.lastArgs = [4]int64{diskUsed, diskTotal, fileUsage, writesSinceLastCheck}
	return nil
}

func (s *stubPurger) RunColdFiles(age time.Duration) error {
	s.coldRan = true
	return nil
}

func newTestMonitor(t *testing.T, purger Purger) *Monitor {
	t.Helper()
	cfg := &config.Config{}
	cfg.Cache.DataDir = t.TempDir()
	cfg.Cache.StatsDirName = "stats"
	cfg.DirStats.Depth = 0
	tree := dirstate.NewTree()
	queues := NewQueues()
	return New(cfg, queues, tree, purger, func() int64 { return 0 }, func(string) error { return nil })
}

func TestDrainAndReplayAppliesInOpenStatCloseOrder(t *testing.T) {
	m := newTestMonitor(t, &stubPurger{})

	at := time.Unix(1000, 0)
	m.queues.opens.push(openRecord{tokenID: "t1", path: "/a/b", at: at})
	m.queues.stats.push(statRecord{tokenID: "t1", path: "/a/b", delta: dirstate.Stats{BytesWritten: 100, FilesCreated: 1}})
	m.queues.closes.push(closeRecord{tokenID: "t1", path: "/a/b", at: at.Add(time.Second)})
	m.queues.purges.push(purgeRecord{path: "/a/b", nFiles: 1, nBytes: 50})

	m.drainAndReplay()

	n, ok := m.tree.FindPath("/a/b/x.dat", 0, true, false)
	require.True(t, ok)
	require.Equal(t, int64(1), n.Here.NFilesOpened)
	require.Equal(t, int64(1), n.Here.NFilesClosed)
	require.Equal(t, int64(1), n.Here.NFilesCreated)
	require.Equal(t, int64(1), n.Here.NFilesRemoved)
	// one file created, one removed by the purge record in the same tick
	require.Equal(t, int64(0), n.Here.NFiles)
	require.Equal(t, int64(50), n.Here.UsedBytes)
}

func TestDrainAndReplayIgnoresUnresolvedPaths(t *testing.T) {
	m := newTestMonitor(t, &stubPurger{})

	m.queues.opens.push(openRecord{tokenID: "orphan", path: "", at: time.Now()})
	require.NotPanics(t, func() { m.drainAndReplay() })
}

func TestRunPurgeCheckDrivesRunWithCurrentUsages(t *testing.T) {
	p := &stubPurger{}
	m := newTestMonitor(t, p)
	m.runPurgeCheck()
	require.True(t, p.ran)
}

func TestRunPurgeCheckSkipsColdFilesUntilPeriodElapses(t *testing.T) {
	p := &stubPurger{}
	m := newTestMonitor(t, p)
	m.cfg.Purge.ColdFilesEnable = true
	m.cfg.Purge.ColdFilesPeriod = 3

	m.runPurgeCheck()
	require.False(t, p.coldRan)
	m.runPurgeCheck()
	require.False(t, p.coldRan)
	m.runPurgeCheck()
	require.True(t, p.coldRan)
}
