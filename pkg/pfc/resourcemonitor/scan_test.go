/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package resourcemonitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/fstraversal"
)

func TestCrossCheckIfScanIsInProgressReturnsImmediatelyWhenIdle(t *testing.T) {
	m := newTestMonitor(t, &stubPurger{})

	done := make(chan struct{})
	go func() {
		m.CrossCheckIfScanIsInProgress("a/b.root")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CrossCheckIfScanIsInProgress blocked with no scan running")
	}
}

// TestCrossCheckIfScanIsInProgressBlocksUntilDrain exercises Scenario 6: a
// concurrent open arrives for an lfn whose directory the initial scan has
// not yet reached. The opener must block until the scanner's deferred-check
// drain marks it resolved, not return (or race the tree) early.
func TestCrossCheckIfScanIsInProgressBlocksUntilDrain(t *testing.T) {
	m := newTestMonitor(t, &stubPurger{})

	m.scanMu.Lock()
	m.scanning = true
	m.scanMu.Unlock()

	unblocked := make(chan struct{})
	go func() {
		m.CrossCheckIfScanIsInProgress("late/dir/f.root")
		close(unblocked)
	}()

	// Give the goroutine a chance to actually park in scanCond.Wait.
	require.Eventually(t, func() bool {
		m.scanMu.Lock()
		defer m.scanMu.Unlock()
		return len(m.deferredOpen) == 1
	}, time.Second, time.Millisecond)

	select {
	case <-unblocked:
		t.Fatal("CrossCheckIfScanIsInProgress returned before the scan drained its directory")
	case <-time.After(20 * time.Millisecond):
	}

	m.scanMu.Lock()
	m.drainDeferredLocked("/late/dir")
	m.scanMu.Unlock()

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("CrossCheckIfScanIsInProgress never woke after its directory was drained")
	}
}

// TestInitialScanWakesConcurrentOpener runs a real InitialScan over a small
// on-disk tree while a concurrent opener is blocked waiting for a directory
// the scan hasn't reached yet, and checks that the opener has been woken and
// the wait list emptied by the time the scan returns.
func TestInitialScanWakesConcurrentOpener(t *testing.T) {
	m := newTestMonitor(t, &stubPurger{})
	root := m.cfg.Cache.DataDir

	require.NoError(t, os.MkdirAll(filepath.Join(root, "x"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "x", "a.root.cinfo"), []byte("c"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "x", "a.root"), []byte("d"), 0644))

	m.scanMu.Lock()
	m.scanning = true
	m.scanMu.Unlock()

	unblocked := make(chan struct{})
	go func() {
		m.CrossCheckIfScanIsInProgress("x/a.root")
		close(unblocked)
	}()

	require.Eventually(t, func() bool {
		m.scanMu.Lock()
		defer m.scanMu.Unlock()
		return len(m.deferredOpen) == 1
	}, time.Second, time.Millisecond)

	tr := fstraversal.New(root, []string{m.cfg.Cache.StatsDirName})
	require.NoError(t, m.InitialScan(tr))

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("concurrent opener was never woken by the real scan")
	}

	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	require.False(t, m.scanning)
	require.Empty(t, m.deferredOpen)
}
