/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package purge

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/cinfo"
)

type alwaysInactive struct{}

func (alwaysInactive) IsFileActiveOrPurgeProtected(string) bool { return false }

type activeSet map[string]bool

func (a activeSet) IsFileActiveOrPurgeProtected(lfn string) bool { return a[lfn] }

func writeCachedFile(t *testing.T, root, lfn string, size int64, accessedAt time.Time) {
	t.Helper()
	full := filepath.Join(root, lfn)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, make([]byte, size), 0o644))

	in := cinfo.Create(size, size, config.ChecksumNone)
	in.WriteIOStatAttach(accessedAt)
	in.WriteIOStatDetach(accessedAt, cinfo.AccessStats{})

	var buf bytes.Buffer
	require.NoError(t, cinfo.Write(&buf, in))
	require.NoError(t, os.WriteFile(full+".cinfo", buf.Bytes(), 0o644))
}

func TestScanCandidatesOrdersByLastAccess(t *testing.T) {
	root := t.TempDir()
	writeCachedFile(t, root, "a/newer.dat", 100, time.Unix(2000, 0))
	writeCachedFile(t, root, "b/older.dat", 200, time.Unix(1000, 0))

	cands, err := scanCandidates(root, nil, alwaysInactive{})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	require.Equal(t, "b/older.dat", cands[0].LFN)
	require.Equal(t, "a/newer.dat", cands[1].LFN)
}

func TestScanCandidatesSkipsActiveAndProtected(t *testing.T) {
	root := t.TempDir()
	writeCachedFile(t, root, "busy.dat", 100, time.Unix(1000, 0))
	writeCachedFile(t, root, "free.dat", 100, time.Unix(2000, 0))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stats"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stats", "DirStat.json"), []byte("{}"), 0o644))

	cands, err := scanCandidates(root, []string{"stats"}, activeSet{"busy.dat": true})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "free.dat", cands[0].LFN)
}

type fakeDeleter struct{ deleted []string }

func (f *fakeDeleter) Unlink(lfn string) error {
	f.deleted = append(f.deleted, lfn)
	return nil
}

func TestReclaimSpaceTriggerStopsOnceWantReached(t *testing.T) {
	root := t.TempDir()
	writeCachedFile(t, root, "a.dat", 100, time.Unix(1000, 0))
	writeCachedFile(t, root, "b.dat", 100, time.Unix(2000, 0))
	writeCachedFile(t, root, "c.dat", 100, time.Unix(3000, 0))

	del := &fakeDeleter{}
	var emitted []string
	p := New(config.PurgeConfig{}, root, nil, alwaysInactive{}, del,
		func(path string, nFiles, nBytes int64) { emitted = append(emitted, path) })

	require.NoError(t, p.reclaim(150, false, 0))
	require.Equal(t, []string{"a.dat", "b.dat"}, del.deleted)
	require.Len(t, emitted, 2)
}

func TestReclaimAgeTriggerDeletesEverythingOlderThanCutoff(t *testing.T) {
	root := t.TempDir()
	writeCachedFile(t, root, "old.dat", 100, time.Now().Add(-2*time.Hour))
	writeCachedFile(t, root, "fresh.dat", 100, time.Now())

	del := &fakeDeleter{}
	p := New(config.PurgeConfig{}, root, nil, alwaysInactive{}, del, nil)

	require.NoError(t, p.reclaim(0, true, time.Hour))
	require.Equal(t, []string{"old.dat"}, del.deleted)
}

// activeAfterScan reports every file inactive on its first check (the
// candidate scan) and active afterwards, as if it were opened in between.
type activeAfterScan struct{ calls int }

func (a *activeAfterScan) IsFileActiveOrPurgeProtected(string) bool {
	a.calls++
	return a.calls > 1
}

func TestReclaimFinalRecheckSkipsNewlyActiveFile(t *testing.T) {
	root := t.TempDir()
	writeCachedFile(t, root, "a.dat", 100, time.Unix(1000, 0))

	del := &fakeDeleter{}
	p := New(config.PurgeConfig{}, root, nil, &activeAfterScan{}, del, nil)

	require.NoError(t, p.reclaim(100, false, 0))
	require.Empty(t, del.deleted)
}
