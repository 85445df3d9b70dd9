/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package cache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/errdefs"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
)

type fakeRemote struct{ size int64 }

func (r *fakeRemote) ReadAt(p []byte, off int64) (int, error) { return len(p), nil }
func (r *fakeRemote) Size() int64                             { return r.size }

type fakeIO struct{ allow bool }

func (f *fakeIO) Location() string       { return "t" }
func (f *fakeIO) IsHealthy() bool        { return true }
func (f *fakeIO) AllowPrefetching() bool { return f.allow }

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := &config.Config{}
	cfg.Cache.DataDir = t.TempDir()
	cfg.Cache.MetaDir = t.TempDir()
	cfg.Cache.BlockSize = 4096
	cfg.Checksum.Policy = config.ChecksumNone
	cfg.Write.FlushThreshold = 1
	cfg.Write.Threads = 2
	cfg.Prefetch.Enable = false

	opener := func(lfn string) (file.RemoteReader, error) {
		return &fakeRemote{size: 8192}, nil
	}
	return New(cfg, opener, nil)
}

func TestGetFileOpensOnFirstCallAndJoinsOnSecond(t *testing.T) {
	c := newTestCache(t)

	io1 := &fakeIO{}
	f1, err := c.GetFile("a/b.dat", io1)
	require.NoError(t, err)
	require.NotNil(t, f1)

	io2 := &fakeIO{}
	f2, err := c.GetFile("a/b.dat", io2)
	require.NoError(t, err)
	require.Same(t, f1, f2)
}

func TestReleaseFileTearsDownOnLastReference(t *testing.T) {
	c := newTestCache(t)

	io1 := &fakeIO{}
	f1, err := c.GetFile("a/b.dat", io1)
	require.NoError(t, err)

	c.ReleaseFile(f1, io1, file.StatsDelta{})

	require.False(t, c.IsFileActiveOrPurgeProtected("a/b.dat"))

	io2 := &fakeIO{}
	f2, err := c.GetFile("a/b.dat", io2)
	require.NoError(t, err)
	require.NotSame(t, f1, f2)
}

func TestUnlinkRemovesDataAndCinfo(t *testing.T) {
	c := newTestCache(t)

	io1 := &fakeIO{}
	f1, err := c.GetFile("a/b.dat", io1)
	require.NoError(t, err)
	c.ReleaseFile(f1, io1, file.StatsDelta{})

	require.NoError(t, c.Unlink("a/b.dat"))

	_, err = os.Stat(c.dataPath("a/b.dat"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(c.cinfoPath("a/b.dat"))
	require.True(t, os.IsNotExist(err))

	_, err = c.QueryFileStatus("a/b.dat")
	require.ErrorIs(t, err, errdefs.ErrNotInCache)
}

func TestPinProtectsFileFromPurgeEligibility(t *testing.T) {
	c := newTestCache(t)
	c.Pin("a/b.dat")
	require.True(t, c.IsFileActiveOrPurgeProtected("a/b.dat"))
	c.Unpin("a/b.dat")
	require.False(t, c.IsFileActiveOrPurgeProtected("a/b.dat"))
}

func TestQueryFileStatusReportsOpenFile(t *testing.T) {
	c := newTestCache(t)
	io1 := &fakeIO{}
	_, err := c.GetFile("a/b.dat", io1)
	require.NoError(t, err)

	st, err := c.QueryFileStatus("a/b.dat")
	require.NoError(t, err)
	require.True(t, st.Cached)
	require.Equal(t, "a/b.dat", st.LFN)
}

func TestWritesSinceLastCallResets(t *testing.T) {
	c := newTestCache(t)
	c.AddWrittenBytes(100)
	c.AddWrittenBytes(50)
	require.Equal(t, int64(150), c.WritesSinceLastCall())
	require.Equal(t, int64(0), c.WritesSinceLastCall())
}

func TestSetScanCheckerRunsOnlyForNewEntries(t *testing.T) {
	c := newTestCache(t)

	var checked []string
	c.SetScanChecker(func(lfn string) { checked = append(checked, lfn) })

	io1 := &fakeIO{}
	f1, err := c.GetFile("a/b.dat", io1)
	require.NoError(t, err)
	require.Equal(t, []string{"a/b.dat"}, checked)

	// Joining an already-open entry must not re-run the scan cross-check.
	io2 := &fakeIO{}
	_, err = c.GetFile("a/b.dat", io2)
	require.NoError(t, err)
	require.Equal(t, []string{"a/b.dat"}, checked)

	c.ReleaseFile(f1, io1, file.StatsDelta{})
	c.ReleaseFile(f1, io2, file.StatsDelta{})
}

func TestRegisterAndDeregisterPrefetchFile(t *testing.T) {
	c := newTestCache(t)
	io1 := &fakeIO{}
	f1, err := c.GetFile("a/b.dat", io1)
	require.NoError(t, err)

	c.RegisterPrefetchFile(f1)
	require.Len(t, c.PrefetchCandidates(), 1)
	c.DeRegisterPrefetchFile(f1)
	require.Empty(t, c.PrefetchCandidates())
}
