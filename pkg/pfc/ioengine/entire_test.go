/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package ioengine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
)

type fakeRemote struct{ data []byte }

func (r *fakeRemote) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, r.data[off:]), nil
}

func openTestFile(t *testing.T, size int64, remoteData []byte) (*file.File, func()) {
	t.Helper()
	dir := t.TempDir()
	data, err := os.OpenFile(filepath.Join(dir, "data"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	cinfoFile, err := os.OpenFile(filepath.Join(dir, "data.cinfo"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)

	opts := file.Options{
		LFN: "test.dat", FileSize: size, BlockSize: 4096,
		ChecksumPolicy: config.ChecksumNone, FlushThreshold: 1, WriteThreads: 2,
	}
	f, err := file.Open(data, cinfoFile, &fakeRemote{data: remoteData}, nil, opts)
	require.NoError(t, err)
	return f, func() { data.Close(); cinfoFile.Close() }
}

func TestEntireFileReadDelegatesToFile(t *testing.T) {
	remote := bytes.Repeat([]byte{0x77}, 4096)
	f, cleanup := openTestFile(t, 4096, remote)
	defer cleanup()

	io := NewEntireFile("test.dat", f, "loc1", func() bool { return true })
	require.NoError(t, f.AddIO(io))

	buf := make([]byte, 100)
	n, err := io.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 100, n)
	require.Equal(t, remote[:100], buf)
}

func TestEntireFileFSizeMatchesFile(t *testing.T) {
	f, cleanup := openTestFile(t, 12345, make([]byte, 12345))
	defer cleanup()
	io := NewEntireFile("test.dat", f, "loc1", nil)

	sz, err := io.FSize()
	require.NoError(t, err)
	require.Equal(t, int64(12345), sz)
}

func TestEntireFileFstatReturnsRealStat(t *testing.T) {
	f, cleanup := openTestFile(t, 4096, make([]byte, 4096))
	defer cleanup()
	io := NewEntireFile("test.dat", f, "loc1", nil)

	st, err := io.Fstat()
	require.NoError(t, err)
	require.NotNil(t, st)
	require.Equal(t, "data", st.Name())
}

func TestEntireFileUpdateTogglesAllowPrefetching(t *testing.T) {
	f, cleanup := openTestFile(t, 4096, make([]byte, 4096))
	defer cleanup()
	io := NewEntireFile("test.dat", f, "loc1", nil)

	require.True(t, io.AllowPrefetching())
	io.Update(false)
	require.False(t, io.AllowPrefetching())
}

func TestEntireFileLocationAndHealth(t *testing.T) {
	f, cleanup := openTestFile(t, 4096, make([]byte, 4096))
	defer cleanup()

	healthy := true
	io := NewEntireFile("test.dat", f, "loc1", func() bool { return healthy })
	require.Equal(t, "loc1", io.Location())
	require.True(t, io.IsHealthy())
	healthy = false
	require.False(t, io.IsHealthy())
}

func TestEntireFileDetachWithoutPendingPrefetchCompletesImmediately(t *testing.T) {
	f, cleanup := openTestFile(t, 4096, make([]byte, 4096))
	defer cleanup()
	io := NewEntireFile("test.dat", f, "loc1", nil)
	require.NoError(t, f.AddIO(io))

	done := io.Detach(nil)
	require.True(t, done)
}
