/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package ioengine

import (
	"os"
	"sync/atomic"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
)

// EntireFile is the straightforward IO adapter: one File object backs the
// whole remote LFN.
type EntireFile struct {
	endpoint
	lfn string
	f   *file.File

	allowPrefetch int32 // atomic bool
}

// NewEntireFile wraps f, already opened by the Cache, as a client-facing IO.
func NewEntireFile(lfn string, f *file.File, location string, healthy func() bool) *EntireFile {
	io := &EntireFile{lfn: lfn, f: f}
	io.location = location
	io.healthy = healthy
	atomic.StoreInt32(&io.allowPrefetch, 1)
	return io
}

// AllowPrefetching implements file.AttachedIO.
func (e *EntireFile) AllowPrefetching() bool {
	return atomic.LoadInt32(&e.allowPrefetch) != 0
}

// Update flips the per-IO prefetch-allowed flag, used by File.ReleaseIO's
// quiesce check (On -> Hold when every attached IO disallows it).
func (e *EntireFile) Update(allowPrefetching bool) {
	v := int32(0)
	if allowPrefetching {
		v = 1
	}
	atomic.StoreInt32(&e.allowPrefetch, v)
}

func (e *EntireFile) Read(buff []byte, offs int64) (int, error) {
	return e.f.Read(buff, offs)
}

func (e *EntireFile) ReadV(ranges []file.ReadVRange) (int, error) {
	return e.f.ReadV(ranges)
}

func (e *EntireFile) PgRead(buff []byte, offs int64) (int, []uint32, error) {
	return e.f.PgRead(buff, offs)
}

// Fstat returns the underlying data file's real stat info, the local cache
// copy rather than the remote.
func (e *EntireFile) Fstat() (os.FileInfo, error) {
	return e.f.Stat()
}

func (e *EntireFile) FSize() (int64, error) {
	return e.f.Size(), nil
}

// Detach releases this adapter's IO slot on its File. If unfinished
// prefetches still reference it, cleanup is deferred and the callback
// fires once the File confirms it is safe.
func (e *EntireFile) Detach(cd DetachCallback) bool {
	active := e.f.ReleaseIO(e, file.StatsDelta{})
	if !active {
		return true
	}
	go func() {
		e.f.WaitIOQuiesced(e)
		if cd != nil {
			cd.DetachDone()
		}
	}()
	return false
}
