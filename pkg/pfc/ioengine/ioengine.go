/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package ioengine implements the two IO adapters that expose a cached LFN
// as a read-only object to a client: EntireFile (one File per LFN) and
// BlockFile (hdfsbsize mode, fanning a single logical LFN across several
// per-chunk Files).
package ioengine

import (
	"os"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
)

// IO is the public contract every adapter implements.
type IO interface {
	Read(buff []byte, offs int64) (int, error)
	ReadV(ranges []file.ReadVRange) (int, error)
	PgRead(buff []byte, offs int64) (int, []uint32, error)
	Fstat() (os.FileInfo, error)
	FSize() (int64, error)
	Detach(cd DetachCallback) bool
	Update(allowPrefetching bool)
}

// DetachCallback is what an adapter invokes once deferred cleanup is safe,
// for the case where Detach itself must return false immediately.
type DetachCallback interface {
	DetachDone()
}

// Location and IsHealthy satisfy file.AttachedIO / block.IO so a Block can
// carry a stable back-reference to whichever adapter last attempted it.
type endpoint struct {
	location string
	healthy  func() bool
}

func (e *endpoint) Location() string { return e.location }
func (e *endpoint) IsHealthy() bool {
	if e.healthy == nil {
		return true
	}
	return e.healthy()
}
