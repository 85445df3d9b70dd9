/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package file

import (
	"time"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/block"
)

// prefetchTick is how often the loop re-evaluates its state and, if still
// On, requests the next unfetched block.
const prefetchTick = 20 * time.Millisecond

// prefetchLoop runs for the lifetime of an On prefetch state, issuing one
// speculative block fetch per tick while budget and state permit. It exits
// once the state leaves On for any reason (Hold, Stopped, Complete).
func (f *File) prefetchLoop() {
	for {
		time.Sleep(prefetchTick)

		f.mu.Lock()
		if f.prefetchState != PrefetchOn || f.shutdown {
			f.mu.Unlock()
			return
		}
		if f.countActivePrefetchesLocked() >= f.prefetchMax() {
			f.mu.Unlock()
			continue
		}
		idx := f.nextUnfetchedBlockLocked()
		if idx < 0 {
			f.prefetchState = PrefetchComplete
			f.mu.Unlock()
			return
		}

		blkSize := f.opts.BlockSize
		blkOff := idx * blkSize
		blkEnd := blkOff + blkSize
		if blkEnd > f.opts.FileSize {
			blkEnd = f.opts.FileSize
		}
		blk := block.New(idx, blkOff, blkEnd-blkOff, blkEnd-blkOff, true)
		blk.ChecksumWanted = f.wantsBlockChecksum()
		blk.IncRef()
		f.blocks[idx] = blk
		f.prefetchScore++

		io := f.currentIO
		if att, ok := f.ios[io]; ok {
			att.activePrefetches++
		}
		f.mu.Unlock()

		f.issueFetch(blk)

		f.mu.Lock()
		if att, ok := f.ios[io]; ok {
			att.activePrefetches--
		}
		if blk.DecRef() == 0 && blk.IsFinished() {
			delete(f.blocks, blk.Idx)
		}
		f.cond.Broadcast()
		f.mu.Unlock()
	}
}

func (f *File) countActivePrefetchesLocked() int {
	n := 0
	for _, att := range f.ios {
		n += att.activePrefetches
	}
	return n
}

func (f *File) prefetchMax() int {
	if f.opts.PrefetchMax <= 0 {
		return 10
	}
	return f.opts.PrefetchMax
}

// nextUnfetchedBlockLocked returns the lowest block index that is neither
// on disk nor currently in flight, or -1 if none remain.
func (f *File) nextUnfetchedBlockLocked() int64 {
	n := (f.opts.FileSize + f.opts.BlockSize - 1) / f.opts.BlockSize
	for i := int64(0); i < n; i++ {
		if f.info.TestBitWritten(i) {
			continue
		}
		if _, inFlight := f.blocks[i]; inFlight {
			continue
		}
		return i
	}
	return -1
}

// PrefetchScore returns the running count of speculative fetches issued by
// this File, exposed so callers can compare Files' prefetch activity.
func (f *File) PrefetchScore() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefetchScore
}
