/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package file

import (
	"syscall"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/block"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/iohelper"
)

// enqueueWrite hands a successfully-fetched block to the bounded write-task
// pool. The write task holds its own pointer to the block but takes no
// reference on it, so the block can leave the File's block map before the
// write lands; a read of that range in the meantime fetches it again.
func (f *File) enqueueWrite(blk *block.Block) {
	if err := f.writeSem.Acquire(f.writeCtx, 1); err != nil {
		// Context cancelled: the File is closing down, drop the task.
		return
	}
	f.writeGroup.Go(func() error {
		defer f.writeSem.Release(1)
		f.writeOne(blk)
		return nil
	})
}

// writeOne performs the positional write, updates the bitmap, and triggers
// a cinfo sync once the non-flushed counter crosses the configured
// threshold. On a failed or short write it puts the whole File into
// emergency shutdown rather than leaving the bitmap in an inconsistent
// state. The page CRCs it records are computed from the block's own buffer;
// no comparison against an expected checksum is made here.
func (f *File) writeOne(blk *block.Block) {
	n, err := iohelper.Pwrite(f.data, blk.Buf, blk.Offset)

	f.mu.Lock()
	if err != nil || n < len(blk.Buf) {
		f.mu.Unlock()
		f.EmergencyShutdown(syscall.ENOSPC)
		return
	}

	f.sinceSample.BytesWritten += int64(n)

	if f.shutdown {
		f.mu.Unlock()
		return
	}

	f.info.SetBitWritten(blk.Idx)
	if blk.ChecksumWanted {
		for i, crc := range blk.CRCVec() {
			page := cksumPageIndex(blk.Offset, i)
			f.info.SetPageChecksum(page, crc)
		}
	}

	f.nonFlushed++
	shouldFlush := f.nonFlushed >= f.flushThreshold()
	var syncErr error
	if shouldFlush {
		syncErr = f.syncCinfoLocked()
	}
	if f.info.IsComplete() && f.prefetchState != PrefetchComplete {
		f.prefetchState = PrefetchComplete
	}
	f.mu.Unlock()

	if syncErr != nil {
		f.EmergencyShutdown(syncErr)
	}
}

func (f *File) flushThreshold() int {
	if f.opts.FlushThreshold <= 0 {
		return 100
	}
	return f.opts.FlushThreshold
}

// cksumPageIndex maps the i'th CRC entry of a block starting at blockOff
// back to its absolute page index.
func cksumPageIndex(blockOff int64, i int) int64 {
	const pageSize = 4096
	return blockOff/pageSize + int64(i)
}
