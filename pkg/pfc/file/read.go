/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package file

import (
	"syscall"

	"github.com/pkg/errors"

	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/errdefs"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/block"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/cksum"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/iohelper"
)

// planEntry is one block's worth of work for a single Read call.
type planEntry struct {
	blk       *block.Block
	bufStart  int
	bufEnd    int
	off       int64 // overlap start, absolute file offset
	n         int   // overlap length
	createdMe bool  // this call created the block and owns the fault
}

// Read copies the bytes in [offs, offs+len(buff)), clipped at the end of
// the file, into buff, serving each covered block from RAM, from disk, or by issuing a remote
// fetch, per the cache's per-block read algorithm. It blocks internally
// until every needed block has finished.
func (f *File) Read(buff []byte, offs int64) (int, error) {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return 0, errdefs.ErrShutdown
	}

	size := f.opts.FileSize
	if offs < 0 || offs > size {
		f.mu.Unlock()
		return 0, syscall.EINVAL
	}
	length := len(buff)
	if offs+int64(length) > size {
		length = int(size - offs)
		buff = buff[:length]
	}
	if length == 0 {
		f.mu.Unlock()
		return 0, nil
	}

	bs := f.opts.BlockSize
	firstBlk := offs / bs
	lastBlk := (offs + int64(length) - 1) / bs

	var plan []planEntry
	var toRequest []*block.Block
	var hitBytes, missBytes int64

	for idx := firstBlk; idx <= lastBlk; idx++ {
		blkStart := idx * bs
		blkEnd := blkStart + bs
		if blkEnd > size {
			blkEnd = size
		}

		ovStart := offs
		if blkStart > ovStart {
			ovStart = blkStart
		}
		ovEnd := offs + int64(length)
		if blkEnd < ovEnd {
			ovEnd = blkEnd
		}
		bufStart := int(ovStart - offs)
		bufEnd := int(ovEnd - offs)

		if existing, ok := f.blocks[idx]; ok {
			existing.IncRef()
			plan = append(plan, planEntry{
				blk: existing, bufStart: bufStart, bufEnd: bufEnd,
				off: ovStart, n: bufEnd - bufStart,
			})
			continue
		}

		if f.info.TestBitWritten(idx) {
			// Disk hit: no block object needed, read happens after we
			// release the lock.
			plan = append(plan, planEntry{
				blk: nil, bufStart: bufStart, bufEnd: bufEnd,
				off: ovStart, n: bufEnd - bufStart,
			})
			hitBytes += int64(bufEnd - bufStart)
			continue
		}

		// Miss: create the block, place it on the to-request list.
		reqSize := blkEnd - blkStart
		blk := block.New(idx, blkStart, blkEnd-blkStart, reqSize, false)
		blk.ChecksumWanted = f.wantsBlockChecksum()
		blk.IncRef()
		f.blocks[idx] = blk
		toRequest = append(toRequest, blk)
		plan = append(plan, planEntry{
			blk: blk, bufStart: bufStart, bufEnd: bufEnd,
			off: ovStart, n: bufEnd - bufStart, createdMe: true,
		})
		missBytes += int64(bufEnd - bufStart)
	}
	f.mu.Unlock()

	for _, blk := range toRequest {
		f.issueFetch(blk)
	}

	var firstErr error
	for _, e := range plan {
		if e.blk == nil {
			n, err := iohelper.Pread(f.data, buff[e.bufStart:e.bufEnd], e.off)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			_ = n
			continue
		}

		f.waitFinished(e.blk)
		if e.blk.IsFailed() {
			if firstErr == nil {
				firstErr = syscall.Errno(-e.blk.ErrCode())
			}
		} else if e.blk.Buf != nil {
			relStart := e.off - e.blk.Offset
			copy(buff[e.bufStart:e.bufEnd], e.blk.Buf[relStart:relStart+int64(e.n)])
		}
		if e.blk.DecRef() == 0 && e.blk.IsFinished() {
			f.reapBlock(e.blk)
		}
	}

	f.mu.Lock()
	f.sinceSample.BytesHit += hitBytes
	f.sinceSample.BytesMissed += missBytes
	f.mu.Unlock()

	if firstErr != nil {
		return 0, firstErr
	}
	return length, nil
}

// ReadVRange is one leg of a ReadV call: a (offset, length) pair resolved
// against the same file.
type ReadVRange struct {
	Offset int64
	Buffer []byte
}

// ReadV serves several ranges in order, planning and reading each one with
// its own Read call. It stops at the first error and returns the byte count
// read up to that point.
func (f *File) ReadV(ranges []ReadVRange) (int, error) {
	total := 0
	for _, r := range ranges {
		n, err := f.Read(r.Buffer, r.Offset)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// waitFinished blocks the calling goroutine until blk has completed,
// successfully or not.
func (f *File) waitFinished(blk *block.Block) {
	f.mu.Lock()
	for !blk.IsFinished() && !f.shutdown {
		f.cond.Wait()
	}
	if f.shutdown && !blk.IsFinished() {
		blk.SetError(int32(-syscall.ENOENT))
	}
	f.mu.Unlock()
}

// reapBlock removes a finished, unreferenced block from the map. The
// caller must not hold f.mu.
func (f *File) reapBlock(blk *block.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.blocks[blk.Idx]; ok && cur == blk && blk.RefCount() <= 0 {
		delete(f.blocks, blk.Idx)
	}
}

// issueFetch fills blk from the remote source and, on success, enqueues it
// for the write-task pool; on failure it records the error and may retry
// against a different attached, healthy IO.
func (f *File) issueFetch(blk *block.Block) {
	buf := make([]byte, blk.RequestSize)
	n, err := f.remote.ReadAt(buf, blk.Offset)
	if err != nil && n < int(blk.RequestSize) {
		if retryIO := f.pickHealthyIO(blk.LastIO()); retryIO != nil {
			blk.ResetErrorAndSetIO(retryIO)
			n, err = f.remote.ReadAt(buf, blk.Offset)
		}
	}

	f.mu.Lock()
	if err != nil && n < int(blk.RequestSize) {
		blk.SetError(int32(-mapErrno(err)))
		f.cond.Broadcast()
		f.mu.Unlock()
		return
	}
	blk.SetDownloaded(buf[:n])
	if blk.ChecksumWanted {
		blk.SetCRCVec(cksum.Calc(buf[:n], blk.Offset))
	}
	f.cond.Broadcast()
	f.mu.Unlock()

	f.enqueueWrite(blk)
}

// pickHealthyIO returns some attached, healthy IO other than failed, for
// a retry; nil if none qualifies.
func (f *File) pickHealthyIO(failed block.IO) block.IO {
	f.mu.Lock()
	defer f.mu.Unlock()
	for io := range f.ios {
		if block.IO(io) == failed {
			continue
		}
		if io.IsHealthy() {
			return io
		}
	}
	return nil
}

// wantsBlockChecksum reports whether a freshly fetched block should carry a
// per-page CRC32C vector into cinfo, per the checksum policy's cache side
// (ChecksumCache/ChecksumBoth; ChecksumNet only covers transfer verification,
// which is out of scope here since wire framing is not this package's job).
func (f *File) wantsBlockChecksum() bool {
	switch f.opts.ChecksumPolicy {
	case config.ChecksumCache, config.ChecksumBoth:
		return true
	default:
		return false
	}
}

func mapErrno(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
