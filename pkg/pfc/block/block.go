/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package block defines the in-memory unit of transfer a File fills on a
// read fault or by prefetch: one fixed-size buffer, its completion state,
// and the back-reference to whichever IO last attempted to fill it.
package block

import "sync/atomic"

// IO is the minimal surface a Block needs from its attached client: enough
// to rebind a failed fetch to a different, still-healthy IO without the
// block package depending on the file/ioengine packages (which depend on
// block in turn).
type IO interface {
	Location() string
	IsHealthy() bool
}

// Block is a single-writer, multiple-reader object: the writer is whichever
// goroutine issued the fetch (fault path or prefetcher); readers wait for
// IsFinished under their File's state lock, which also guards every field
// here. The refcount is not ownership, just a reader count gating reuse.
type Block struct {
	Idx         int64
	Offset      int64 // byte offset of this block within the file
	Size        int64 // block's nominal size (last block may be short)
	RequestSize int64 // bytes actually requested for this fetch

	Buf []byte

	Prefetch       bool
	ChecksumWanted bool

	refCount int32
	errCode  int32 // negative errno; 0 = ok
	downloaded bool

	crcVec        []uint32
	cksumErrCount int32

	lastIO IO
}

// New allocates a Block covering [offset, offset+size) at index idx.
func New(idx, offset, size, requestSize int64, prefetch bool) *Block {
	return &Block{
		Idx:         idx,
		Offset:      offset,
		Size:        size,
		RequestSize: requestSize,
		Prefetch:    prefetch,
	}
}

// IsOK reports whether the fetch completed successfully.
func (b *Block) IsOK() bool { return b.downloaded && b.errCode == 0 }

// IsFailed reports whether the fetch completed with an error.
func (b *Block) IsFailed() bool { return b.errCode != 0 }

// IsFinished reports whether the fetch has completed, successfully or not.
func (b *Block) IsFinished() bool { return b.downloaded || b.errCode != 0 }

// SetDownloaded marks the block as successfully filled with buf.
func (b *Block) SetDownloaded(buf []byte) {
	b.Buf = buf
	b.downloaded = true
	b.errCode = 0
}

// SetError records a failed fetch. errno is a negative POSIX-style code.
func (b *Block) SetError(errno int32) {
	b.errCode = errno
}

// ErrCode returns the recorded error code, or 0 if none.
func (b *Block) ErrCode() int32 { return b.errCode }

// ResetErrorAndSetIO clears a prior failure and rebinds this block to a
// different (presumably healthier) IO for a retry.
func (b *Block) ResetErrorAndSetIO(io IO) {
	b.errCode = 0
	b.downloaded = false
	b.lastIO = io
}

// LastIO returns whichever IO last attempted to fill this block.
func (b *Block) LastIO() IO { return b.lastIO }

// IncRef/DecRef track the number of readers currently depending on this
// block's buffer; the File reaps the block once the count returns to zero
// after the block has finished.
func (b *Block) IncRef() int32 { return atomic.AddInt32(&b.refCount, 1) }
func (b *Block) DecRef() int32 { return atomic.AddInt32(&b.refCount, -1) }
func (b *Block) RefCount() int32 { return atomic.LoadInt32(&b.refCount) }

// SetCRCVec stores the per-page CRC32C vector computed over Buf.
func (b *Block) SetCRCVec(vec []uint32) { b.crcVec = vec }
func (b *Block) CRCVec() []uint32       { return b.crcVec }

// IncCksumErr records a checksum verification failure for this block.
func (b *Block) IncCksumErr()          { b.cksumErrCount++ }
func (b *Block) CksumErrCount() int32  { return b.cksumErrCount }
