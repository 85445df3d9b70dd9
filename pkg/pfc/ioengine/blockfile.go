/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package ioengine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
)

// ChunkOpener opens (or joins) the per-chunk File backing blockIdx of lfn,
// synthesizing its name as "<lfn>___<blocksize>_<offset>" the way the
// cache's Cache.GetFile does for every other File.
type ChunkOpener func(lfn string, blockIdx int64, size int64) (*file.File, error)

// ChunkName synthesizes the per-chunk LFN used as the cache key for
// block-file mode.
func ChunkName(lfn string, blockSize, offset int64) string {
	return fmt.Sprintf("%s___%d_%d", lfn, blockSize, offset)
}

// BlockFile is the hdfsbsize-mode IO adapter: the remote LFN is partitioned
// externally into fixed chunks, and each chunk is backed by its own File
// with its own bitmap. This adapter's own cinfo is a top-level summary
// holding only the advertised file size; it carries no bitmap of its own.
type BlockFile struct {
	lfn       string
	fileSize  int64
	blockSize int64
	open      ChunkOpener

	mu     sync.Mutex
	chunks map[int64]*EntireFile
}

// NewBlockFile constructs the adapter. Chunks are opened lazily on first
// touch rather than all at once.
func NewBlockFile(lfn string, fileSize, blockSize int64, open ChunkOpener) *BlockFile {
	return &BlockFile{
		lfn: lfn, fileSize: fileSize, blockSize: blockSize,
		open: open, chunks: make(map[int64]*EntireFile),
	}
}

// chunkBounds returns the [start, end) byte range of the chunk covering
// blockIdx (end-start is its logical size); the last chunk may be shorter
// than blockSize.
func (b *BlockFile) chunkBounds(blockIdx int64) (start, end int64) {
	start = blockIdx * b.blockSize
	end = start + b.blockSize
	if end > b.fileSize {
		end = b.fileSize
	}
	return start, end
}

func (b *BlockFile) chunkFor(blockIdx int64) (*EntireFile, int64, error) {
	start, end := b.chunkBounds(blockIdx)

	b.mu.Lock()
	io, ok := b.chunks[blockIdx]
	b.mu.Unlock()
	if ok {
		return io, start, nil
	}

	f, err := b.open(b.lfn, blockIdx, end-start)
	if err != nil {
		return nil, 0, err
	}
	name := ChunkName(b.lfn, b.blockSize, start)
	io = NewEntireFile(name, f, name, func() bool { return true })

	b.mu.Lock()
	if existing, ok := b.chunks[blockIdx]; ok {
		b.mu.Unlock()
		return existing, start, nil
	}
	b.chunks[blockIdx] = io
	b.mu.Unlock()
	return io, start, nil
}

// Read fans the request across as many per-chunk Files as it spans.
func (b *BlockFile) Read(buff []byte, offs int64) (int, error) {
	total := 0
	for total < len(buff) {
		abs := offs + int64(total)
		blockIdx := abs / b.blockSize
		start, end := b.chunkBounds(blockIdx)

		io, chunkStart, err := b.chunkFor(blockIdx)
		if err != nil {
			return total, err
		}

		want := int(end-abs) // bytes left in this chunk
		if want > len(buff)-total {
			want = len(buff) - total
		}
		n, err := io.Read(buff[total:total+want], abs-chunkStart)
		total += n
		_ = start
		if err != nil {
			return total, err
		}
		if n < want {
			return total, nil
		}
	}
	return total, nil
}

func (b *BlockFile) ReadV(ranges []file.ReadVRange) (int, error) {
	total := 0
	for _, r := range ranges {
		n, err := b.Read(r.Buffer, r.Offset)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (b *BlockFile) PgRead(buff []byte, offs int64) (int, []uint32, error) {
	n, err := b.Read(buff, offs)
	return n, nil, err
}

// Fstat reports the logical whole-file size advertised at construction,
// with the mtime of chunk 0, which it opens if needed — there is no single
// data file backing the whole LFN in block-file mode.
func (b *BlockFile) Fstat() (os.FileInfo, error) {
	io, _, err := b.chunkFor(0)
	if err != nil {
		return nil, err
	}
	st, err := io.Fstat()
	if err != nil {
		return nil, err
	}
	return blockFileInfo{name: b.lfn, size: b.fileSize, inner: st}, nil
}

// blockFileInfo overrides Size with the logical whole-file size while
// delegating everything else to the first chunk's real stat.
type blockFileInfo struct {
	name  string
	size  int64
	inner os.FileInfo
}

func (i blockFileInfo) Name() string       { return i.name }
func (i blockFileInfo) Size() int64        { return i.size }
func (i blockFileInfo) Mode() os.FileMode  { return i.inner.Mode() }
func (i blockFileInfo) ModTime() time.Time { return i.inner.ModTime() }
func (i blockFileInfo) IsDir() bool        { return false }
func (i blockFileInfo) Sys() interface{}   { return i.inner.Sys() }

func (b *BlockFile) FSize() (int64, error) { return b.fileSize, nil }

// Update propagates the prefetch-allowed flag to every chunk currently open.
func (b *BlockFile) Update(allowPrefetching bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, io := range b.chunks {
		io.Update(allowPrefetching)
	}
}

// Detach releases every open chunk. It returns false (deferring
// destruction) if any chunk still has unfinished prefetches.
func (b *BlockFile) Detach(cd DetachCallback) bool {
	b.mu.Lock()
	chunks := make([]*EntireFile, 0, len(b.chunks))
	for _, io := range b.chunks {
		chunks = append(chunks, io)
	}
	b.mu.Unlock()

	allImmediate := true
	var pending sync.WaitGroup
	for _, io := range chunks {
		io := io
		if !io.Detach(noopDetachCallback{}) {
			allImmediate = false
			pending.Add(1)
			go func() {
				// EntireFile.Detach already schedules its own wait; poll
				// its quiescence via a second Detach call is unnecessary,
				// but we still need to know when it's done before firing cd.
				io.f.WaitIOQuiesced(io)
				pending.Done()
			}()
		}
	}
	if allImmediate {
		return true
	}
	go func() {
		pending.Wait()
		if cd != nil {
			cd.DetachDone()
		}
	}()
	return false
}

type noopDetachCallback struct{}

func (noopDetachCallback) DetachDone() {}
