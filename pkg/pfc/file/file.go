/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package file

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/errdefs"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/block"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/cinfo"
)

// Options configures a File at Open time.
type Options struct {
	LFN            string
	TokenID        string
	FileSize       int64
	BlockSize      int64
	ChecksumPolicy config.ChecksumPolicy
	FlushThreshold int
	WriteThreads   int
	PrefetchEnable bool
	PrefetchMax    int
}

// File is the per-open-LFN object: block map, write pool, prefetch state,
// and the loaded cinfo sidecar.
type File struct {
	opts   Options
	data   *os.File
	cinfo  *os.File
	remote RemoteReader
	sink   Sink

	mu   sync.Mutex
	cond *sync.Cond

	info   *cinfo.Info
	blocks map[int64]*block.Block

	ios       map[AttachedIO]*ioAttachment
	currentIO AttachedIO

	prefetchState PrefetchState
	shutdown      bool
	shutdownErr   error

	nonFlushed int

	writeSem   *semaphore.Weighted
	writeGroup *errgroup.Group
	writeCtx   context.Context
	cancel     context.CancelFunc

	sinceSample StatsDelta

	prefetchScore int64
}

// Open resolves cinfo against data/cinfo handles already opened by the
// caller (the Cache). A corrupt or unsupported cinfo triggers a reset:
// the data file is truncated and a fresh Info is created in its place.
func Open(data, cinfoFile *os.File, remote RemoteReader, sink Sink, opts Options) (*File, error) {
	if opts.BlockSize <= 0 {
		return nil, errors.New("file: block size must be positive")
	}

	info, err := loadOrReset(data, cinfoFile, opts)
	if err != nil {
		return nil, err
	}

	writeThreads := opts.WriteThreads
	if writeThreads <= 0 {
		writeThreads = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	grp, ctx := errgroup.WithContext(ctx)

	f := &File{
		opts:       opts,
		data:       data,
		cinfo:      cinfoFile,
		remote:     remote,
		sink:       sink,
		info:       info,
		blocks:     make(map[int64]*block.Block),
		ios:        make(map[AttachedIO]*ioAttachment),
		writeSem:   semaphore.NewWeighted(int64(writeThreads)),
		writeGroup: grp,
		writeCtx:   ctx,
		cancel:     cancel,
	}
	f.cond = sync.NewCond(&f.mu)

	if info.IsComplete() {
		f.prefetchState = PrefetchComplete
	} else {
		f.prefetchState = PrefetchStopped
	}

	return f, nil
}

func loadOrReset(data, cinfoFile *os.File, opts Options) (*cinfo.Info, error) {
	if st, err := cinfoFile.Stat(); err == nil && st.Size() > 0 {
		if _, err := cinfoFile.Seek(0, 0); err != nil {
			return nil, err
		}
		info, err := cinfo.Load(cinfoFile)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, errdefs.ErrIntegrity) &&
			!errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, err
		}
		// Integrity failure or short read: reset silently, no user-visible error.
	}

	if err := data.Truncate(0); err != nil {
		return nil, errors.Wrap(err, "reset data file")
	}
	info := cinfo.Create(opts.FileSize, opts.BlockSize, opts.ChecksumPolicy)
	return info, nil
}

// Size returns the logical file size this File was opened with.
func (f *File) Size() int64 { return f.opts.FileSize }

// Stat returns the on-disk data file's os.FileInfo, for IO adapters
// implementing Fstat (file size, mtime) against the local cache copy
// rather than the remote.
func (f *File) Stat() (os.FileInfo, error) {
	return f.data.Stat()
}

// WaitIOQuiesced blocks until io no longer has any unfinished prefetches
// attributed to it, so the caller can safely destroy the IO object.
func (f *File) WaitIOQuiesced(io AttachedIO) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		att, ok := f.ios[io]
		if !ok || att.activePrefetches == 0 {
			return
		}
		f.cond.Wait()
	}
}

// IsComplete reports whether the cinfo bitmap is fully set.
func (f *File) IsComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info.IsComplete()
}

// PrefetchState returns the current state machine value.
func (f *File) PrefetchState() PrefetchState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefetchState
}

// AddIO attaches io to this File, starting the prefetch loop on the first
// attach if configuration permits.
func (f *File) AddIO(io AttachedIO) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shutdown {
		return errdefs.ErrShutdown
	}

	f.ios[io] = &ioAttachment{}
	f.currentIO = io

	if f.sink != nil {
		f.sink.EmitOpen(f.opts.TokenID)
	}
	f.info.WriteIOStatAttach(time.Now())

	resume := f.prefetchState == PrefetchStopped ||
		(f.prefetchState == PrefetchHold && io.AllowPrefetching())
	if resume && f.opts.PrefetchEnable {
		f.prefetchState = PrefetchOn
		go f.prefetchLoop()
	}
	return nil
}

// ReleaseIO detaches io. It returns true if the caller must delay
// releasing the IO object itself because unfinished prefetches still
// reference it.
func (f *File) ReleaseIO(io AttachedIO, stats StatsDelta) bool {
	f.mu.Lock()

	att, ok := f.ios[io]
	active := ok && att.activePrefetches > 0
	delete(f.ios, io)
	if f.currentIO == io {
		f.currentIO = nil
		for other := range f.ios {
			f.currentIO = other
			break
		}
	}

	allQuiet := true
	for other := range f.ios {
		if other.AllowPrefetching() {
			allQuiet = false
			break
		}
	}
	if f.prefetchState == PrefetchOn && len(f.ios) > 0 && allQuiet {
		f.prefetchState = PrefetchHold
	}
	if len(f.ios) == 0 && (f.prefetchState == PrefetchOn || f.prefetchState == PrefetchHold) {
		f.prefetchState = PrefetchStopped
	}

	f.info.WriteIOStatDetach(time.Now(), cinfo.AccessStats{
		BytesHit:      stats.BytesHit,
		BytesMissed:   stats.BytesMissed,
		BytesBypassed: stats.BytesBypassed,
	})
	f.mu.Unlock()

	if f.sink != nil {
		f.sink.EmitClose(f.opts.TokenID)
		f.sink.EmitStatDelta(f.opts.TokenID, stats)
	}
	return active
}

// EmergencyShutdown is sticky: future reads fail immediately, prefetch
// stops, in-flight writes are allowed to complete but no longer update the
// bitmap or sync cinfo.
func (f *File) EmergencyShutdown(reason error) {
	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return
	}
	f.shutdown = true
	f.shutdownErr = reason
	f.prefetchState = PrefetchStopped
	f.cond.Broadcast()
	f.mu.Unlock()
}

// IsShutdown reports whether this File has been emergency-shut-down.
func (f *File) IsShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

// FinalizeSyncBeforeExit reports whether a final cinfo sync must still be
// scheduled before this File can be torn down.
func (f *File) FinalizeSyncBeforeExit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonFlushed > 0 || len(f.blocks) > 0
}

// Close waits for in-flight writes to quiesce and does a final cinfo sync
// unless the File was emergency-shut-down.
func (f *File) Close() error {
	_ = f.writeGroup.Wait()
	f.cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return nil
	}
	return f.syncCinfoLocked()
}

// SampleStats returns the byte/IO delta accumulated since the previous
// call and resets it to zero, then forwards the same delta to the sink so
// ResourceMonitor sees it on its next queue drain.
func (f *File) SampleStats() StatsDelta {
	f.mu.Lock()
	delta := f.sinceSample
	f.sinceSample = StatsDelta{}
	f.mu.Unlock()

	if f.sink != nil {
		f.sink.EmitStatDelta(f.opts.TokenID, delta)
	}
	return delta
}

func (f *File) syncCinfoLocked() error {
	if _, err := f.cinfo.Seek(0, 0); err != nil {
		return err
	}
	if err := f.cinfo.Truncate(0); err != nil {
		return err
	}
	if err := cinfo.Write(f.cinfo, f.info); err != nil {
		return err
	}
	f.nonFlushed = 0
	return nil
}
