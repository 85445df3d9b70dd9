/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package cache implements the process-wide registry of File objects: a
// singleton keyed map from LFN to File with attach/release reference
// counting, written-bytes bookkeeping, and the unlink path used by the purge
// subsystem. Block RAM use is not tracked against the configured RAM limit.
package cache

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/errdefs"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/iohelper"
)

// entry is one slot in the Cache's map. A nil file field means the slot is
// transiently under construction or teardown; waiters block on cond until
// it resolves.
type entry struct {
	file     *file.File
	refs     int
	teardown bool
}

// RemoteOpener resolves an LFN to a RemoteReader, the only thing a File
// needs from "the remote" (see file.RemoteReader). Supplied by whatever
// sits above the cache (protocol client, translation layer); out of scope
// for this package.
type RemoteOpener func(lfn string) (file.RemoteReader, error)

// Cache is the singleton process-wide File registry.
type Cache struct {
	cfg    *config.Config
	opener RemoteOpener
	sink   file.Sink

	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]*entry

	pinned map[string]bool

	writesSinceLastCall int64
	ramUsed             int64

	scanChecker func(lfn string)

	prefetchMu   sync.Mutex
	prefetchSet  map[*file.File]bool
}

// RegisterPrefetchFile adds f to the prefetch coordinator's candidate set:
// each File still drives its own bounded loop, but membership here is what
// lets an operator-facing query (or a future cross-file budget) see which
// Files are actively competing for prefetch bandwidth and compare their
// PrefetchScore.
func (c *Cache) RegisterPrefetchFile(f *file.File) {
	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	if c.prefetchSet == nil {
		c.prefetchSet = make(map[*file.File]bool)
	}
	c.prefetchSet[f] = true
}

// DeRegisterPrefetchFile removes f from the prefetch candidate set.
func (c *Cache) DeRegisterPrefetchFile(f *file.File) {
	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	delete(c.prefetchSet, f)
}

// PrefetchCandidates returns every File currently registered as a prefetch
// participant, for a coordinator that wants to inspect scores across Files.
func (c *Cache) PrefetchCandidates() []*file.File {
	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	out := make([]*file.File, 0, len(c.prefetchSet))
	for f := range c.prefetchSet {
		out = append(out, f)
	}
	return out
}

// New constructs a Cache bound to cfg's data/meta directories. sink
// receives every File's lifecycle/stat events (normally the
// ResourceMonitor's queue producer side).
func New(cfg *config.Config, opener RemoteOpener, sink file.Sink) *Cache {
	c := &Cache{
		cfg:     cfg,
		opener:  opener,
		sink:    sink,
		entries: make(map[string]*entry),
		pinned:  make(map[string]bool),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Cache) dataPath(lfn string) string  { return filepath.Join(c.cfg.Cache.DataDir, lfn) }
func (c *Cache) cinfoPath(lfn string) string { return filepath.Join(c.cfg.Cache.MetaDir, lfn+".cinfo") }

// SetScanChecker wires in the ResourceMonitor's initial-scan race check
// (Monitor.CrossCheckIfScanIsInProgress). It is a setter rather than a New
// parameter because Monitor itself is constructed from a seam onto this
// Cache (WritesSinceLastCall), so the two can't be built in either order.
// Nil is a valid value (no monitor running yet, or scan cross-checking
// disabled in tests) and GetFile treats it as a no-op.
func (c *Cache) SetScanChecker(fn func(lfn string)) {
	c.mu.Lock()
	c.scanChecker = fn
	c.mu.Unlock()
}

// GetFile atomically inserts or joins the File backing lfn, attaching io
// to it. If an entry exists but is mid-teardown, the caller blocks until
// the slot clears and then retries.
func (c *Cache) GetFile(lfn string, io file.AttachedIO) (*file.File, error) {
	c.mu.Lock()
	for {
		e, ok := c.entries[lfn]
		if !ok {
			e = &entry{}
			c.entries[lfn] = e
			break
		}
		if e.teardown || e.file == nil {
			c.cond.Wait()
			continue
		}
		e.refs++
		c.mu.Unlock()
		if err := e.file.AddIO(io); err != nil {
			c.ReleaseFile(e.file, io, file.StatsDelta{})
			return nil, err
		}
		return e.file, nil
	}
	checker := c.scanChecker
	c.mu.Unlock()

	if checker != nil {
		checker(lfn)
	}

	f, err := c.openFile(lfn)
	c.mu.Lock()
	e := c.entries[lfn]
	if err != nil {
		delete(c.entries, lfn)
		c.cond.Broadcast()
		c.mu.Unlock()
		return nil, err
	}
	e.file = f
	e.refs = 1
	c.mu.Unlock()
	if c.cfg.Prefetch.Enable {
		c.RegisterPrefetchFile(f)
	}

	if err := f.AddIO(io); err != nil {
		c.ReleaseFile(f, io, file.StatsDelta{})
		return nil, err
	}
	return f, nil
}

func (c *Cache) openFile(lfn string) (*file.File, error) {
	if err := ensureParent(c.dataPath(lfn)); err != nil {
		return nil, err
	}
	if err := ensureParent(c.cinfoPath(lfn)); err != nil {
		return nil, err
	}

	data, err := openOrCreate(c.dataPath(lfn))
	if err != nil {
		return nil, errors.Wrapf(err, "open data file for %s", lfn)
	}
	cinfoF, err := openOrCreate(c.cinfoPath(lfn))
	if err != nil {
		data.Close()
		return nil, errors.Wrapf(err, "open cinfo file for %s", lfn)
	}

	remote, err := c.opener(lfn)
	if err != nil {
		data.Close()
		cinfoF.Close()
		return nil, err
	}

	st, err := data.Stat()
	fileSize := int64(0)
	if err == nil {
		fileSize = st.Size()
	}
	if s, ok := remote.(interface{ Size() int64 }); ok {
		fileSize = s.Size()
	}

	opts := file.Options{
		LFN:            lfn,
		FileSize:       fileSize,
		BlockSize:      c.cfg.Cache.BlockSize,
		ChecksumPolicy: c.cfg.Checksum.Policy,
		FlushThreshold: c.cfg.Write.FlushThreshold,
		WriteThreads:   c.cfg.Write.Threads,
		PrefetchEnable: c.cfg.Prefetch.Enable,
		PrefetchMax:    c.cfg.Prefetch.MaxBlock,
	}

	f, err := file.Open(data, cinfoF, remote, c.sink, opts)
	if err != nil {
		data.Close()
		cinfoF.Close()
		return nil, err
	}
	if err := iohelper.Fallocate(data, fileSize); err != nil {
		// Pre-sizing is a hint; failure is not fatal to opening the file.
		_ = err
	}
	return f, nil
}

// ReleaseFile drops io's attachment. If this was the last IO and all
// writes/prefetches have quiesced, the File is torn down and its slot is
// cleared, waking anyone blocked in GetFile.
func (c *Cache) ReleaseFile(f *file.File, io file.AttachedIO, stats file.StatsDelta) {
	active := f.ReleaseIO(io, stats)
	if active {
		return
	}

	c.mu.Lock()
	var lfn string
	var e *entry
	for k, v := range c.entries {
		if v.file == f {
			lfn, e = k, v
			break
		}
	}
	if e == nil {
		c.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		c.mu.Unlock()
		return
	}
	e.teardown = true
	c.mu.Unlock()

	c.DeRegisterPrefetchFile(f)
	if f.FinalizeSyncBeforeExit() {
		_ = f.Close()
	}

	c.mu.Lock()
	delete(c.entries, lfn)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Unlink cross-checks lfn against any active File, emergency-shuts it down
// if present, then removes the data+cinfo pair from disk.
func (c *Cache) Unlink(lfn string) error {
	c.mu.Lock()
	e, ok := c.entries[lfn]
	c.mu.Unlock()
	if ok && e.file != nil {
		e.file.EmergencyShutdown(errdefs.ErrShutdown)
	}

	if err := removeIfExists(c.cinfoPath(lfn)); err != nil {
		return err
	}
	return removeIfExists(c.dataPath(lfn))
}

// IsFileActiveOrPurgeProtected reports whether lfn must be skipped by the
// purge candidate scan: it has an open File, or it has been explicitly
// pinned.
func (c *Cache) IsFileActiveOrPurgeProtected(lfn string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned[lfn] {
		return true
	}
	_, active := c.entries[lfn]
	return active
}

// Pin/Unpin exempt lfn from purge regardless of access recency, the Go
// equivalent of the original's purge-pin admin hook.
func (c *Cache) Pin(lfn string)   { c.mu.Lock(); c.pinned[lfn] = true; c.mu.Unlock() }
func (c *Cache) Unpin(lfn string) { c.mu.Lock(); delete(c.pinned, lfn); c.mu.Unlock() }

// WritesSinceLastCall returns cumulative bytes written since the previous
// call and resets the counter; ResourceMonitor uses this to estimate
// near-future file-usage growth (the delta term in the purge formula).
func (c *Cache) WritesSinceLastCall() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.writesSinceLastCall
	c.writesSinceLastCall = 0
	return v
}

// AddWrittenBytes is called by File write-task completions (via the sink,
// or directly in single-process tests) to feed WritesSinceLastCall.
func (c *Cache) AddWrittenBytes(n int64) {
	c.mu.Lock()
	c.writesSinceLastCall += n
	c.mu.Unlock()
}

// FileStatus is the answer QueryFileStatus gives about one LFN.
// BytesOnDisk and LastAccess are not filled in by QueryFileStatus.
type FileStatus struct {
	LFN          string
	Cached       bool
	Complete     bool
	BytesOnDisk  int64
	LastAccess   time.Time
}

// QueryFileStatus reports the cache status of lfn among the Files currently
// open in this Cache: whether it is open and whether it is complete. A file
// present on disk but not open here returns ErrNotInCache.
func (c *Cache) QueryFileStatus(lfn string) (FileStatus, error) {
	c.mu.Lock()
	e, ok := c.entries[lfn]
	c.mu.Unlock()
	if !ok || e.file == nil {
		return FileStatus{LFN: lfn}, errdefs.ErrNotInCache
	}
	return FileStatus{
		LFN:      lfn,
		Cached:   true,
		Complete: e.file.IsComplete(),
	}, nil
}

func ensureParent(path string) error {
	return iohelper.EnsureDir(filepath.Dir(path))
}
