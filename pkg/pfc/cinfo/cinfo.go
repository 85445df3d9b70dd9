/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package cinfo implements the binary sidecar ("cinfo") format: the
// download bitmap, per-page checksums, and access log that ride alongside
// every cached file. The byte layout has no analogue in the example
// dependency corpus, so it is hand-packed with encoding/binary rather than
// reached for a generic codec library.
package cinfo

import (
	"time"

	"github.com/xrootd/xrootd-sub004/internal/config"
)

// Version is the layout this package writes. Negative versions found on
// disk (-1, -2) are older variants this reader still loads in degraded
// form: bitmap and header only, no access log or checksums.
const Version int32 = 3

// MaxAccessDefault bounds the access log length absent an explicit limit.
const MaxAccessDefault = 20

// AStat is one access-log record: a single attach/detach span and the
// byte counters accumulated during it. NMerged counts how many original
// records were folded into this one by compaction.
type AStat struct {
	Attach        int64
	Detach        int64
	NIOs          int32
	DurationMs    int32
	NMerged       int32
	BytesHit      int64
	BytesMissed   int64
	BytesBypassed int64
}

// AccessStats is what a File reports when an IO detaches.
type AccessStats struct {
	BytesHit      int64
	BytesMissed   int64
	BytesBypassed int64
}

// Info is the in-memory form of a cinfo file.
type Info struct {
	Version    int32
	BufferSize int64
	FileSize   int64

	bitmap []byte // one bit per block, LSB-first within each byte

	CreatedAt    int64
	AccessCount  uint64
	AccessLog    []AStat
	MaxAccess    int

	ChecksumPolicy config.ChecksumPolicy
	pageCksums     []uint32
	pageVerified   []byte // one bit per page

	// attachOpen is true while an access record is open (attach written,
	// detach pending).
	attachOpen bool
}

// Create initializes a fresh Info for a file of the given logical size,
// to be written out by the caller.
func Create(fileSize, blockSize int64, policy config.ChecksumPolicy) *Info {
	n := NumBlocks(fileSize, blockSize)
	info := &Info{
		Version:        Version,
		BufferSize:     blockSize,
		FileSize:       fileSize,
		bitmap:         make([]byte, (n+7)/8),
		CreatedAt:      time.Now().Unix(),
		MaxAccess:      MaxAccessDefault,
		ChecksumPolicy: policy,
	}
	if policy != config.ChecksumNone {
		info.pageCksums = make([]uint32, numPages(fileSize))
		info.pageVerified = make([]byte, (numPages(fileSize)+7)/8)
	}
	return info
}

// NumBlocks is ceil(fileSize / blockSize), the bitmap's logical length.
func NumBlocks(fileSize, blockSize int64) int64 {
	if blockSize <= 0 {
		return 0
	}
	return (fileSize + blockSize - 1) / blockSize
}

func numPages(fileSize int64) int64 {
	const pageSize = 4096
	return (fileSize + pageSize - 1) / pageSize
}

// SetBitWritten marks block i as durably on disk. The caller holds the
// File lock.
func (in *Info) SetBitWritten(i int64) {
	in.bitmap[i/8] |= 1 << uint(i%8)
}

// TestBitWritten reports whether block i is durably on disk.
func (in *Info) TestBitWritten(i int64) bool {
	if i/8 >= int64(len(in.bitmap)) {
		return false
	}
	return in.bitmap[i/8]&(1<<uint(i%8)) != 0
}

// SetAllBitsSynced marks every block complete, used when completeness is
// known from external evidence (e.g. the remote source reported the whole
// file was already present).
func (in *Info) SetAllBitsSynced() {
	for i := range in.bitmap {
		in.bitmap[i] = 0xFF
	}
}

// IsComplete reports whether every block covering FileSize is set.
func (in *Info) IsComplete() bool {
	n := NumBlocks(in.FileSize, in.BufferSize)
	for i := int64(0); i < n; i++ {
		if !in.TestBitWritten(i) {
			return false
		}
	}
	return true
}

// HighestSetBlock returns the index of the highest set bit, or -1 if none
// are set. Used to derive the expected sparse data-file size.
func (in *Info) HighestSetBlock() int64 {
	n := NumBlocks(in.FileSize, in.BufferSize)
	for i := n - 1; i >= 0; i-- {
		if in.TestBitWritten(i) {
			return i
		}
	}
	return -1
}

// ExpectedDataSize is the data file size implied by the bitmap: exactly
// FileSize if the last block is set, otherwise the byte offset just past
// the highest set block.
func (in *Info) ExpectedDataSize() int64 {
	n := NumBlocks(in.FileSize, in.BufferSize)
	if n > 0 && in.TestBitWritten(n-1) {
		return in.FileSize
	}
	hi := in.HighestSetBlock()
	if hi < 0 {
		return 0
	}
	return (hi + 1) * in.BufferSize
}

// WriteIOStatAttach appends a new in-flight access record.
func (in *Info) WriteIOStatAttach(now time.Time) {
	in.AccessCount++
	in.AccessLog = append(in.AccessLog, AStat{Attach: now.Unix(), NIOs: 1})
	in.attachOpen = true
}

// WriteIOStatDetach finalizes the most recent access record with a detach
// time and the byte counters accumulated over its lifetime.
func (in *Info) WriteIOStatDetach(now time.Time, stats AccessStats) {
	if len(in.AccessLog) == 0 || !in.attachOpen {
		in.AccessLog = append(in.AccessLog, AStat{Attach: now.Unix(), NIOs: 1})
	}
	rec := &in.AccessLog[len(in.AccessLog)-1]
	rec.Detach = now.Unix()
	if rec.Attach > 0 {
		rec.DurationMs = int32((rec.Detach - rec.Attach) * 1000)
	}
	rec.BytesHit += stats.BytesHit
	rec.BytesMissed += stats.BytesMissed
	rec.BytesBypassed += stats.BytesBypassed
	in.attachOpen = false
}

// HasMissingChecksumBits reports whether policy requires page checksums
// this Info was not written with.
func (in *Info) HasMissingChecksumBits(policy config.ChecksumPolicy) bool {
	rank := map[config.ChecksumPolicy]int{
		config.ChecksumNone: 0, config.ChecksumNet: 1, config.ChecksumCache: 1, config.ChecksumBoth: 2,
	}
	return rank[in.ChecksumPolicy] < rank[policy]
}

// DowngradeChecksums drops this Info to policy in place. Always succeeds:
// a weaker policy never needs bits that aren't already present.
func (in *Info) DowngradeChecksums(policy config.ChecksumPolicy) {
	in.ChecksumPolicy = policy
	if policy == config.ChecksumNone {
		in.pageCksums = nil
		in.pageVerified = nil
	}
}

// UpgradeChecksums attempts to raise this Info to policy without a reset.
// When the Info already carries the necessary bits (they were simply masked
// by a weaker running configuration) the policy is raised and it returns
// true. When bits are missing and uvkeep has not expired, the file is
// accepted in place: it returns true, the policy stays at the weaker on-disk
// value and the gap stays flagged. When bits are missing and uvkeep has
// expired it returns false and the caller must reset the file.
func (in *Info) UpgradeChecksums(policy config.ChecksumPolicy, uvkeepExpired bool) bool {
	if !in.HasMissingChecksumBits(policy) {
		in.ChecksumPolicy = policy
		return true
	}
	if uvkeepExpired {
		return false
	}
	// Accept in place with the gap flagged: ChecksumPolicy deliberately
	// stays at the weaker on-disk value so HasMissingChecksumBits keeps
	// reporting the gap until a full reset re-verifies every page.
	if in.pageCksums == nil {
		in.pageCksums = make([]uint32, numPages(in.FileSize))
		in.pageVerified = make([]byte, (numPages(in.FileSize)+7)/8)
	}
	return true
}

// SetPageChecksum records the CRC32C for page i and marks it verified.
func (in *Info) SetPageChecksum(i int64, crc uint32) {
	if in.pageCksums == nil || i >= int64(len(in.pageCksums)) {
		return
	}
	in.pageCksums[i] = crc
	in.pageVerified[i/8] |= 1 << uint(i%8)
}

// PageChecksum returns the recorded CRC32C for page i and whether it has
// actually been verified (vs. present-but-stale after an UpgradeChecksums
// gap-accept).
func (in *Info) PageChecksum(i int64) (uint32, bool) {
	if in.pageCksums == nil || i >= int64(len(in.pageCksums)) {
		return 0, false
	}
	verified := in.pageVerified[i/8]&(1<<uint(i%8)) != 0
	return in.pageCksums[i], verified
}
