/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package file implements the per-open-LFN object: the block map, the
// bounded write-task pool draining fetched blocks to disk, the prefetch
// loop, and RAM<->disk read coordination described by the cache's File
// component.
package file

import "github.com/xrootd/xrootd-sub004/pkg/pfc/block"

// PrefetchState is the per-File prefetch state machine.
type PrefetchState int

const (
	// PrefetchOff never prefetches, e.g. a Block-file chunk that the
	// caller marked un-cacheable.
	PrefetchOff PrefetchState = iota
	// PrefetchStopped means no IO is currently attached.
	PrefetchStopped
	// PrefetchOn is the active prefetch loop.
	PrefetchOn
	// PrefetchHold is paused because every attached IO asked to quiet
	// down; it resumes when an IO that allows prefetching attaches.
	PrefetchHold
	// PrefetchComplete is terminal: the bitmap is fully set.
	PrefetchComplete
)

func (s PrefetchState) String() string {
	switch s {
	case PrefetchOff:
		return "off"
	case PrefetchStopped:
		return "stopped"
	case PrefetchOn:
		return "on"
	case PrefetchHold:
		return "hold"
	case PrefetchComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// AttachedIO is the surface a File needs from whatever client object holds
// it open. It embeds block.IO so a Block can carry a stable, comparable
// back-reference to whichever IO last attempted to fill it.
type AttachedIO interface {
	block.IO
	AllowPrefetching() bool
}

type ioAttachment struct {
	activePrefetches int
}

// StatsDelta is the byte/IO-outcome counters a Read/ReadV call reports.
type StatsDelta struct {
	BytesHit       int64
	BytesMissed    int64
	BytesBypassed  int64
	BytesWritten   int64
	ChecksumErrors int64
}

// Sink is how a File reports lifecycle and stat events upward without
// depending on the dirstate/resourcemonitor packages directly; File only
// ever takes the sink's own (lock-free-from-File's perspective) enqueue
// path, matching the queue-producer/consumer split of the resource
// monitor design.
type Sink interface {
	EmitOpen(tokenID string)
	EmitClose(tokenID string)
	EmitStatDelta(tokenID string, delta StatsDelta)
}

// RemoteReader is the only thing a File needs from "the remote": bytes at
// an offset. Remote protocol framing, auth, and name translation are
// handled upstream of this boundary.
type RemoteReader interface {
	ReadAt(p []byte, off int64) (int, error)
}
