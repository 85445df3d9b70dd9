/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package resourcemonitor implements the heartbeat loop that drains the
// per-type event queues fed by every open File, replays them into the
// DirState tree in a fixed precedence, refreshes disk-usage figures, and
// triggers the purge subsystem.
package resourcemonitor

import (
	"sync"
	"time"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/dirstate"
)

// openRecord, closeRecord, statRecord and purgeRecord are what File (via
// the Sink interface) and the purge path enqueue. Each carries enough to
// resolve a DirState path without the producer holding any lock beyond the
// queue's own.
type openRecord struct {
	tokenID string
	path    string
	at      time.Time
}

type closeRecord struct {
	tokenID string
	path    string
	at      time.Time
}

type statRecord struct {
	tokenID string
	path    string
	delta   dirstate.Stats
}

type purgeRecord struct {
	path    string
	nFiles  int64
	nBytes  int64
}

// doubleBuffer is a producer/consumer queue swapped under a single mutex:
// producers only ever take the mutex to append; the consumer swaps the
// writer slice out for an empty one and processes the swapped-out slice
// without holding the lock, per spec's queue mechanism.
type doubleBuffer[T any] struct {
	mu      sync.Mutex
	writing []T
}

func (q *doubleBuffer[T]) push(v T) {
	q.mu.Lock()
	q.writing = append(q.writing, v)
	q.mu.Unlock()
}

func (q *doubleBuffer[T]) swap() []T {
	q.mu.Lock()
	out := q.writing
	q.writing = nil
	q.mu.Unlock()
	return out
}

// Queues is the full set of per-type event queues a Monitor drains each
// heartbeat: opens, stat-updates, closes, and a single purge-record queue
// whose records are keyed by directory path. There are no separate purge
// queues keyed by DirState node or by LFN.
type Queues struct {
	opens   doubleBuffer[openRecord]
	stats   doubleBuffer[statRecord]
	closes  doubleBuffer[closeRecord]
	purges  doubleBuffer[purgeRecord]
}

// NewQueues constructs an empty queue set.
func NewQueues() *Queues { return &Queues{} }
