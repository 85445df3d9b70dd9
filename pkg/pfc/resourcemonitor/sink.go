/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package resourcemonitor

import (
	"time"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/accesstoken"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/dirstate"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
)

// Sink adapts a Monitor's queues to file.Sink: every File reports its
// lifecycle/stat events here, taking only the relevant queue's mutex, per
// the producer side of the double-buffer design.
type Sink struct {
	queues   *Queues
	tokens   *accesstoken.Registry
}

// NewSink builds the Sink a Cache hands to every File it opens.
func NewSink(queues *Queues, tokens *accesstoken.Registry) *Sink {
	return &Sink{queues: queues, tokens: tokens}
}

var _ file.Sink = (*Sink)(nil)

func (s *Sink) resolvePath(tokenID string) string {
	tok, ok := s.tokens.Lookup(tokenID)
	if !ok {
		return ""
	}
	return tok.Dir
}

func (s *Sink) EmitOpen(tokenID string) {
	s.queues.opens.push(openRecord{tokenID: tokenID, path: s.resolvePath(tokenID), at: time.Now()})
}

func (s *Sink) EmitClose(tokenID string) {
	s.queues.closes.push(closeRecord{tokenID: tokenID, path: s.resolvePath(tokenID), at: time.Now()})
}

func (s *Sink) EmitStatDelta(tokenID string, delta file.StatsDelta) {
	s.queues.stats.push(statRecord{
		tokenID: tokenID,
		path:    s.resolvePath(tokenID),
		delta: dirstate.Stats{
			BytesHit:       delta.BytesHit,
			BytesMissed:    delta.BytesMissed,
			BytesBypassed:  delta.BytesBypassed,
			BytesWritten:   delta.BytesWritten,
			ChecksumErrors: delta.ChecksumErrors,
		},
	})
}

// EmitPurge records a purge outcome directly (not through file.Sink, since
// it originates from the purge path rather than a File).
func (s *Sink) EmitPurge(path string, nFiles, nBytes int64) {
	s.queues.purges.push(purgeRecord{path: path, nFiles: nFiles, nBytes: nBytes})
}
