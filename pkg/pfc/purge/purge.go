/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package purge

import (
	"time"

	"github.com/xrootd/xrootd-sub004/internal/config"
)

// Deleter removes the cinfo+data pair for an LFN from disk, cinfo first.
type Deleter interface {
	Unlink(lfn string) error
}

// Purge implements the space- and age-based triggers of spec §4.10:
// candidate selection over cinfo files ranked by last access, skipping
// anything active or purge-protected, with a final re-check immediately
// before each deletion to close the race against a newly opened file.
type Purge struct {
	cfg    config.PurgeConfig
	root   string
	proted []string
	active ActiveChecker
	delete Deleter
	emit   func(path string, nFiles, nBytes int64)
}

// New constructs a Purge bound to root (the cache data directory).
// protectedTop is forwarded to fstraversal (e.g. the stats export dir).
func New(cfg config.PurgeConfig, root string, protectedTop []string, active ActiveChecker, del Deleter, emit func(path string, nFiles, nBytes int64)) *Purge {
	return &Purge{cfg: cfg, root: root, proted: protectedTop, active: active, delete: del, emit: emit}
}

// Run drives the space-based trigger for one heartbeat cycle: compute
// bytes-to-remove from current usage figures, then delete least-recently
// accessed candidates until that much has been reclaimed.
func (p *Purge) Run(diskUsed, diskTotal, fileUsage, writesSinceLastCheck int64) error {
	want := BytesToRemove(p.cfg, diskUsed, diskTotal, fileUsage, writesSinceLastCheck)
	if want <= 0 {
		return nil
	}
	return p.reclaim(want, false, 0)
}

// RunColdFiles drives the age-based trigger: every file whose last access
// predates now-age is removed, regardless of how much that reclaims.
func (p *Purge) RunColdFiles(age time.Duration) error {
	return p.reclaim(0, true, age)
}

// reclaim walks candidates oldest-first, deleting until cumulative size
// reaches want (space trigger) or, for the age trigger, deleting every
// candidate older than the cutoff regardless of cumulative size.
func (p *Purge) reclaim(want int64, ageTrigger bool, age time.Duration) error {
	candidates, err := scanCandidates(p.root, p.proted, p.active)
	if err != nil {
		return err
	}

	var cutoff time.Time
	if ageTrigger {
		cutoff = time.Now().Add(-age)
	}

	var removed int64
	for _, c := range candidates {
		if ageTrigger {
			if !c.LastAccess.Before(cutoff) {
				continue
			}
		} else if removed >= want {
			break
		}

		// Final re-check immediately before deletion closes the race
		// against a file opened after the scan that built candidates.
		if p.active.IsFileActiveOrPurgeProtected(c.LFN) {
			continue
		}

		if err := p.delete.Unlink(c.LFN); err != nil {
			continue
		}
		removed += c.Bytes
		if p.emit != nil {
			p.emit(c.DirPath, 1, c.Bytes)
		}
	}
	return nil
}
