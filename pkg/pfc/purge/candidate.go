/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package purge

import (
	"sort"
	"time"

	"github.com/xrootd/xrootd-sub004/pkg/pfc/cinfo"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/fstraversal"
)

// Candidate is one file eligible for removal: its LFN, last-access time
// (from the cinfo access log, or the data file's mtime if the log is
// empty), and on-disk size.
type Candidate struct {
	LFN        string
	DirPath    string
	LastAccess time.Time
	Bytes      int64
}

// ActiveChecker is the narrow seam onto Cache that candidate selection and
// final deletion both consult to avoid racing a newly opened file.
type ActiveChecker interface {
	IsFileActiveOrPurgeProtected(lfn string) bool
}

// scanCandidates walks root with a fresh Traversal, building one Candidate
// per cinfo file not currently active or purge-protected. protectedTop
// names the top-level directories fstraversal should skip entirely (e.g.
// the stats export dir).
func scanCandidates(root string, protectedTop []string, active ActiveChecker) ([]Candidate, error) {
	t := fstraversal.New(root, protectedTop)
	if err := t.Begin(); err != nil {
		return nil, err
	}

	var out []Candidate
	var walk func(lfnPrefix string) error
	walk = func(lfnPrefix string) error {
		for name, e := range t.Entries() {
			if !e.HasCinfo {
				continue
			}
			lfn := joinLFN(lfnPrefix, name)
			if active.IsFileActiveOrPurgeProtected(lfn) {
				continue
			}

			lastAccess := lastAccessFromCinfo(t, name)
			if lastAccess.IsZero() && e.DataStat != nil {
				lastAccess = e.DataStat.ModTime()
			}
			size := int64(0)
			if e.DataStat != nil {
				size = e.DataStat.Size()
			}
			out = append(out, Candidate{
				LFN: lfn, DirPath: "/" + lfnPrefix, LastAccess: lastAccess, Bytes: size,
			})
		}

		for _, name := range t.Subdirs() {
			if err := t.CdDown(name); err != nil {
				return err
			}
			if err := walk(joinLFN(lfnPrefix, name)); err != nil {
				return err
			}
			if err := t.CdUp(); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LastAccess.Before(out[j].LastAccess) })
	return out, nil
}

func joinLFN(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func lastAccessFromCinfo(t *fstraversal.Traversal, base string) time.Time {
	f, err := t.OpenAtRO(base + ".cinfo")
	if err != nil {
		return time.Time{}
	}
	defer f.Close()

	in, err := cinfo.Load(f)
	if err != nil || len(in.AccessLog) == 0 {
		return time.Time{}
	}
	last := in.AccessLog[len(in.AccessLog)-1]
	at := last.Detach
	if at == 0 {
		at = last.Attach
	}
	return time.Unix(at, 0)
}
