/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package cinfo

import "time"

func (a *AStat) mergeWith(b AStat) {
	a.Detach = b.Detach
	a.NIOs += b.NIOs
	a.DurationMs += b.DurationMs
	a.NMerged += b.NMerged + 1
	a.BytesHit += b.BytesHit
	a.BytesMissed += b.BytesMissed
	a.BytesBypassed += b.BytesBypassed
}

// Compact shrinks AccessLog to at most maxAccess entries by repeatedly
// merging the adjacent pair whose gap-vs-age ratio is smallest. The most
// recent record is never a merge candidate's second half of the final
// pair considered, so the active/latest access is preserved untouched.
func (in *Info) Compact(maxAccess int, now time.Time) {
	v := in.AccessLog
	nowUnix := now.Unix()

	for i := 0; i < len(v)-1; i++ {
		if v[i].Detach == 0 && v[i].NIOs > 0 {
			v[i].Detach = v[i].Attach + int64(v[i].DurationMs)/1000/int64(v[i].NIOs)
		}
	}

	for len(v) > maxAccess {
		minScore := 1e10
		minIdx := -1

		m := len(v) - 2
		for i := 0; i < m; i++ {
			a, b := v[i], v[i+1]
			t := (nowUnix-b.Attach)/2 + (nowUnix-a.Detach)/2
			if t < 1 {
				t = 1
			}
			s := float64(b.Attach-a.Detach) / float64(t)
			if s < minScore {
				minScore = s
				minIdx = i
			}
		}
		if minIdx == -1 {
			break
		}

		v[minIdx].mergeWith(v[minIdx+1])
		v = append(v[:minIdx+1], v[minIdx+2:]...)
	}

	in.AccessLog = v
}
