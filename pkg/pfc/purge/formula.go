/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package purge implements the two orthogonal purge triggers (space-based
// and age-based), candidate selection over the cache's cinfo files ranked
// by last-access time, and safe deletion that never removes an active or
// purge-protected file.
package purge

import "github.com/xrootd/xrootd-sub004/internal/config"

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BytesToRemove implements the space-based formula of spec §4.10: given
// current disk use u, total disk T, cache file usage x, and an estimate
// delta of writes since the last check, it returns how many bytes the
// purge pass should try to reclaim this cycle (0 if nothing is owed).
func BytesToRemove(cfg config.PurgeConfig, u, total, x, delta int64) int64 {
	f0, f1, f2 := cfg.FileUsageBaseline, cfg.FileUsageNominal, cfg.FileUsageMax
	w1, w2 := cfg.DiskUsageLWM, cfg.DiskUsageHWM

	if x < f0 {
		return 0
	}

	if u >= w2 {
		if w2 == total {
			return clamp(u-w1, f0, f2)
		}
		fracU := frac(u-w2, total-w2)
		fracX := frac(x-f0, f1-f0)
		if fracX > fracU {
			return clamp(int64((fracX-fracU)*float64(f1-f0))+delta, f0, f1)
		}
		return 0
	}

	if u > w1 && x > f1 {
		fracU := frac(u-w1, w2-w1)
		fracX := frac(x-f1, f2-f1)
		if fracX > fracU {
			return clamp(int64((fracX-fracU)*float64(f2-f1))+delta, f0, f2)
		}
		return 0
	}

	if x > f2 {
		want := f2 - delta
		if want < f0 {
			want = f0
		}
		return clamp(x-want, 0, x)
	}

	return 0
}

func frac(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}
