/*
 * Copyright (c) 2021. Alibaba Cloud. All rights reserved.
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package data declares the process-wide Prometheus collector variables,
// the same way the daemon's own pkg/metrics/data package held one var block
// per concern.
package data

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xrootd/xrootd-sub004/pkg/metrics/types/ttl"
)

var lfnLabel = "lfn"

// Of the collectors below, only PurgedFiles, PurgedBytes, DiskUsageBytes and
// FileUsageBytes are updated by this module (from ResourceMonitor); the
// others are declared here and nothing in this module updates them.
var (
	// BytesHit counts bytes served from an already-downloaded block.
	BytesHit = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pfc_bytes_hit_total",
		Help: "Total bytes served from cache without a remote fetch.",
	})

	// BytesMissed counts bytes that required a remote fetch and were cached.
	BytesMissed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pfc_bytes_missed_total",
		Help: "Total bytes fetched from the remote source and written to cache.",
	})

	// BytesBypassed counts bytes read from remote and not cached (hdfsbsize
	// mode reads that fall outside any configured chunk, or reads issued
	// while prefetch is held).
	BytesBypassed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pfc_bytes_bypassed_total",
		Help: "Total bytes read from remote and intentionally not cached.",
	})

	// FilesOpened/FilesClosed count File lifecycle events.
	FilesOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pfc_files_opened_total",
		Help: "Total number of File objects created by Cache.GetFile.",
	})
	FilesClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pfc_files_closed_total",
		Help: "Total number of File objects torn down.",
	})

	// PurgedFiles/PurgedBytes count purge outcomes.
	PurgedFiles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pfc_purged_files_total",
		Help: "Total number of cached files removed by the purge subsystem.",
	})
	PurgedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pfc_purged_bytes_total",
		Help: "Total bytes reclaimed by the purge subsystem.",
	})

	// ChecksumErrors counts CRC32C verification failures on read.
	ChecksumErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pfc_checksum_errors_total",
		Help: "Total number of page checksum verification failures.",
	})

	// DiskUsageBytes / FileUsageBytes are instantaneous gauges refreshed by
	// ResourceMonitor on each purge check. PrefetchQueueDepth is never set.
	DiskUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pfc_disk_usage_bytes",
		Help: "Disk usage of the data space, from OSS StatVS.",
	})
	FileUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pfc_file_usage_bytes",
		Help: "Total bytes occupied by cached files.",
	})
	PrefetchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pfc_prefetch_queue_depth",
		Help: "Number of Files currently registered with the prefetch coordinator.",
	})

	// LastAccessTimestamp is a per-LFN gauge that expires when a file has
	// not been attached recently, keeping cardinality bounded.
	LastAccessTimestamp = ttl.NewGaugeVecWithTTL(
		prometheus.GaugeOpts{
			Name: "pfc_last_access_timestamp",
			Help: "Unix timestamp of the most recent attach for this LFN.",
		},
		[]string{lfnLabel},
		ttl.DefaultTTL,
	)
)
