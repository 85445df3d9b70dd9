/*
 * Copyright (c) 2021. Ant Group. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package registry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xrootd/xrootd-sub004/pkg/metrics/data"
)

var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		data.BytesHit,
		data.BytesMissed,
		data.BytesBypassed,
		data.FilesOpened,
		data.FilesClosed,
		data.PurgedFiles,
		data.PurgedBytes,
		data.ChecksumErrors,
		data.DiskUsageBytes,
		data.FileUsageBytes,
		data.PrefetchQueueDepth,
		data.LastAccessTimestamp,
	)
}
