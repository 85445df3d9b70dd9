/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package config holds the TOML-loaded knobs for the proxy file cache
// daemon: cache layout, watermarks, checksum policy, prefetch and write
// pool sizing, and directory-stats export. Grouping and tagging follows
// the same nested-struct-per-concern layout the daemon's own TOML config
// used.
package config

import (
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Cache    CacheConfig    `toml:"cache"`
	Purge    PurgeConfig    `toml:"purge"`
	Checksum ChecksumConfig `toml:"checksum"`
	Prefetch PrefetchConfig `toml:"prefetch"`
	Write    WriteConfig    `toml:"write"`
	DirStats DirStatsConfig `toml:"dirstats"`
	RAM      RAMConfig      `toml:"ram"`
}

type LogConfig struct {
	Dir                 string `toml:"dir"`
	Level               string `toml:"level"`
	Stdout              bool   `toml:"stdout"`
	RotateLogCompress   bool   `toml:"rotate_compress"`
	RotateLogLocalTime  bool   `toml:"rotate_local_time"`
	RotateLogMaxAge     int    `toml:"rotate_max_age"`
	RotateLogMaxBackups int    `toml:"rotate_max_backups"`
	RotateLogMaxSize    int    `toml:"rotate_max_size"`
}

type MetricsConfig struct {
	Enable     bool   `toml:"enable"`
	SocketPath string `toml:"socket_path"`
}

// CacheConfig is "datadir, metadir, blocksize" plus the hdfsbsize knob that
// switches IO into block-file mode.
type CacheConfig struct {
	DataDir       string `toml:"data_dir"`
	MetaDir       string `toml:"meta_dir"`
	BlockSize     int64  `toml:"block_size"`
	HdfsBlockSize int64  `toml:"hdfsbsize"`
	StatsDirName  string `toml:"stats_dir_name"`
}

// PurgeConfig is "diskusage LWM HWM", "filesusage base nominal max",
// "purgeinterval", "purgecoldfiles age period".
type PurgeConfig struct {
	DiskUsageLWM      int64         `toml:"disk_usage_lwm"`
	DiskUsageHWM      int64         `toml:"disk_usage_hwm"`
	FileUsageBaseline int64         `toml:"file_usage_baseline"`
	FileUsageNominal  int64         `toml:"file_usage_nominal"`
	FileUsageMax      int64         `toml:"file_usage_max"`
	Interval          time.Duration `toml:"interval"`
	ColdFilesEnable   bool          `toml:"cold_files_enable"`
	ColdFilesAge      time.Duration `toml:"cold_files_age"`
	ColdFilesPeriod   int           `toml:"cold_files_period"`
}

// ChecksumConfig is "cschk {none,net,cache,both} [uvkeep=T]".
type ChecksumPolicy string

const (
	ChecksumNone  ChecksumPolicy = "none"
	ChecksumNet   ChecksumPolicy = "net"
	ChecksumCache ChecksumPolicy = "cache"
	ChecksumBoth  ChecksumPolicy = "both"
)

type ChecksumConfig struct {
	Policy ChecksumPolicy `toml:"policy"`
	UVKeep time.Duration  `toml:"uvkeep"`
}

// PrefetchConfig is "prefetch {on,off} max=N".
type PrefetchConfig struct {
	Enable   bool `toml:"enable"`
	MaxBlock int  `toml:"max_blocks"`
}

// WriteConfig is "wqueue blocks=B threads=T" plus "flushthreshold".
type WriteConfig struct {
	QueueBlocks    int `toml:"queue_blocks"`
	Threads        int `toml:"threads"`
	FlushThreshold int `toml:"flush_threshold"`
}

// DirStatsConfig is "dirstats depth=D interval=I [paths...]".
type DirStatsConfig struct {
	Depth    int           `toml:"depth"`
	Interval time.Duration `toml:"interval"`
	Paths    []string      `toml:"paths"`
}

// RAMConfig is "ram bytes".
type RAMConfig struct {
	Bytes int64 `toml:"bytes"`
}

// Validate applies the cross-field invariants the knob table in spec §6 implies.
func (c *Config) Validate() error {
	if c.Cache.DataDir == "" {
		return errors.New("cache.data_dir must be set")
	}
	if c.Cache.MetaDir == "" {
		c.Cache.MetaDir = c.Cache.DataDir
	}
	if c.Cache.BlockSize <= 0 {
		return errors.New("cache.block_size must be positive")
	}
	if c.Cache.StatsDirName == "" {
		c.Cache.StatsDirName = "pfc-stats"
	}
	if c.Purge.DiskUsageLWM > c.Purge.DiskUsageHWM {
		return errors.New("purge.disk_usage_lwm must be <= disk_usage_hwm")
	}
	if c.Purge.FileUsageBaseline > c.Purge.FileUsageNominal ||
		c.Purge.FileUsageNominal > c.Purge.FileUsageMax {
		return errors.New("purge.file_usage_baseline <= nominal <= max must hold")
	}
	if c.Write.Threads <= 0 {
		c.Write.Threads = 4
	}
	if c.Write.QueueBlocks <= 0 {
		c.Write.QueueBlocks = 1024
	}
	if c.Write.FlushThreshold <= 0 {
		c.Write.FlushThreshold = 100
	}
	if c.Prefetch.MaxBlock <= 0 {
		c.Prefetch.MaxBlock = 10
	}
	if c.DirStats.Depth <= 0 {
		c.DirStats.Depth = 4
	}
	if c.Checksum.Policy == "" {
		c.Checksum.Policy = ChecksumNone
	}
	return nil
}

// DoesChecksumHaveMissingBits reports whether a cinfo written under
// onDisk lacks bits the current policy requires (per spec §9's downgrade
// design note).
func (c *Config) DoesChecksumHaveMissingBits(onDisk ChecksumPolicy) bool {
	rank := map[ChecksumPolicy]int{ChecksumNone: 0, ChecksumNet: 1, ChecksumCache: 1, ChecksumBoth: 2}
	return rank[onDisk] < rank[c.Checksum.Policy]
}
