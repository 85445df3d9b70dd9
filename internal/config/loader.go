/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package config

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml"
)

// Defaults mirrors the knob table in spec §6 with values that make the
// cache usable out of the box on a single local volume.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:               "info",
			RotateLogMaxSize:    200,
			RotateLogMaxBackups: 10,
			RotateLogCompress:   true,
			RotateLogLocalTime:  true,
		},
		Cache: CacheConfig{
			BlockSize:    1 << 20,
			StatsDirName: "pfc-stats",
		},
		Purge: PurgeConfig{
			Interval:        60 * time.Second,
			ColdFilesPeriod: 10,
		},
		Checksum: ChecksumConfig{
			Policy: ChecksumNone,
		},
		Prefetch: PrefetchConfig{
			Enable:   true,
			MaxBlock: 10,
		},
		Write: WriteConfig{
			QueueBlocks:    1024,
			Threads:        4,
			FlushThreshold: 100,
		},
		DirStats: DirStatsConfig{
			Depth:    4,
			Interval: 5 * time.Minute,
		},
	}
}

// Load reads and validates a TOML configuration file, starting from Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()

	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load pfc configuration file: %w", err)
	}
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal pfc configuration file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
