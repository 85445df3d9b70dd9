/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package iohelper wraps the positional I/O and disk-space primitives the
// cache's data/cinfo descriptors are driven through: pread/pwrite so
// concurrent readers and the write-task pool never need a shared file
// offset, and statfs for the disk-usage figures ResourceMonitor polls.
package iohelper

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Pread reads into buf starting at offset without disturbing f's shared
// file offset, so concurrent readers of the same data file never race.
func Pread(f *os.File, buf []byte, offset int64) (int, error) {
	n, err := unix.Pread(int(f.Fd()), buf, offset)
	if err != nil {
		return n, errors.Wrapf(err, "pread %s at %d", f.Name(), offset)
	}
	return n, nil
}

// Pwrite writes buf at offset without disturbing f's shared file offset.
func Pwrite(f *os.File, buf []byte, offset int64) (int, error) {
	n, err := unix.Pwrite(int(f.Fd()), buf, offset)
	if err != nil {
		return n, errors.Wrapf(err, "pwrite %s at %d", f.Name(), offset)
	}
	return n, nil
}

// EnsureDir creates dir (and any missing parents) if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	return nil
}

// Fallocate pre-sizes f to size bytes so the sparse data file's directory
// entry reflects its eventual size before any block is written.
func Fallocate(f *os.File, size int64) error {
	if size <= 0 {
		return nil
	}
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
			return f.Truncate(size)
		}
		return errors.Wrapf(err, "fallocate %s to %d", f.Name(), size)
	}
	return nil
}

// DiskStat is the subset of statfs(2) the space-based purge trigger reads.
type DiskStat struct {
	TotalBytes     int64
	AvailableBytes int64
	UsedBytes      int64
}

// StatVS reports disk usage for the filesystem backing path.
func StatVS(path string) (DiskStat, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskStat{}, errors.Wrapf(err, "statfs %s", path)
	}
	total := int64(st.Blocks) * int64(st.Bsize)
	avail := int64(st.Bavail) * int64(st.Bsize)
	return DiskStat{
		TotalBytes:     total,
		AvailableBytes: avail,
		UsedBytes:      total - avail,
	}, nil
}
