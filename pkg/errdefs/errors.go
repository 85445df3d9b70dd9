/*
 * Copyright (c) 2020. Ant Group. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package errdefs classifies the cache's error taxonomy into predicate
// helpers so outer callers (IO adapters, admin queries) can branch on
// error kind without depending on a concrete errno value.
package errdefs

import (
	"syscall"

	"github.com/pkg/errors"
)

var (
	// ErrNotInCache is returned by local-path queries when the caller
	// requires a complete file and the cache does not have one.
	ErrNotInCache = errors.New("not in cache")

	// ErrShutdown is returned once a File has undergone emergency shutdown.
	ErrShutdown = errors.New("file is shut down")

	// ErrIntegrity marks a cinfo/data pair that failed a consistency check
	// (bad MD5, unsupported version, size mismatch) and was reset.
	ErrIntegrity = errors.New("cinfo integrity check failed")

	// ErrQuotaExceeded is the policy-kind error for reservations that would
	// push file usage past the configured maximum.
	ErrQuotaExceeded = errors.New("file usage quota exceeded")
)

// IsNotInCache reports whether err means "local-only query found no complete copy".
func IsNotInCache(err error) bool {
	return errors.Is(err, ErrNotInCache) || errors.Is(err, syscall.ENOENT)
}

// IsShutdown reports whether err was produced by a File after emergency shutdown.
func IsShutdown(err error) bool {
	return errors.Is(err, ErrShutdown)
}

// IsIntegrity reports whether err stems from a cinfo/data integrity reset.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsQuotaExceeded reports whether err is the EDQUOT-shaped policy error.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, syscall.EDQUOT)
}

// IsTransient reports whether err is a remote-fetch failure that a File may
// retry against a different attached IO.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, syscall.ETIMEDOUT):
		return true
	case errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.Is(err, syscall.EIO):
		return true
	default:
		return false
	}
}

// IsLocalStorage reports whether err is a local write-path failure (ENOSPC,
// EIO against the data/cinfo files) that must trigger emergency shutdown.
func IsLocalStorage(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EIO) || errors.Is(err, syscall.EROFS)
}

// IsProgrammer reports whether err is a caller-boundary argument error.
func IsProgrammer(err error) bool {
	return errors.Is(err, syscall.EINVAL)
}
