/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package file

import "github.com/xrootd/xrootd-sub004/pkg/pfc/cksum"

// PgRead is Read plus a returned per-page CRC32C vector. When the checksum
// policy is enabled, the vector is computed over the bytes handed back; it
// is not compared with the page checksums stored in cinfo. With no policy
// (or "none") the vector is nil.
func (f *File) PgRead(buff []byte, offs int64) (int, []uint32, error) {
	n, err := f.Read(buff, offs)
	if err != nil || n == 0 {
		return n, nil, err
	}

	f.mu.Lock()
	policy := f.opts.ChecksumPolicy
	f.mu.Unlock()

	if policy == "" || policy == "none" {
		return n, nil, nil
	}

	vec := cksum.Calc(buff[:n], offs)
	return n, vec, nil
}
