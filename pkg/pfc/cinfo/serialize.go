/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package cinfo

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"time"

	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/errdefs"
)

var byteOrder = binary.LittleEndian

// Load reads a cinfo record from r. It returns errdefs.ErrIntegrity when
// the version is unsupported or the bitmap checksum doesn't match; the
// caller's response to that is to reset the file, not to surface an error
// to its own caller.
func Load(r io.Reader) (*Info, error) {
	in := &Info{MaxAccess: MaxAccessDefault}

	if err := binary.Read(r, byteOrder, &in.Version); err != nil {
		return nil, err
	}
	if in.Version != Version && in.Version != -1 && in.Version != -2 {
		return nil, errdefs.ErrIntegrity
	}
	if err := binary.Read(r, byteOrder, &in.BufferSize); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &in.FileSize); err != nil {
		return nil, err
	}

	n := NumBlocks(in.FileSize, in.BufferSize)
	in.bitmap = make([]byte, (n+7)/8)
	if _, err := io.ReadFull(r, in.bitmap); err != nil {
		return nil, err
	}

	var onDiskMD5 [16]byte
	if _, err := io.ReadFull(r, onDiskMD5[:]); err != nil {
		return nil, err
	}
	if md5.Sum(in.bitmap) != onDiskMD5 {
		return nil, errdefs.ErrIntegrity
	}

	if err := binary.Read(r, byteOrder, &in.CreatedAt); err != nil {
		return nil, err
	}
	if in.Version < 0 {
		// Degraded variant: bitmap and header only, no access log or checksums.
		return in, nil
	}
	if err := binary.Read(r, byteOrder, &in.AccessCount); err != nil {
		// Older layouts may omit this field; absence is not corruption.
		in.AccessCount = 0
		return in, nil
	}

	var nAccess int32
	if err := binary.Read(r, byteOrder, &nAccess); err != nil {
		return nil, err
	}
	in.AccessLog = make([]AStat, nAccess)
	for i := range in.AccessLog {
		if err := binary.Read(r, byteOrder, &in.AccessLog[i]); err != nil {
			return nil, err
		}
	}

	var hasChecksums byte
	if err := binary.Read(r, byteOrder, &hasChecksums); err != nil {
		// Absence of the checksum trailer is not corruption either.
		return in, nil
	}
	if hasChecksums == 0 {
		return in, nil
	}

	var policyLen uint8
	if err := binary.Read(r, byteOrder, &policyLen); err != nil {
		return nil, err
	}
	policyBytes := make([]byte, policyLen)
	if _, err := io.ReadFull(r, policyBytes); err != nil {
		return nil, err
	}
	in.ChecksumPolicy = config.ChecksumPolicy(policyBytes)

	var nPages int64
	if err := binary.Read(r, byteOrder, &nPages); err != nil {
		return nil, err
	}
	in.pageCksums = make([]uint32, nPages)
	for i := range in.pageCksums {
		if err := binary.Read(r, byteOrder, &in.pageCksums[i]); err != nil {
			return nil, err
		}
	}

	var verifiedLen int64
	if err := binary.Read(r, byteOrder, &verifiedLen); err != nil {
		return nil, err
	}
	in.pageVerified = make([]byte, verifiedLen)
	if _, err := io.ReadFull(r, in.pageVerified); err != nil {
		return nil, err
	}

	return in, nil
}

// Write serializes in to w, compacting the access log to MaxAccess first.
func Write(w io.Writer, in *Info) error {
	if in.MaxAccess <= 0 {
		in.MaxAccess = MaxAccessDefault
	}
	if len(in.AccessLog) > in.MaxAccess {
		in.Compact(in.MaxAccess, time.Now())
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, byteOrder, Version); err != nil {
		return err
	}
	if err := binary.Write(&buf, byteOrder, in.BufferSize); err != nil {
		return err
	}
	if err := binary.Write(&buf, byteOrder, in.FileSize); err != nil {
		return err
	}
	if _, err := buf.Write(in.bitmap); err != nil {
		return err
	}
	sum := md5.Sum(in.bitmap)
	if _, err := buf.Write(sum[:]); err != nil {
		return err
	}
	if err := binary.Write(&buf, byteOrder, in.CreatedAt); err != nil {
		return err
	}
	if err := binary.Write(&buf, byteOrder, in.AccessCount); err != nil {
		return err
	}
	if err := binary.Write(&buf, byteOrder, int32(len(in.AccessLog))); err != nil {
		return err
	}
	for _, a := range in.AccessLog {
		if err := binary.Write(&buf, byteOrder, a); err != nil {
			return err
		}
	}

	if in.pageCksums == nil {
		if err := binary.Write(&buf, byteOrder, byte(0)); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	}

	if err := binary.Write(&buf, byteOrder, byte(1)); err != nil {
		return err
	}
	policy := []byte(in.ChecksumPolicy)
	if err := binary.Write(&buf, byteOrder, uint8(len(policy))); err != nil {
		return err
	}
	if _, err := buf.Write(policy); err != nil {
		return err
	}
	if err := binary.Write(&buf, byteOrder, int64(len(in.pageCksums))); err != nil {
		return err
	}
	for _, c := range in.pageCksums {
		if err := binary.Write(&buf, byteOrder, c); err != nil {
			return err
		}
	}
	if err := binary.Write(&buf, byteOrder, int64(len(in.pageVerified))); err != nil {
		return err
	}
	if _, err := buf.Write(in.pageVerified); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}
