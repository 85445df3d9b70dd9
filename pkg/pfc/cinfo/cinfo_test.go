package cinfo

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/pkg/errdefs"
)

func TestBitmapAndCompleteness(t *testing.T) {
	in := Create(10*1024*1024, 1024*1024, config.ChecksumNone)
	require.False(t, in.IsComplete())

	for i := int64(0); i < NumBlocks(in.FileSize, in.BufferSize); i++ {
		in.SetBitWritten(i)
	}
	require.True(t, in.IsComplete())
	require.Equal(t, in.FileSize, in.ExpectedDataSize())
}

func TestWriteLoadRoundTrip(t *testing.T) {
	in := Create(4*1024*1024, 1024*1024, config.ChecksumNone)
	in.SetBitWritten(0)
	in.SetBitWritten(2)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	require.True(t, loaded.TestBitWritten(0))
	require.False(t, loaded.TestBitWritten(1))
	require.True(t, loaded.TestBitWritten(2))
	require.Equal(t, in.FileSize, loaded.FileSize)
}

func TestWriteLoadRoundTripPreservesChecksums(t *testing.T) {
	in := Create(8192, 4096, config.ChecksumBoth)
	in.SetBitWritten(0)
	in.SetBitWritten(1)
	in.SetPageChecksum(0, 0xDEADBEEF)
	in.SetPageChecksum(1, 0xCAFEF00D)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, config.ChecksumBoth, loaded.ChecksumPolicy)

	crc, verified := loaded.PageChecksum(0)
	require.True(t, verified)
	require.Equal(t, uint32(0xDEADBEEF), crc)

	crc, verified = loaded.PageChecksum(1)
	require.True(t, verified)
	require.Equal(t, uint32(0xCAFEF00D), crc)
}

func TestLoadDetectsIntegrityFailure(t *testing.T) {
	in := Create(4*1024*1024, 1024*1024, config.ChecksumNone)
	in.SetBitWritten(0)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	raw := buf.Bytes()
	// Corrupt a bitmap byte without touching the stored MD5.
	bitmapOffset := 4 + 8 + 8
	raw[bitmapOffset] ^= 0xFF

	_, err := Load(bytes.NewReader(raw))
	require.ErrorIs(t, err, errdefs.ErrIntegrity)
}

func TestAccessAttachDetach(t *testing.T) {
	in := Create(1024, 1024, config.ChecksumNone)
	now := time.Unix(1000, 0)
	in.WriteIOStatAttach(now)
	in.WriteIOStatDetach(now.Add(5*time.Second), AccessStats{BytesHit: 10, BytesMissed: 20})

	require.Len(t, in.AccessLog, 1)
	rec := in.AccessLog[0]
	require.GreaterOrEqual(t, rec.Detach, rec.Attach)
	require.GreaterOrEqual(t, rec.DurationMs, int32(0))
	require.GreaterOrEqual(t, rec.BytesHit+rec.BytesMissed+rec.BytesBypassed, int64(0))
}

func TestCompactionIdempotentUnderLimit(t *testing.T) {
	in := Create(1024, 1024, config.ChecksumNone)
	in.MaxAccess = 10
	for i := 0; i < 3; i++ {
		in.AccessLog = append(in.AccessLog, AStat{Attach: int64(100 + i*10), Detach: int64(105 + i*10)})
	}
	before := append([]AStat(nil), in.AccessLog...)
	in.Compact(in.MaxAccess, time.Unix(1000, 0))
	require.Equal(t, before, in.AccessLog)
}

func TestCompactionMergesClosestPair(t *testing.T) {
	in := Create(1024, 1024, config.ChecksumNone)
	in.MaxAccess = 3
	in.AccessLog = []AStat{
		{Attach: 100, Detach: 110},
		{Attach: 120, Detach: 130},
		{Attach: 200, Detach: 210},
		{Attach: 400, Detach: 410},
		{Attach: 500, Detach: 510},
	}
	in.Compact(in.MaxAccess, time.Unix(1000, 0))

	require.Len(t, in.AccessLog, 3)
	var merged *AStat
	for i := range in.AccessLog {
		if in.AccessLog[i].NMerged >= 1 {
			merged = &in.AccessLog[i]
		}
	}
	require.NotNil(t, merged)
	// The closest adjacent pair in time, (100,110) and (120,130), merges
	// first; the merged record is then still the closest to its neighbour
	// (200,210) and absorbs it on the second pass.
	require.Equal(t, int64(100), merged.Attach)
	require.Equal(t, int64(210), merged.Detach)
}

func TestChecksumPolicyTransitions(t *testing.T) {
	in := Create(8192, 4096, config.ChecksumBoth)
	in.SetPageChecksum(0, 0xDEADBEEF)
	crc, verified := in.PageChecksum(0)
	require.Equal(t, uint32(0xDEADBEEF), crc)
	require.True(t, verified)

	in.DowngradeChecksums(config.ChecksumNone)
	require.False(t, in.HasMissingChecksumBits(config.ChecksumNone))

	ok := in.UpgradeChecksums(config.ChecksumBoth, false)
	require.True(t, ok)
	_, verified = in.PageChecksum(0)
	require.False(t, verified)

	ok = in.UpgradeChecksums(config.ChecksumBoth, true)
	require.False(t, ok)
}
