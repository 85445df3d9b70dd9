/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package resourcemonitor

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/accesstoken"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
)

func TestSinkResolvesTokenToDirOnEmit(t *testing.T) {
	tokens := accesstoken.NewRegistry()
	tok := tokens.Issue("a/b/file.dat", "/a/b")

	queues := NewQueues()
	sink := NewSink(queues, tokens)

	sink.EmitOpen(tok.ID)
	sink.EmitStatDelta(tok.ID, file.StatsDelta{BytesHit: 10})
	sink.EmitClose(tok.ID)

	opens := queues.opens.swap()
	stats := queues.stats.swap()
	closes := queues.closes.swap()

	require.Len(t, opens, 1)
	require.Equal(t, "/a/b", opens[0].path)
	require.Len(t, stats, 1)
	require.Equal(t, int64(10), stats[0].delta.BytesHit)
	require.Len(t, closes, 1)
	require.Equal(t, "/a/b", closes[0].path)
}

func TestSinkUnknownTokenResolvesToEmptyPath(t *testing.T) {
	tokens := accesstoken.NewRegistry()
	queues := NewQueues()
	sink := NewSink(queues, tokens)

	sink.EmitOpen("not-a-real-token")

	opens := queues.opens.swap()
	require.Len(t, opens, 1)
	require.Equal(t, "", opens[0].path)
}

func TestSinkEmitPurgePushesDirectly(t *testing.T) {
	queues := NewQueues()
	sink := NewSink(queues, accesstoken.NewRegistry())

	sink.EmitPurge("/a/b", 3, 1024)

	purges := queues.purges.swap()
	require.Len(t, purges, 1)
	require.Equal(t, "/a/b", purges[0].path)
	require.Equal(t, int64(3), purges[0].nFiles)
	require.Equal(t, int64(1024), purges[0].nBytes)
}
