/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/internal/logging"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/accesstoken"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/cache"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/dirstate"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/file"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/fstraversal"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/purge"
	"github.com/xrootd/xrootd-sub004/pkg/pfc/resourcemonitor"
	"github.com/xrootd/xrootd-sub004/pkg/store"
)

// daemon wires together the package-level pieces spec.md §4 describes as
// independent components: the Cache singleton, its DirState accountant,
// the ResourceMonitor heartbeat, and the Purge subsystem.
type daemon struct {
	cfg     *config.Config
	cache   *cache.Cache
	tree    *dirstate.Tree
	tokens  *accesstoken.Registry
	db      *store.Database
	monitor *resourcemonitor.Monitor

	cancel context.CancelFunc
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	db, err := store.NewDatabase(cfg.Cache.MetaDir)
	if err != nil {
		return nil, err
	}

	tree := dirstate.NewTree()
	tokens := accesstoken.NewRegistry()
	queues := resourcemonitor.NewQueues()
	sink := resourcemonitor.NewSink(queues, tokens)

	c := cache.New(cfg, unimplementedRemoteOpener, sink)

	p := purge.New(cfg.Purge, cfg.Cache.DataDir, []string{cfg.Cache.StatsDirName}, c, c,
		func(path string, nFiles, nBytes int64) { sink.EmitPurge(path, nFiles, nBytes) })

	unlinkDir := func(path string) error {
		if err := os.Remove(filepath.Join(cfg.Cache.DataDir, path)); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Remove(filepath.Join(cfg.Cache.MetaDir, path)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	mon := resourcemonitor.New(cfg, queues, tree, p, c.WritesSinceLastCall, unlinkDir)
	c.SetScanChecker(mon.CrossCheckIfScanIsInProgress)

	return &daemon{
		cfg: cfg, cache: c, tree: tree, tokens: tokens, db: db, monitor: mon,
	}, nil
}

// Start runs the initial filesystem scan to seed DirState, then launches
// the ResourceMonitor heartbeat in the background.
func (d *daemon) Start() error {
	t := fstraversal.New(d.cfg.Cache.DataDir, []string{d.cfg.Cache.StatsDirName})
	if err := d.monitor.InitialScan(t); err != nil {
		logging.L.WithError(err).Warn("pfc: initial scan failed, starting with an empty DirState tree")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.monitor.Run(ctx)
	return nil
}

// Stop cancels the heartbeat and closes the durable store.
func (d *daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// unimplementedRemoteOpener is the seam where a concrete remote-protocol
// client (wire framing, auth, name translation — all explicit non-goals of
// this module) would be plugged in; see cache.RemoteOpener.
func unimplementedRemoteOpener(lfn string) (file.RemoteReader, error) {
	return nil, errUnimplementedRemote{lfn: lfn}
}

type errUnimplementedRemote struct{ lfn string }

func (e errUnimplementedRemote) Error() string {
	return "xrootd-pfcd: no remote-protocol client wired for " + e.lfn
}
