/*
 * Copyright (c) 2022. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Command xrootd-pfcd runs the proxy file cache as a standalone daemon:
// it loads configuration, sets up logging and metrics, constructs the
// Cache and ResourceMonitor, and runs until signaled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/xrootd/xrootd-sub004/internal/config"
	"github.com/xrootd/xrootd-sub004/internal/logging"
	"github.com/xrootd/xrootd-sub004/pkg/metrics"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func main() {
	app := &cli.App{
		Name:  "xrootd-pfcd",
		Usage: "XRootD proxy file cache daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "/etc/xrootd-pfc/pfc.toml", Usage: "path to the TOML configuration file"},
			&cli.BoolFlag{Name: "version", Usage: "print version and exit"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logging.L.WithError(err).Fatal("xrootd-pfcd exited with error")
	}
}

func run(c *cli.Context) error {
	if c.Bool("version") {
		fmt.Println("xrootd-pfcd version", Version)
		return nil
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	logRotateArgs := &logging.RotateLogArgs{
		RotateLogMaxSize:    cfg.Log.RotateLogMaxSize,
		RotateLogMaxBackups: cfg.Log.RotateLogMaxBackups,
		RotateLogMaxAge:     cfg.Log.RotateLogMaxAge,
		RotateLogLocalTime:  cfg.Log.RotateLogLocalTime,
		RotateLogCompress:   cfg.Log.RotateLogCompress,
	}
	if err := logging.SetUp(cfg.Log.Level, cfg.Log.Stdout, cfg.Log.Dir, logRotateArgs); err != nil {
		return errors.Wrap(err, "set up logging")
	}

	logging.L.Infof("starting xrootd-pfcd version %s, pid %d", Version, os.Getpid())

	if cfg.Metrics.Enable {
		go func() {
			if err := metrics.NewMetricsHTTPListener(cfg.Metrics.SocketPath); err != nil {
				logging.L.WithError(err).Warn("metrics listener exited")
			}
		}()
	}

	daemon, err := newDaemon(cfg)
	if err != nil {
		return errors.Wrap(err, "construct cache daemon")
	}
	if err := daemon.Start(); err != nil {
		return errors.Wrap(err, "start cache daemon")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.L.Info("received shutdown signal, draining")
	cancel()
	daemon.Stop()
	_ = ctx
	return nil
}
