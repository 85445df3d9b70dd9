/*
 * Copyright (c) 2020. Ant Group. All rights reserved.
 * Copyright (c) 2023. Nydus Developers. All rights reserved.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package logging

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultLogDirName  = "logs"
	defaultLogFileName = "xrootd-pfc.log"

	// RFC3339NanoFixed is time.RFC3339Nano padded to a fixed, sortable width.
	RFC3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"
)

type loggerKey struct{}

// L is the package-wide default logger entry.
var L = logrus.NewEntry(logrus.StandardLogger())

type RotateLogArgs struct {
	RotateLogMaxSize    int
	RotateLogMaxBackups int
	RotateLogMaxAge     int
	RotateLogLocalTime  bool
	RotateLogCompress   bool
}

// SetUp configures the process-wide logger: either straight to stdout, or
// to a lumberjack-rotated file under logDir.
func SetUp(logLevel string, logToStdout bool, logDir string, logRotateArgs *RotateLogArgs) error {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	if logToStdout {
		logrus.SetOutput(os.Stdout)
	} else {
		if logRotateArgs == nil {
			return errors.New("logRotateArgs is needed when logToStdout is false")
		}

		if err := os.MkdirAll(logDir, 0755); err != nil {
			return errors.Wrapf(err, "create log dir %s", logDir)
		}
		logFile := filepath.Join(logDir, defaultLogFileName)

		logrus.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logRotateArgs.RotateLogMaxSize,
			MaxBackups: logRotateArgs.RotateLogMaxBackups,
			MaxAge:     logRotateArgs.RotateLogMaxAge,
			Compress:   logRotateArgs.RotateLogCompress,
			LocalTime:  logRotateArgs.RotateLogLocalTime,
		})
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: RFC3339NanoFixed,
		FullTimestamp:   true,
	})
	return nil
}

// WithContext attaches the package logger to a background context.
func WithContext() context.Context {
	return WithLogger(context.Background(), L)
}

// WithLogger returns a context carrying e as its logger.
func WithLogger(ctx context.Context, e *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, e)
}

// GetLogger returns the logger stashed in ctx, falling back to the package default.
func GetLogger(ctx context.Context) *logrus.Entry {
	if e, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return e
	}
	return L
}
