/*
 * Copyright 2026 Observatory Control Systems.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package obsutil collects small helpers shared by the observatory daemons.
package obsutil

import (
	"flag"
	"log"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	levelFlag = zapcore.InfoLevel
)

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05"))
}

// NewLogger returns a 'sugared' zap logger.  Each logged line will include a
// timestamp, the log level, and 2 levels of caller name before the message.
// e.g.:
//	2026/03/14 10:23:27     INFO    obs.treed/router.go:182   Listening ...
func NewLogger() *zap.SugaredLogger {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(levelFlag)
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeTime = zapTimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		log.Panicf("can't zap: %s", err)
	}
	_ = zap.RedirectStdLog(logger)

	return logger.Sugar()
}

func init() {
	flag.Var(&levelFlag, "log-level",
		"Log level [debug,info,warn,error,panic,fatal]")
}
