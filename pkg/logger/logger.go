// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package logger

import (
	"context"

	"github.com/phtran-dev/spax/pkg/logger/conf"
)

type Fields map[string]interface{}

// Logger is the logging interface used throughout the codebase. The default
// implementation wraps logrus; see the logrus subpackage.
type Logger interface {
	Log(level conf.Level, v ...interface{})
	Logf(level conf.Level, format string, v ...interface{})

	Tracef(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})

	WithFields(fields Fields) Logger
	WithContext(ctx context.Context) Logger
}
