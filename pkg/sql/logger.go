// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package sql

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"
)

// NullLogger silences gorm's own logging. Query failures surface as returned
// errors and are logged by the caller.
type NullLogger struct{}

func (l NullLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l NullLogger) Info(ctx context.Context, msg string, data ...interface{}) {}

func (l NullLogger) Warn(ctx context.Context, msg string, data ...interface{}) {}

func (l NullLogger) Error(ctx context.Context, msg string, data ...interface{}) {}

func (l NullLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
}
