// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package logrus

import (
	"context"
	"os"

	"github.com/phtran-dev/spax/pkg/logger"
	"github.com/phtran-dev/spax/pkg/logger/conf"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Wrapper struct {
	entry *logrus.Entry
}

func NewLogrusWrapper(cfg *conf.LogConfig) (logger.Logger, error) {
	l := logrus.New()
	l.SetLevel(toLogrusLevel(cfg.Level))
	switch cfg.Formatter {
	case conf.JSONFormater:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.FileName != "" {
		l.SetOutput(&lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	} else {
		l.SetOutput(os.Stderr)
	}
	return &Wrapper{entry: logrus.NewEntry(l)}, nil
}

func toLogrusLevel(level conf.Level) logrus.Level {
	switch level {
	case conf.TraceLevel:
		return logrus.TraceLevel
	case conf.DebugLevel:
		return logrus.DebugLevel
	case conf.WarnLevel:
		return logrus.WarnLevel
	case conf.ErrorLevel:
		return logrus.ErrorLevel
	case conf.FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func toLogrusArg(level conf.Level) logrus.Level {
	// Fatal is handled by the log facade so the wrapper never exits.
	l := toLogrusLevel(level)
	if l == logrus.FatalLevel {
		return logrus.ErrorLevel
	}
	return l
}

func (w *Wrapper) Log(level conf.Level, v ...interface{}) {
	w.entry.Log(toLogrusArg(level), v...)
}

func (w *Wrapper) Logf(level conf.Level, format string, v ...interface{}) {
	w.entry.Logf(toLogrusArg(level), format, v...)
}

func (w *Wrapper) Tracef(format string, v ...interface{}) { w.Logf(conf.TraceLevel, format, v...) }
func (w *Wrapper) Debugf(format string, v ...interface{}) { w.Logf(conf.DebugLevel, format, v...) }
func (w *Wrapper) Infof(format string, v ...interface{})  { w.Logf(conf.InfoLevel, format, v...) }
func (w *Wrapper) Warnf(format string, v ...interface{})  { w.Logf(conf.WarnLevel, format, v...) }
func (w *Wrapper) Errorf(format string, v ...interface{}) { w.Logf(conf.ErrorLevel, format, v...) }

func (w *Wrapper) WithFields(fields logger.Fields) logger.Logger {
	return &Wrapper{entry: w.entry.WithFields(logrus.Fields(fields))}
}

func (w *Wrapper) WithContext(ctx context.Context) logger.Logger {
	return &Wrapper{entry: w.entry.WithContext(ctx)}
}
