// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package conf

type Level string

const (
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	FatalLevel Level = "fatal"
)

// LogConfig controls the global logger. RotateFile settings are only applied
// when FileName is non-empty; otherwise logs go to stderr.
type LogConfig struct {
	Core      string    `json:"core" yaml:"core"`
	Level     Level     `json:"level" yaml:"level"`
	Formatter Formatter `json:"formatter" yaml:"formatter"`

	FileName   string `json:"file_name" yaml:"file_name"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

func DefaultConfig() *LogConfig {
	return &LogConfig{
		Core:      "logrus",
		Level:     InfoLevel,
		Formatter: ConsoleFormater,
	}
}
