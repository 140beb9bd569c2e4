// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package sql

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverNamePostgres = "postgres"
)

func getDialector(conf DatabaseConfig) gorm.Dialector {
	return postgres.Open(buildDSN(conf))
}

func buildDSN(conf DatabaseConfig) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "host=%s port=%d dbname=%s", conf.Host, conf.Port, conf.DBName)
	if conf.UserName != "" {
		fmt.Fprintf(&sb, " user=%s", conf.UserName)
	}
	if conf.Password != "" {
		fmt.Fprintf(&sb, " password=%s", conf.Password)
	}
	sslMode := conf.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	fmt.Fprintf(&sb, " sslmode=%s", sslMode)
	if conf.TimeZone != "" {
		fmt.Fprintf(&sb, " TimeZone=%s", conf.TimeZone)
	}
	if conf.SearchPath != "" {
		fmt.Fprintf(&sb, " search_path=%s", conf.SearchPath)
	}
	return sb.String()
}
