// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package filter

import (
	"strings"
)

const (
	// maxLimit caps QIDO result pages regardless of the requested limit.
	maxLimit     = 1000
	defaultLimit = 100
)

// StudyFilter carries the QIDO study-level query parameters. Wildcard values
// use the DICOM forms (* and ?) and are translated at this boundary.
type StudyFilter struct {
	PatientName     string
	PatientID       string
	StudyDate       string // YYYYMMDD or YYYYMMDD-YYYYMMDD
	AccessionNumber string
	Description     string
	StudyUID        string
	Limit           int
	Offset          int
}

// EffectiveLimit applies the default and the hard cap.
func (f StudyFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return defaultLimit
	}
	if f.Limit > maxLimit {
		return maxLimit
	}
	return f.Limit
}

// DateRange splits the study-date parameter into inclusive bounds. Either
// bound may come back empty.
func (f StudyFilter) DateRange() (from, to string) {
	if f.StudyDate == "" {
		return "", ""
	}
	if idx := strings.IndexByte(f.StudyDate, '-'); idx >= 0 {
		return f.StudyDate[:idx], f.StudyDate[idx+1:]
	}
	return f.StudyDate, f.StudyDate
}

// TranslateWildcards maps DICOM matching wildcards onto SQL LIKE syntax.
func TranslateWildcards(value string) string {
	value = strings.ReplaceAll(value, "*", "%")
	value = strings.ReplaceAll(value, "?", "_")
	return value
}

// HasWildcards reports whether the original value carried DICOM wildcards.
func HasWildcards(value string) bool {
	return strings.ContainsAny(value, "*?")
}
