// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/phtran-dev/spax/pkg/errors"
)

// PathResolver turns a tag-based template into the relative storage path of
// one instance. Compiled templates are cached by template string; volume
// reloads call InvalidateCache so edited templates take effect.
type PathResolver struct {
	cache sync.Map // template string -> *compiledTemplate
}

func NewPathResolver() *PathResolver {
	return &PathResolver{}
}

// Resolve returns `{tenantCode}/{formatted}` for the given attribute set.
func (r *PathResolver) Resolve(template, tenantCode string, attrs dicom.AttributeSet) (string, error) {
	return r.ResolveAt(template, tenantCode, attrs, time.Now())
}

func (r *PathResolver) ResolveAt(template, tenantCode string, attrs dicom.AttributeSet, now time.Time) (string, error) {
	compiled, err := r.compiled(template)
	if err != nil {
		return "", err
	}
	return tenantCode + "/" + compiled.render(attrs, now), nil
}

// Validate reports whether the template compiles and references the SOP
// instance UID tag, without which paths would not be unique per instance.
func (r *PathResolver) Validate(template string) error {
	_, err := r.compiled(template)
	return err
}

func (r *PathResolver) InvalidateCache() {
	r.cache.Range(func(key, _ interface{}) bool {
		r.cache.Delete(key)
		return true
	})
}

func (r *PathResolver) compiled(template string) (*compiledTemplate, error) {
	if v, ok := r.cache.Load(template); ok {
		return v.(*compiledTemplate), nil
	}
	compiled, err := compileTemplate(template)
	if err != nil {
		return nil, err
	}
	actual, _ := r.cache.LoadOrStore(template, compiled)
	return actual.(*compiledTemplate), nil
}

type segment interface {
	render(sb *strings.Builder, attrs dicom.AttributeSet, now time.Time)
}

type compiledTemplate struct {
	segments []segment
}

func (t *compiledTemplate) render(attrs dicom.AttributeSet, now time.Time) string {
	sb := &strings.Builder{}
	for _, seg := range t.segments {
		seg.render(sb, attrs, now)
	}
	return sb.String()
}

func compileTemplate(template string) (*compiledTemplate, error) {
	compiled := &compiledTemplate{}
	referencesSOP := false
	rest := template
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			compiled.segments = append(compiled.segments, literalSegment(rest))
			break
		}
		if open > 0 {
			compiled.segments = append(compiled.segments, literalSegment(rest[:open]))
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, templateError(template, "unterminated substitution")
		}
		expr := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]

		seg, err := compileExpr(template, expr)
		if err != nil {
			return nil, err
		}
		if tagSeg, ok := seg.(*tagSegment); ok && tagSeg.tag == dicom.TagSOPInstanceUID {
			referencesSOP = true
		}
		compiled.segments = append(compiled.segments, seg)
	}
	if !referencesSOP {
		return nil, templateError(template, "template must reference tag 00080018")
	}
	return compiled, nil
}

func compileExpr(template, expr string) (segment, error) {
	fields := strings.Split(expr, ",")
	switch fields[0] {
	case "now":
		return compileNow(template, fields)
	case "rnd":
		return compileRnd(template, fields)
	}
	tag, err := dicom.ParseTag(fields[0])
	if err != nil {
		return nil, templateError(template, fmt.Sprintf("bad substitution %q", expr))
	}
	seg := &tagSegment{tag: tag, op: "none"}
	if len(fields) > 1 {
		seg.op = fields[1]
		seg.args = fields[2:]
	}
	switch seg.op {
	case "none", "hash", "md5", "upper", "urlencoded", "number":
		if len(seg.args) != 0 {
			return nil, templateError(template, fmt.Sprintf("%s takes no arguments", seg.op))
		}
	case "slice":
		if len(seg.args) < 1 || len(seg.args) > 2 {
			return nil, templateError(template, "slice takes 1 or 2 arguments")
		}
		for _, a := range seg.args {
			if _, err := strconv.Atoi(a); err != nil {
				return nil, templateError(template, "slice arguments must be integers")
			}
		}
	case "offset":
		if len(seg.args) != 1 {
			return nil, templateError(template, "offset takes 1 argument")
		}
		if _, err := strconv.Atoi(seg.args[0]); err != nil {
			return nil, templateError(template, "offset argument must be an integer")
		}
	default:
		return nil, templateError(template, fmt.Sprintf("unknown operation %q", seg.op))
	}
	return seg, nil
}

func templateError(template, msg string) error {
	return errors.NewError().
		WithCode(errors.RequestParameterInvalid).
		WithMessagef("invalid path template %q: %s", template, msg)
}

type literalSegment string

func (s literalSegment) render(sb *strings.Builder, _ dicom.AttributeSet, _ time.Time) {
	sb.WriteString(string(s))
}

type tagSegment struct {
	tag  Tag
	op   string
	args []string
}

// Tag aliases the dicom tag type so template internals read naturally.
type Tag = dicom.Tag

func (s *tagSegment) render(sb *strings.Builder, attrs dicom.AttributeSet, _ time.Time) {
	value := attrs.GetString(s.tag)
	switch s.op {
	case "none":
		sb.WriteString(value)
	case "upper":
		sb.WriteString(strings.ToUpper(value))
	case "hash":
		if value != "" {
			sb.WriteString(javaHashCode(value))
		}
	case "md5":
		if value != "" {
			sb.WriteString(md5Base32(value))
		}
	case "urlencoded":
		if value != "" {
			sb.WriteString(url.QueryEscape(value))
		}
	case "slice":
		sb.WriteString(sliceValue(value, s.args))
	case "number":
		sb.WriteString(strconv.Itoa(parseNumber(value)))
	case "offset":
		delta, _ := strconv.Atoi(s.args[0])
		sb.WriteString(strconv.Itoa(parseNumber(value) + delta))
	}
}

func parseNumber(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

// sliceValue implements substring with python-style negative indexing,
// clamped to the value bounds.
func sliceValue(value string, args []string) string {
	if value == "" {
		return ""
	}
	start, _ := strconv.Atoi(args[0])
	end := len(value)
	if len(args) == 2 {
		end, _ = strconv.Atoi(args[1])
	}
	start = clampIndex(start, len(value))
	end = clampIndex(end, len(value))
	if start >= end {
		return ""
	}
	return value[start:end]
}

func clampIndex(i, length int) int {
	if i < 0 {
		i += length
	}
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}

type nowSegment struct {
	years, months, days int
	layout              string
}

func compileNow(template string, fields []string) (segment, error) {
	if len(fields) != 3 {
		return nil, templateError(template, "now takes a kind and a format")
	}
	kind := fields[1]
	seg := &nowSegment{}
	base := kind
	for _, sign := range []string{"-", "+"} {
		if idx := strings.Index(kind, sign+"P"); idx > 0 {
			base = kind[:idx]
			y, m, d, err := parsePeriod(kind[idx+1:])
			if err != nil {
				return nil, templateError(template, err.Error())
			}
			if sign == "-" {
				y, m, d = -y, -m, -d
			}
			seg.years, seg.months, seg.days = y, m, d
			break
		}
	}
	switch base {
	case "date", "time":
	default:
		return nil, templateError(template, fmt.Sprintf("unknown now kind %q", kind))
	}
	seg.layout = javaDateLayout(fields[2])
	return seg, nil
}

func (s *nowSegment) render(sb *strings.Builder, _ dicom.AttributeSet, now time.Time) {
	sb.WriteString(now.AddDate(s.years, s.months, s.days).Format(s.layout))
}

var dateTokenReplacer = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func javaDateLayout(pattern string) string {
	return dateTokenReplacer.Replace(pattern)
}

// parsePeriod parses an ISO-8601 period of the form PnYnMnWnD.
func parsePeriod(p string) (years, months, days int, err error) {
	if len(p) < 2 || p[0] != 'P' {
		return 0, 0, 0, fmt.Errorf("invalid period %q", p)
	}
	num := 0
	haveNum := false
	for _, c := range p[1:] {
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			haveNum = true
		case c == 'Y' && haveNum:
			years, num, haveNum = num, 0, false
		case c == 'M' && haveNum:
			months, num, haveNum = num, 0, false
		case c == 'W' && haveNum:
			days, num, haveNum = days+num*7, 0, false
		case c == 'D' && haveNum:
			days, num, haveNum = days+num, 0, false
		default:
			return 0, 0, 0, fmt.Errorf("invalid period %q", p)
		}
	}
	if haveNum {
		return 0, 0, 0, fmt.Errorf("invalid period %q", p)
	}
	return years, months, days, nil
}

type rndSegment struct {
	kind string
}

func compileRnd(template string, fields []string) (segment, error) {
	seg := &rndSegment{kind: "hex"}
	if len(fields) > 2 {
		return nil, templateError(template, "rnd takes at most one argument")
	}
	if len(fields) == 2 {
		switch fields[1] {
		case "uuid", "uid":
			seg.kind = fields[1]
		default:
			return nil, templateError(template, fmt.Sprintf("unknown rnd kind %q", fields[1]))
		}
	}
	return seg, nil
}

func (s *rndSegment) render(sb *strings.Builder, _ dicom.AttributeSet, _ time.Time) {
	switch s.kind {
	case "uuid":
		sb.WriteString(uuid.NewString())
	case "uid":
		// UUID-derived numeric UID under the 2.25 arc
		u := uuid.New()
		n := new(big.Int).SetBytes(u[:])
		sb.WriteString("2.25." + n.String())
	default:
		var b [4]byte
		rand.Read(b[:])
		sb.WriteString(hex.EncodeToString(b[:]))
	}
}
