// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package dicom

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// Element is one parsed dataset attribute. Value holds the raw element body
// in the file's byte order for binary VRs; string VRs are stored as read.
type Element struct {
	Tag       Tag
	VR        string
	Value     []byte
	bigEndian bool
}

// StringValue returns the element body as a string with trailing padding
// stripped. DICOM pads odd-length strings with a space, UIDs with a NUL.
func (e Element) StringValue() string {
	return strings.TrimRight(string(e.Value), " \x00")
}

// Strings splits a multi-valued element on the backslash delimiter.
func (e Element) Strings() []string {
	s := e.StringValue()
	if s == "" {
		return nil
	}
	return strings.Split(s, "\\")
}

// IntValue decodes numeric elements. Binary VRs decode by width, string
// VRs (IS) parse decimal. Returns 0 when undecodable.
func (e Element) IntValue() int {
	switch e.VR {
	case "US":
		if len(e.Value) >= 2 {
			return int(e.byteOrder().Uint16(e.Value))
		}
	case "UL":
		if len(e.Value) >= 4 {
			return int(e.byteOrder().Uint32(e.Value))
		}
	case "SS":
		if len(e.Value) >= 2 {
			return int(int16(e.byteOrder().Uint16(e.Value)))
		}
	case "SL":
		if len(e.Value) >= 4 {
			return int(int32(e.byteOrder().Uint32(e.Value)))
		}
	default:
		v, err := strconv.Atoi(strings.TrimSpace(e.StringValue()))
		if err == nil {
			return v
		}
	}
	return 0
}

func (e Element) byteOrder() binary.ByteOrder {
	if e.bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// AttributeSet is the parsed header keyed by tag, fed to the path resolver
// and the DICOM-JSON encoder.
type AttributeSet map[Tag]Element

func (a AttributeSet) GetString(tag Tag) string {
	if e, ok := a[tag]; ok {
		return e.StringValue()
	}
	return ""
}

func (a AttributeSet) GetInt(tag Tag) (int, bool) {
	if e, ok := a[tag]; ok {
		return e.IntValue(), true
	}
	return 0, false
}

func (a AttributeSet) Has(tag Tag) bool {
	_, ok := a[tag]
	return ok
}
