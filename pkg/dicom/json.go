// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package dicom

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Dataset builds one DICOM-JSON object: tag keys in ascending hex order,
// each value an object with "vr" and an optional "Value" array. Person
// names render as {"Alphabetic": ...} component groups.
type Dataset struct {
	elems map[Tag]jsonElement
}

type jsonElement struct {
	VR     string
	Values []interface{}
}

type personName struct {
	Alphabetic string `json:"Alphabetic"`
}

func NewDataset() *Dataset {
	return &Dataset{elems: map[Tag]jsonElement{}}
}

// AddString adds a single-valued string attribute. Empty values emit the
// element with no Value array, per the PS3.18 empty-attribute form.
func (d *Dataset) AddString(tag Tag, vr, value string) *Dataset {
	el := jsonElement{VR: vr}
	if value != "" {
		if vr == "PN" {
			el.Values = []interface{}{personName{Alphabetic: value}}
		} else {
			el.Values = []interface{}{value}
		}
	}
	d.elems[tag] = el
	return d
}

func (d *Dataset) AddStrings(tag Tag, vr string, values []string) *Dataset {
	el := jsonElement{VR: vr}
	for _, v := range values {
		if vr == "PN" {
			el.Values = append(el.Values, personName{Alphabetic: v})
		} else {
			el.Values = append(el.Values, v)
		}
	}
	d.elems[tag] = el
	return d
}

func (d *Dataset) AddInt(tag Tag, vr string, value int) *Dataset {
	d.elems[tag] = jsonElement{VR: vr, Values: []interface{}{value}}
	return d
}

// AddSequence adds an SQ attribute whose items are nested datasets. An empty
// item list emits the sequence element with no Value array.
func (d *Dataset) AddSequence(tag Tag, items ...*Dataset) *Dataset {
	el := jsonElement{VR: "SQ"}
	for _, item := range items {
		el.Values = append(el.Values, item)
	}
	d.elems[tag] = el
	return d
}

// FromAttributes copies every retained header attribute into the dataset.
// Unknown VRs are carried through as-is; sequences and bulk data never reach
// the attribute set in the first place.
func (d *Dataset) FromAttributes(attrs AttributeSet) *Dataset {
	for tag, el := range attrs {
		if tag.Group() == 0x0002 && tag != TagSourceAETitle {
			continue
		}
		switch el.VR {
		case "US", "UL", "SS", "SL":
			d.AddInt(tag, el.VR, el.IntValue())
		default:
			d.AddStrings(tag, el.VR, el.Strings())
		}
	}
	return d
}

// MarshalJSON writes the object with keys sorted by tag, which the standard
// requires and which keeps output deterministic for tests.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	tags := make([]Tag, 0, len(d.elems))
	for tag := range d.elems {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, tag := range tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		el := d.elems[tag]
		buf.WriteByte('"')
		buf.WriteString(tag.String())
		buf.WriteString(`":{"vr":"`)
		buf.WriteString(el.VR)
		buf.WriteByte('"')
		if len(el.Values) > 0 {
			buf.WriteString(`,"Value":`)
			values, err := json.Marshal(el.Values)
			if err != nil {
				return nil, err
			}
			buf.Write(values)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
