// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package dicom

import (
	"fmt"
	"strconv"
)

// Tag packs a DICOM (group, element) pair into one value, group high.
type Tag uint32

func NewTag(group, element uint16) Tag {
	return Tag(uint32(group)<<16 | uint32(element))
}

// ParseTag parses the eight-hex-digit form used in path templates and
// DICOM-JSON keys, e.g. "00080018".
func ParseTag(s string) (Tag, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("invalid tag %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tag %q", s)
	}
	return Tag(v), nil
}

func (t Tag) Group() uint16 {
	return uint16(t >> 16)
}

func (t Tag) Element() uint16 {
	return uint16(t & 0xFFFF)
}

// String renders the tag as eight uppercase hex digits.
func (t Tag) String() string {
	return fmt.Sprintf("%04X%04X", t.Group(), t.Element())
}

const (
	TagFileMetaGroupLength Tag = 0x00020000
	TagMediaSOPClassUID    Tag = 0x00020002
	TagMediaSOPInstanceUID Tag = 0x00020003
	TagTransferSyntaxUID   Tag = 0x00020010
	TagSourceAETitle       Tag = 0x00020016

	TagSOPClassUID        Tag = 0x00080016
	TagSOPInstanceUID     Tag = 0x00080018
	TagRetrieveURL        Tag = 0x00081190

	TagReferencedSOPClassUID    Tag = 0x00081150
	TagReferencedSOPInstanceUID Tag = 0x00081155
	TagFailureReason            Tag = 0x00081197
	TagFailedSOPSequence        Tag = 0x00081198
	TagReferencedSOPSequence    Tag = 0x00081199
	TagStudyDate          Tag = 0x00080020
	TagSeriesDate         Tag = 0x00080021
	TagStudyTime          Tag = 0x00080030
	TagAccessionNumber    Tag = 0x00080050
	TagModality           Tag = 0x00080060
	TagInstitutionName    Tag = 0x00080080
	TagReferringPhysician Tag = 0x00080090
	TagStationName        Tag = 0x00081010
	TagStudyDescription   Tag = 0x00081030
	TagSeriesDescription  Tag = 0x0008103E
	TagBodyPartExamined   Tag = 0x00180015

	TagPatientName      Tag = 0x00100010
	TagPatientID        Tag = 0x00100020
	TagPatientBirthDate Tag = 0x00100030
	TagPatientSex       Tag = 0x00100040

	TagStudyInstanceUID  Tag = 0x0020000D
	TagSeriesInstanceUID Tag = 0x0020000E
	TagStudyID           Tag = 0x00200010
	TagSeriesNumber      Tag = 0x00200011
	TagInstanceNumber    Tag = 0x00200013

	TagNumberOfStudyRelatedSeries     Tag = 0x00201206
	TagNumberOfStudyRelatedInstances  Tag = 0x00201208
	TagNumberOfSeriesRelatedInstances Tag = 0x00201209

	TagSamplesPerPixel     Tag = 0x00280002
	TagPlanarConfiguration Tag = 0x00280006
	TagNumberOfFrames      Tag = 0x00280008
	TagRows                Tag = 0x00280010
	TagColumns             Tag = 0x00280011
	TagBitsAllocated       Tag = 0x00280100
	TagBitsStored          Tag = 0x00280101
	TagHighBit             Tag = 0x00280102
	TagPixelRepresentation Tag = 0x00280103

	TagPixelData Tag = 0x7FE00010

	tagItem              Tag = 0xFFFEE000
	tagItemDelimiter     Tag = 0xFFFEE00D
	tagSequenceDelimiter Tag = 0xFFFEE0DD
)
