// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package dicom

// vrDict maps the tags this archive indexes to their value representations.
// Implicit VR datasets resolve through this table; anything absent parses
// as UN with a 4-byte length.
var vrDict = map[Tag]string{
	TagFileMetaGroupLength: "UL",
	TagMediaSOPClassUID:    "UI",
	TagMediaSOPInstanceUID: "UI",
	TagTransferSyntaxUID:   "UI",
	TagSourceAETitle:       "AE",

	TagSOPClassUID:        "UI",
	TagSOPInstanceUID:     "UI",
	TagStudyDate:          "DA",
	TagSeriesDate:         "DA",
	TagStudyTime:          "TM",
	TagAccessionNumber:    "SH",
	TagModality:           "CS",
	TagInstitutionName:    "LO",
	TagReferringPhysician: "PN",
	TagStationName:        "SH",
	TagStudyDescription:   "LO",
	TagSeriesDescription:  "LO",
	TagBodyPartExamined:   "CS",

	TagPatientName:      "PN",
	TagPatientID:        "LO",
	TagPatientBirthDate: "DA",
	TagPatientSex:       "CS",

	TagStudyInstanceUID:  "UI",
	TagSeriesInstanceUID: "UI",
	TagStudyID:           "SH",
	TagSeriesNumber:      "IS",
	TagInstanceNumber:    "IS",

	TagSamplesPerPixel:     "US",
	TagPlanarConfiguration: "US",
	TagNumberOfFrames:      "IS",
	TagRows:                "US",
	TagColumns:             "US",
	TagBitsAllocated:       "US",
	TagBitsStored:          "US",
	TagHighBit:             "US",
	TagPixelRepresentation: "US",
}

func dictVR(tag Tag) string {
	if vr, ok := vrDict[tag]; ok {
		return vr
	}
	if tag.Element() == 0 {
		// group length
		return "UL"
	}
	return "UN"
}
