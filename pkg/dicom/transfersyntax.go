// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package dicom

const (
	TSImplicitVRLittleEndian = "1.2.840.10008.1.2"
	TSExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	TSExplicitVRBigEndian    = "1.2.840.10008.1.2.2"
	TSDeflatedLittleEndian   = "1.2.840.10008.1.2.1.99"
)

// videoSyntaxes covers the MPEG-2, MPEG-4 and HEVC families. Video pixel
// data is encapsulated as one fragment stream regardless of frame count.
var videoSyntaxes = map[string]bool{
	"1.2.840.10008.1.2.4.100": true,
	"1.2.840.10008.1.2.4.101": true,
	"1.2.840.10008.1.2.4.102": true,
	"1.2.840.10008.1.2.4.103": true,
	"1.2.840.10008.1.2.4.104": true,
	"1.2.840.10008.1.2.4.105": true,
	"1.2.840.10008.1.2.4.106": true,
	"1.2.840.10008.1.2.4.107": true,
	"1.2.840.10008.1.2.4.108": true,
}

// FrameKind selects the extraction algorithm for a stored instance.
type FrameKind int

const (
	UncompressedSingle FrameKind = iota
	CompressedSingle
	UncompressedMulti
	CompressedMulti
	Video
)

func (k FrameKind) String() string {
	switch k {
	case UncompressedSingle:
		return "UNCOMPRESSED_SINGLE"
	case CompressedSingle:
		return "COMPRESSED_SINGLE"
	case UncompressedMulti:
		return "UNCOMPRESSED_MULTI"
	case CompressedMulti:
		return "COMPRESSED_MULTI"
	case Video:
		return "VIDEO"
	}
	return "UNKNOWN"
}

// IsUncompressed reports whether pixel data is stored as native (non
// encapsulated) bytes for the given transfer syntax.
func IsUncompressed(tsuid string) bool {
	switch tsuid {
	case TSImplicitVRLittleEndian, TSExplicitVRLittleEndian, TSExplicitVRBigEndian:
		return true
	}
	return false
}

func IsVideo(tsuid string) bool {
	return videoSyntaxes[tsuid]
}

// ClassifyFrameKind decides the extraction algorithm from the transfer
// syntax and the instance's frame count.
func ClassifyFrameKind(tsuid string, numberOfFrames int) FrameKind {
	if IsVideo(tsuid) {
		return Video
	}
	if IsUncompressed(tsuid) {
		if numberOfFrames > 1 {
			return UncompressedMulti
		}
		return UncompressedSingle
	}
	if numberOfFrames > 1 {
		return CompressedMulti
	}
	return CompressedSingle
}
