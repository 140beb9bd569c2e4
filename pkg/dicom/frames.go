// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package dicom

import (
	"io"

	"github.com/phtran-dev/spax/pkg/errors"
)

// ExtractFrame copies the bytes of one 1-based frame from a stream positioned
// at file start into out. No transcoding happens; the frame is delivered at
// its stored transfer syntax.
func ExtractFrame(r io.Reader, frameNumber int, kind FrameKind, out io.Writer) error {
	if frameNumber < 1 {
		return frameOutOfRange(frameNumber)
	}
	ds, err := newDatasetReader(r)
	if err != nil {
		return err
	}
	attrs, pixel, err := ds.readDataset(true)
	if err != nil {
		return err
	}
	if pixel == nil {
		return errors.NewError().
			WithCode(errors.InvalidDicom).
			WithMessage("no pixel data element")
	}

	switch kind {
	case UncompressedSingle:
		if frameNumber != 1 {
			return frameOutOfRange(frameNumber)
		}
		return ds.copyOut(out, int64(pixel.Length))
	case UncompressedMulti:
		return ds.extractNativeFrame(out, attrs, frameNumber)
	case CompressedSingle, Video:
		if !pixel.Encapsulated() {
			return ds.copyOut(out, int64(pixel.Length))
		}
		return ds.extractAllFragments(out)
	case CompressedMulti:
		if !pixel.Encapsulated() {
			return errors.NewError().
				WithCode(errors.InvalidDicom).
				WithMessage("multiframe compressed pixel data is not encapsulated")
		}
		return ds.extractFragment(out, frameNumber)
	}
	return errors.NewError().
		WithCode(errors.InternalError).
		WithMessagef("unsupported frame kind %v", kind)
}

// extractNativeFrame seeks to frame n of a native (non encapsulated)
// multiframe pixel data body and copies exactly one frame length.
func (ds *datasetReader) extractNativeFrame(out io.Writer, attrs AttributeSet, frameNumber int) error {
	rows, _ := attrs.GetInt(TagRows)
	cols, _ := attrs.GetInt(TagColumns)
	bits, _ := attrs.GetInt(TagBitsAllocated)
	samples, ok := attrs.GetInt(TagSamplesPerPixel)
	if !ok || samples < 1 {
		samples = 1
	}
	totalFrames, ok := attrs.GetInt(TagNumberOfFrames)
	if !ok || totalFrames < 1 {
		totalFrames = 1
	}
	if rows <= 0 || cols <= 0 || bits <= 0 {
		return errors.NewError().
			WithCode(errors.InvalidDicom).
			WithMessage("missing image geometry for native frame extraction")
	}
	if frameNumber > totalFrames {
		return frameOutOfRange(frameNumber)
	}
	frameLength := int64(rows) * int64(cols) * int64(bits/8) * int64(samples)
	if err := ds.skip(int64(frameNumber-1) * frameLength); err != nil {
		return err
	}
	return ds.copyOut(out, frameLength)
}

// extractAllFragments skips the Basic Offset Table and concatenates every
// remaining fragment up to the sequence delimiter. Used for single-frame
// compressed objects and video, whose fragment stream is one access unit.
func (ds *datasetReader) extractAllFragments(out io.Writer) error {
	if err := ds.skipOffsetTable(); err != nil {
		return err
	}
	for {
		tag, length, err := ds.readItemHeader()
		if err != nil {
			return err
		}
		if isSequenceDelimiter(tag) {
			return nil
		}
		if tag != tagItem {
			return unexpectedEncapsulationTag(tag)
		}
		if err := ds.copyOut(out, int64(length)); err != nil {
			return err
		}
	}
}

// extractFragment skips the Basic Offset Table and n-1 fragments, then copies
// the n-th fragment body. Assumes one fragment per frame, which holds for
// conformant encoders.
func (ds *datasetReader) extractFragment(out io.Writer, frameNumber int) error {
	if err := ds.skipOffsetTable(); err != nil {
		return err
	}
	for i := 1; ; i++ {
		tag, length, err := ds.readItemHeader()
		if err != nil {
			return err
		}
		if isSequenceDelimiter(tag) {
			return frameOutOfRange(frameNumber)
		}
		if tag != tagItem {
			return unexpectedEncapsulationTag(tag)
		}
		if i == frameNumber {
			return ds.copyOut(out, int64(length))
		}
		if err := ds.skip(int64(length)); err != nil {
			return err
		}
	}
}

// skipOffsetTable consumes the first encapsulation item, the Basic Offset
// Table, which is present even when empty.
func (ds *datasetReader) skipOffsetTable() error {
	tag, length, err := ds.readItemHeader()
	if err != nil {
		return err
	}
	if tag != tagItem {
		return unexpectedEncapsulationTag(tag)
	}
	return ds.skip(int64(length))
}

func (ds *datasetReader) copyOut(out io.Writer, n int64) error {
	if _, err := io.CopyN(out, ds.r, n); err != nil {
		return wrapParse(err)
	}
	return nil
}

// isSequenceDelimiter accepts the standard delimitation item and the item
// delimiter, which some field encoders emit in its place.
func isSequenceDelimiter(tag Tag) bool {
	return tag == tagSequenceDelimiter || tag == tagItemDelimiter
}

func frameOutOfRange(n int) error {
	return errors.NewError().
		WithCode(errors.FrameOutOfRange).
		WithMessagef("frame %d out of range", n)
}

func unexpectedEncapsulationTag(tag Tag) error {
	return errors.NewError().
		WithCode(errors.InvalidDicom).
		WithMessagef("unexpected tag %s in encapsulated pixel data", tag)
}
