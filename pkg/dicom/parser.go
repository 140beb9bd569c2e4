// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package dicom

import (
	"bufio"
	"compress/flate"
	"encoding/binary"
	"io"

	"github.com/phtran-dev/spax/pkg/errors"
)

const (
	undefinedLength = 0xFFFFFFFF

	// Element bodies longer than this are skipped instead of retained in the
	// attribute set. Header strings are tiny; anything bigger is bulk data.
	maxRetainedValue = 1 << 16

	preambleLength = 128
	magicDICM      = "DICM"
)

// Metadata is the indexed projection of one DICOM header.
type Metadata struct {
	PatientID          string
	PatientName        string
	PatientBirthDate   string
	PatientSex         string
	ProvisionalPatient bool

	StudyUID           string
	StudyDate          string
	StudyTime          string
	StudyDescription   string
	AccessionNumber    string
	ReferringPhysician string

	SeriesUID         string
	Modality          string
	SeriesNumber      string
	SeriesDescription string
	BodyPart          string
	Institution       string
	StationName       string
	SendingAET        string

	SOPInstanceUID    string
	SOPClassUID       string
	InstanceNumber    int
	NumberOfFrames    int
	TransferSyntaxUID string

	Attributes AttributeSet
}

// ParseHeader reads the file meta group and the dataset up to (but not
// including) pixel data, returning the indexed projection plus the full
// attribute set for path resolution.
func ParseHeader(r io.Reader) (*Metadata, error) {
	ds, err := newDatasetReader(r)
	if err != nil {
		return nil, err
	}
	attrs, _, err := ds.readDataset(true)
	if err != nil {
		return nil, err
	}
	return buildMetadata(ds.transferSyntax, attrs)
}

func buildMetadata(tsuid string, attrs AttributeSet) (*Metadata, error) {
	meta := &Metadata{
		PatientID:          attrs.GetString(TagPatientID),
		PatientName:        attrs.GetString(TagPatientName),
		PatientBirthDate:   attrs.GetString(TagPatientBirthDate),
		PatientSex:         attrs.GetString(TagPatientSex),
		StudyUID:           attrs.GetString(TagStudyInstanceUID),
		StudyDate:          attrs.GetString(TagStudyDate),
		StudyTime:          attrs.GetString(TagStudyTime),
		StudyDescription:   attrs.GetString(TagStudyDescription),
		AccessionNumber:    attrs.GetString(TagAccessionNumber),
		ReferringPhysician: attrs.GetString(TagReferringPhysician),
		SeriesUID:          attrs.GetString(TagSeriesInstanceUID),
		Modality:           attrs.GetString(TagModality),
		SeriesNumber:       attrs.GetString(TagSeriesNumber),
		SeriesDescription:  attrs.GetString(TagSeriesDescription),
		BodyPart:           attrs.GetString(TagBodyPartExamined),
		Institution:        attrs.GetString(TagInstitutionName),
		StationName:        attrs.GetString(TagStationName),
		SendingAET:         attrs.GetString(TagSourceAETitle),
		SOPInstanceUID:     attrs.GetString(TagSOPInstanceUID),
		SOPClassUID:        attrs.GetString(TagSOPClassUID),
		TransferSyntaxUID:  tsuid,
		NumberOfFrames:     1,
		Attributes:         attrs,
	}
	if meta.SOPInstanceUID == "" || meta.StudyUID == "" || meta.SeriesUID == "" {
		return nil, errors.NewError().
			WithCode(errors.InvalidDicom).
			WithMessage("missing mandatory UID (SOP, study or series)")
	}
	if n, ok := attrs.GetInt(TagInstanceNumber); ok {
		meta.InstanceNumber = n
	}
	if n, ok := attrs.GetInt(TagNumberOfFrames); ok && n > 0 {
		meta.NumberOfFrames = n
	}
	if meta.Modality == "" {
		meta.Modality = "OT"
	}
	if meta.PatientID == "" {
		meta.PatientID = SynthesizePatientID(meta.StudyUID)
		meta.ProvisionalPatient = true
	}
	return meta, nil
}

// SynthesizePatientID derives a provisional patient id from the study UID
// when the incoming object carries none.
func SynthesizePatientID(studyUID string) string {
	prefix := studyUID
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return "NOPID_" + prefix
}

// pixelDataHeader describes the pixel-data element the dataset walk stopped
// at. The stream is positioned at the first byte of its body.
type pixelDataHeader struct {
	VR     string
	Length uint32
}

func (p pixelDataHeader) Encapsulated() bool {
	return p.Length == undefinedLength
}

// datasetReader walks elements of a single dataset. The file meta group is
// always explicit VR little endian; the main dataset follows the declared
// transfer syntax.
type datasetReader struct {
	r              *bufio.Reader
	transferSyntax string
	implicit       bool
	bigEndian      bool
	metaSourceAET  string
}

func newDatasetReader(r io.Reader) (*datasetReader, error) {
	br := bufio.NewReaderSize(r, 32*1024)
	head, err := br.Peek(preambleLength + 4)
	if err == nil && string(head[preambleLength:preambleLength+4]) == magicDICM {
		if _, err := br.Discard(preambleLength + 4); err != nil {
			return nil, wrapParse(err)
		}
	}

	ds := &datasetReader{r: br}
	tsuid, err := ds.readFileMeta()
	if err != nil {
		return nil, err
	}
	ds.transferSyntax = tsuid
	switch tsuid {
	case TSImplicitVRLittleEndian:
		ds.implicit = true
	case TSExplicitVRBigEndian:
		ds.bigEndian = true
	case TSDeflatedLittleEndian:
		ds.r = bufio.NewReaderSize(flate.NewReader(br), 32*1024)
	}
	return ds, nil
}

// readFileMeta consumes group 0002 elements, which are explicit VR little
// endian regardless of the declared transfer syntax. A stream with no meta
// group parses as implicit VR little endian.
func (ds *datasetReader) readFileMeta() (string, error) {
	tsuid := ""
	for {
		peek, err := ds.r.Peek(2)
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", wrapParse(err)
		}
		if binary.LittleEndian.Uint16(peek) != 0x0002 {
			break
		}
		tag, vr, length, err := ds.readExplicitHeader(binary.LittleEndian)
		if err != nil {
			return "", err
		}
		value, err := ds.readValue(length)
		if err != nil {
			return "", err
		}
		el := Element{Tag: tag, VR: vr, Value: value}
		switch tag {
		case TagTransferSyntaxUID:
			tsuid = el.StringValue()
		case TagSourceAETitle:
			ds.metaSourceAET = el.StringValue()
		}
	}
	if tsuid == "" {
		tsuid = TSImplicitVRLittleEndian
	}
	return tsuid, nil
}

// readDataset reads elements until pixel data or EOF. When retain is true
// string-sized element bodies are collected into the attribute set. Sequences
// and bulk data are skipped either way.
func (ds *datasetReader) readDataset(retain bool) (AttributeSet, *pixelDataHeader, error) {
	attrs := AttributeSet{}
	if retain && ds.metaSourceAET != "" {
		attrs[TagSourceAETitle] = Element{
			Tag: TagSourceAETitle, VR: "AE", Value: []byte(ds.metaSourceAET),
		}
	}
	for {
		tag, vr, length, err := ds.readElementHeader()
		if err != nil {
			if err == io.EOF {
				return attrs, nil, nil
			}
			return nil, nil, err
		}
		if tag == TagPixelData {
			return attrs, &pixelDataHeader{VR: vr, Length: length}, nil
		}
		if length == undefinedLength {
			if err := ds.skipUndefinedLength(); err != nil {
				return nil, nil, err
			}
			continue
		}
		if !retain || vr == "SQ" || int64(length) > maxRetainedValue || tag.Group() >= 0x7FE0 {
			if err := ds.skip(int64(length)); err != nil {
				return nil, nil, err
			}
			continue
		}
		value, err := ds.readValue(length)
		if err != nil {
			return nil, nil, err
		}
		attrs[tag] = Element{Tag: tag, VR: vr, Value: value, bigEndian: ds.bigEndian}
	}
}

func (ds *datasetReader) readElementHeader() (Tag, string, uint32, error) {
	if ds.implicit {
		return ds.readImplicitHeader()
	}
	if ds.bigEndian {
		return ds.readExplicitHeader(binary.BigEndian)
	}
	return ds.readExplicitHeader(binary.LittleEndian)
}

func (ds *datasetReader) readImplicitHeader() (Tag, string, uint32, error) {
	var buf [8]byte
	if _, err := io.ReadFull(ds.r, buf[:]); err != nil {
		return 0, "", 0, eofOrParse(err)
	}
	tag := NewTag(binary.LittleEndian.Uint16(buf[0:2]), binary.LittleEndian.Uint16(buf[2:4]))
	length := binary.LittleEndian.Uint32(buf[4:8])
	if tag.Group() == 0xFFFE {
		// delimitation items carry no VR
		return tag, "", length, nil
	}
	return tag, dictVR(tag), length, nil
}

func (ds *datasetReader) readExplicitHeader(order binary.ByteOrder) (Tag, string, uint32, error) {
	var buf [8]byte
	if _, err := io.ReadFull(ds.r, buf[:]); err != nil {
		return 0, "", 0, eofOrParse(err)
	}
	tag := NewTag(order.Uint16(buf[0:2]), order.Uint16(buf[2:4]))
	if tag.Group() == 0xFFFE {
		return tag, "", order.Uint32(buf[4:8]), nil
	}
	vr := string(buf[4:6])
	if longFormVR(vr) {
		var ext [4]byte
		if _, err := io.ReadFull(ds.r, ext[:]); err != nil {
			return 0, "", 0, wrapParse(err)
		}
		return tag, vr, order.Uint32(ext[:]), nil
	}
	return tag, vr, uint32(order.Uint16(buf[6:8])), nil
}

func longFormVR(vr string) bool {
	switch vr {
	case "OB", "OW", "OF", "OD", "OL", "SQ", "UC", "UR", "UT", "UN":
		return true
	}
	return false
}

// skipUndefinedLength consumes a sequence (or UN blob) of undefined length,
// recursing through nested undefined-length items, until the sequence
// delimitation item.
func (ds *datasetReader) skipUndefinedLength() error {
	for {
		tag, length, err := ds.readItemHeader()
		if err != nil {
			return err
		}
		switch tag {
		case tagSequenceDelimiter:
			return nil
		case tagItem:
			if length == undefinedLength {
				if err := ds.skipUndefinedItem(); err != nil {
					return err
				}
			} else if err := ds.skip(int64(length)); err != nil {
				return err
			}
		default:
			return errors.NewError().
				WithCode(errors.InvalidDicom).
				WithMessagef("unexpected tag %s inside sequence", tag)
		}
	}
}

// skipUndefinedItem consumes the elements of one undefined-length item up to
// its item delimitation tag.
func (ds *datasetReader) skipUndefinedItem() error {
	for {
		tag, _, length, err := ds.readElementHeader()
		if err != nil {
			return err
		}
		if tag == tagItemDelimiter {
			return nil
		}
		if length == undefinedLength {
			if err := ds.skipUndefinedLength(); err != nil {
				return err
			}
			continue
		}
		if err := ds.skip(int64(length)); err != nil {
			return err
		}
	}
}

// readItemHeader reads an encapsulation item header. Items use the dataset's
// byte order for the tag and a 32-bit length, never a VR.
func (ds *datasetReader) readItemHeader() (Tag, uint32, error) {
	var buf [8]byte
	if _, err := io.ReadFull(ds.r, buf[:]); err != nil {
		return 0, 0, eofOrParse(err)
	}
	order := binary.ByteOrder(binary.LittleEndian)
	if ds.bigEndian {
		order = binary.BigEndian
	}
	tag := NewTag(order.Uint16(buf[0:2]), order.Uint16(buf[2:4]))
	return tag, order.Uint32(buf[4:8]), nil
}

func (ds *datasetReader) readValue(length uint32) ([]byte, error) {
	value := make([]byte, length)
	if _, err := io.ReadFull(ds.r, value); err != nil {
		return nil, wrapParse(err)
	}
	return value, nil
}

func (ds *datasetReader) skip(n int64) error {
	if _, err := io.CopyN(io.Discard, ds.r, n); err != nil {
		return wrapParse(err)
	}
	return nil
}

func wrapParse(err error) error {
	return errors.NewError().
		WithCode(errors.InvalidDicom).
		WithMessage("unreadable dicom stream").
		WithError(err)
}

func eofOrParse(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	return wrapParse(err)
}
