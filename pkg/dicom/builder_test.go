package dicom

import (
	"bytes"
	"encoding/binary"
)

// fileBuilder synthesizes DICOM part-10 byte streams for tests.
type fileBuilder struct {
	buf      bytes.Buffer
	implicit bool
}

func newFileBuilder(tsuid string) *fileBuilder {
	b := &fileBuilder{implicit: tsuid == TSImplicitVRLittleEndian}
	b.buf.Write(make([]byte, preambleLength))
	b.buf.WriteString(magicDICM)
	b.writeExplicit(TagTransferSyntaxUID, "UI", padded(tsuid))
	return b
}

func padded(s string) []byte {
	v := []byte(s)
	if len(v)%2 == 1 {
		v = append(v, 0)
	}
	return v
}

func (b *fileBuilder) writeExplicit(tag Tag, vr string, value []byte) {
	binary.Write(&b.buf, binary.LittleEndian, tag.Group())
	binary.Write(&b.buf, binary.LittleEndian, tag.Element())
	b.buf.WriteString(vr)
	if longFormVR(vr) {
		b.buf.Write([]byte{0, 0})
		binary.Write(&b.buf, binary.LittleEndian, uint32(len(value)))
	} else {
		binary.Write(&b.buf, binary.LittleEndian, uint16(len(value)))
	}
	b.buf.Write(value)
}

func (b *fileBuilder) writeImplicit(tag Tag, value []byte) {
	binary.Write(&b.buf, binary.LittleEndian, tag.Group())
	binary.Write(&b.buf, binary.LittleEndian, tag.Element())
	binary.Write(&b.buf, binary.LittleEndian, uint32(len(value)))
	b.buf.Write(value)
}

func (b *fileBuilder) str(tag Tag, vr, value string) *fileBuilder {
	if b.implicit {
		b.writeImplicit(tag, padded(value))
	} else {
		b.writeExplicit(tag, vr, padded(value))
	}
	return b
}

func (b *fileBuilder) us(tag Tag, v uint16) *fileBuilder {
	value := make([]byte, 2)
	binary.LittleEndian.PutUint16(value, v)
	if b.implicit {
		b.writeImplicit(tag, value)
	} else {
		b.writeExplicit(tag, "US", value)
	}
	return b
}

// emptySequence writes an undefined-length sequence holding one item with a
// single element, closed by the delimitation items.
func (b *fileBuilder) sequenceWithItem(tag Tag) *fileBuilder {
	binary.Write(&b.buf, binary.LittleEndian, tag.Group())
	binary.Write(&b.buf, binary.LittleEndian, tag.Element())
	if !b.implicit {
		b.buf.WriteString("SQ")
		b.buf.Write([]byte{0, 0})
	}
	binary.Write(&b.buf, binary.LittleEndian, uint32(undefinedLength))

	b.item(undefinedLength, nil)
	b.str(TagStudyID, "SH", "NESTED")
	b.delimiter(tagItemDelimiter)
	b.delimiter(tagSequenceDelimiter)
	return b
}

func (b *fileBuilder) pixelDataNative(data []byte) *fileBuilder {
	if b.implicit {
		b.writeImplicit(TagPixelData, data)
	} else {
		b.writeExplicit(TagPixelData, "OW", data)
	}
	return b
}

func (b *fileBuilder) pixelDataEncapsulated(offsetTable []byte, fragments ...[]byte) *fileBuilder {
	binary.Write(&b.buf, binary.LittleEndian, TagPixelData.Group())
	binary.Write(&b.buf, binary.LittleEndian, TagPixelData.Element())
	b.buf.WriteString("OB")
	b.buf.Write([]byte{0, 0})
	binary.Write(&b.buf, binary.LittleEndian, uint32(undefinedLength))

	b.item(uint32(len(offsetTable)), offsetTable)
	for _, f := range fragments {
		b.item(uint32(len(f)), f)
	}
	b.delimiter(tagSequenceDelimiter)
	return b
}

func (b *fileBuilder) item(length uint32, body []byte) {
	binary.Write(&b.buf, binary.LittleEndian, tagItem.Group())
	binary.Write(&b.buf, binary.LittleEndian, tagItem.Element())
	binary.Write(&b.buf, binary.LittleEndian, length)
	b.buf.Write(body)
}

func (b *fileBuilder) delimiter(tag Tag) {
	binary.Write(&b.buf, binary.LittleEndian, tag.Group())
	binary.Write(&b.buf, binary.LittleEndian, tag.Element())
	binary.Write(&b.buf, binary.LittleEndian, uint32(0))
}

func (b *fileBuilder) bytes() []byte {
	return b.buf.Bytes()
}

// standardHeader fills the identifiers every valid test object carries.
func (b *fileBuilder) standardHeader() *fileBuilder {
	return b.
		str(TagSOPClassUID, "UI", "1.2.840.10008.5.1.4.1.1.4").
		str(TagSOPInstanceUID, "UI", "1.2.3").
		str(TagModality, "CS", "MR").
		str(TagPatientName, "PN", "DOE^JOHN").
		str(TagPatientID, "LO", "P1").
		str(TagStudyInstanceUID, "UI", "1.2.1").
		str(TagSeriesInstanceUID, "UI", "1.2.2")
}
