// Package petest builds synthetic in-memory PE images for tests.
package petest

import (
	"bytes"

	"gopedump/pe"

	"github.com/lunixbochs/struc"
)

// Section describes one section header to emit.
type Section struct {
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
}

// Image describes the headers of a mapped image.
type Image struct {
	Lfanew           int32
	Is64             bool
	SizeOfHeaders    uint32
	SectionAlignment uint32
	SizeOfImage      uint32
	Sections         []Section

	// NumberOfSections overrides the declared count when non-zero.
	NumberOfSections uint16
}

// SectionTableOffset is where the section table starts relative to the DOS header.
func (img Image) SectionTableOffset() int {
	return int(img.Lfanew) + 4 + pe.FileHeaderSize + img.optionalHeaderSize()
}

func (img Image) optionalHeaderSize() int {
	if img.Is64 {
		return 240
	}
	return 224
}

// Headers returns the header bytes: DOS header, NT headers and section
// table, padded to at least SizeOfHeaders.
func (img Image) Headers() []byte {
	var buf bytes.Buffer

	dos := pe.IMAGE_DOS_HEADER{Magic: pe.IMAGE_DOS_SIGNATURE, Lfanew: img.Lfanew}
	must(struc.Pack(&buf, &dos))
	pad(&buf, int(img.Lfanew))

	buf.Write([]byte{'P', 'E', 0, 0})

	count := uint16(len(img.Sections))
	if img.NumberOfSections != 0 {
		count = img.NumberOfSections
	}
	fh := pe.IMAGE_FILE_HEADER{
		Machine:              0x14c,
		NumberOfSections:     count,
		SizeOfOptionalHeader: uint16(img.optionalHeaderSize()),
	}
	if img.Is64 {
		fh.Machine = 0x8664
	}
	must(struc.Pack(&buf, &fh))

	start := buf.Len()
	if img.Is64 {
		oh := pe.IMAGE_OPTIONAL_HEADER64{
			Magic:            pe.IMAGE_NT_OPTIONAL_HDR64_MAGIC,
			ImageBase:        0x140000000,
			SectionAlignment: img.SectionAlignment,
			FileAlignment:    0x200,
			SizeOfImage:      img.SizeOfImage,
			SizeOfHeaders:    img.SizeOfHeaders,
		}
		must(struc.Pack(&buf, &oh))
	} else {
		oh := pe.IMAGE_OPTIONAL_HEADER32{
			Magic:            pe.IMAGE_NT_OPTIONAL_HDR32_MAGIC,
			ImageBase:        0x400000,
			SectionAlignment: img.SectionAlignment,
			FileAlignment:    0x200,
			SizeOfImage:      img.SizeOfImage,
			SizeOfHeaders:    img.SizeOfHeaders,
		}
		must(struc.Pack(&buf, &oh))
	}
	pad(&buf, start+img.optionalHeaderSize())

	for _, s := range img.Sections {
		sh := pe.IMAGE_SECTION_HEADER{
			VirtualSize:      s.VirtualSize,
			VirtualAddress:   s.VirtualAddress,
			SizeOfRawData:    s.SizeOfRawData,
			PointerToRawData: s.PointerToRawData,
		}
		copy(sh.Name[:], s.Name)
		must(struc.Pack(&buf, &sh))
	}

	pad(&buf, int(img.SizeOfHeaders))
	return buf.Bytes()
}

// Mapped lays the headers out at offset 0 of a size-byte buffer and copies
// each payload to its section's virtual address.
func (img Image) Mapped(size int, payloads map[string][]byte) []byte {
	out := make([]byte, size)
	copy(out, img.Headers())
	for _, s := range img.Sections {
		if data, ok := payloads[s.Name]; ok && int(s.VirtualAddress) < size {
			copy(out[s.VirtualAddress:], data)
		}
	}
	return out
}

// Pattern returns n bytes of a recognizable repeating pattern seeded by seed.
func Pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i%251) | 0x01
	}
	return out
}

func pad(buf *bytes.Buffer, to int) {
	if n := to - buf.Len(); n > 0 {
		buf.Write(make([]byte, n))
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
