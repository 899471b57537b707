package pe

import (
	"bytes"
	"fmt"
	"strings"

	"gopedump/process"

	"github.com/lunixbochs/struc"
)

// DefaultMaxSections is the most sections the Windows loader accepts.
const DefaultMaxSections = 96

// DosImage is a decoded DOS header together with where it was found.
type DosImage struct {
	Header IMAGE_DOS_HEADER

	// Base is the resolved offset of the DOS header. All image-relative
	// reads start from here.
	Base process.ProcessMemoryAddress
}

// NTHeaderOffset is the address of IMAGE_NT_HEADERS named by e_lfanew.
func (d *DosImage) NTHeaderOffset() process.ProcessMemoryAddress {
	return process.ProcessMemoryAddress(int64(d.Base) + int64(d.Header.Lfanew))
}

// SectionRecord is one entry of the section table, in declared order.
type SectionRecord struct {
	Index            int
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	SizeOfRawData    uint32
	PointerToRawData uint32

	// HeaderOffset is the absolute address of the raw section header.
	HeaderOffset process.ProcessMemoryAddress
}

// ImageDescriptor is everything decoded about one image. It is built per
// reconstruction and never cached.
type ImageDescriptor struct {
	Base           process.ProcessMemoryAddress
	NTHeaderOffset process.ProcessMemoryAddress
	Is64           bool

	FileHeader IMAGE_FILE_HEADER

	SizeOfHeaders    uint32
	SectionAlignment uint32
	SizeOfImage      uint32

	// SectionTableOffset is relative to Base.
	SectionTableOffset uint64

	Sections []SectionRecord
}

// DecodeDosHeader decodes the DOS header at offset. The magic is not checked;
// a bad base decodes to whatever bytes (or zeros) are there.
func DecodeDosHeader(as process.AddressSpace, offset process.ProcessMemoryAddress) (*DosImage, error) {
	dos := &DosImage{Base: offset}
	data := as.ZRead(offset, DosHeaderSize)
	if err := struc.Unpack(bytes.NewReader(data), &dos.Header); err != nil {
		return nil, fmt.Errorf("decode dos header at 0x%x: %w", offset, err)
	}
	return dos, nil
}

// DecodeNtHeader decodes the NT headers and up to maxSections section records.
func DecodeNtHeader(as process.AddressSpace, dos *DosImage, maxSections int) (*ImageDescriptor, error) {
	nt := dos.NTHeaderOffset()
	desc := &ImageDescriptor{
		Base:           dos.Base,
		NTHeaderOffset: nt,
	}

	fileHeaderAddr := nt + fileHeaderOffset
	data := as.ZRead(fileHeaderAddr, FileHeaderSize)
	if err := struc.Unpack(bytes.NewReader(data), &desc.FileHeader); err != nil {
		return nil, fmt.Errorf("decode file header at 0x%x: %w", fileHeaderAddr, err)
	}

	optionalAddr := fileHeaderAddr + FileHeaderSize
	data = as.ZRead(optionalAddr, optionalHeaderPrefixSize)
	if err := desc.decodeOptionalHeader(data); err != nil {
		return nil, fmt.Errorf("decode optional header at 0x%x: %w", optionalAddr, err)
	}

	table := optionalAddr + process.ProcessMemoryAddress(desc.FileHeader.SizeOfOptionalHeader)
	desc.SectionTableOffset = uint64(table - dos.Base)

	count := int(desc.FileHeader.NumberOfSections)
	if maxSections > 0 && count > maxSections {
		count = maxSections
	}
	if count == 0 {
		return desc, nil
	}

	data = as.ZRead(table, process.ProcessMemorySize(count*SectionHeaderSize))
	r := bytes.NewReader(data)
	desc.Sections = make([]SectionRecord, 0, count)
	for i := 0; i < count; i++ {
		var sh IMAGE_SECTION_HEADER
		if err := struc.Unpack(r, &sh); err != nil {
			return nil, fmt.Errorf("decode section header %d: %w", i, err)
		}
		desc.Sections = append(desc.Sections, SectionRecord{
			Index:            i,
			Name:             sectionName(sh.Name),
			VirtualAddress:   sh.VirtualAddress,
			VirtualSize:      sh.VirtualSize,
			SizeOfRawData:    sh.SizeOfRawData,
			PointerToRawData: sh.PointerToRawData,
			HeaderOffset:     table + process.ProcessMemoryAddress(i*SectionHeaderSize),
		})
	}

	return desc, nil
}

// Decode decodes the whole image whose DOS header is at base.
func Decode(as process.AddressSpace, base process.ProcessMemoryAddress, maxSections int) (*ImageDescriptor, error) {
	dos, err := DecodeDosHeader(as, base)
	if err != nil {
		return nil, err
	}
	return DecodeNtHeader(as, dos, maxSections)
}

func (desc *ImageDescriptor) decodeOptionalHeader(data []byte) error {
	// Magic is the first field of both layouts
	magic := uint16(data[0]) | uint16(data[1])<<8
	if magic == IMAGE_NT_OPTIONAL_HDR64_MAGIC {
		var oh IMAGE_OPTIONAL_HEADER64
		if err := struc.Unpack(bytes.NewReader(data), &oh); err != nil {
			return err
		}
		desc.Is64 = true
		desc.SizeOfHeaders = oh.SizeOfHeaders
		desc.SectionAlignment = oh.SectionAlignment
		desc.SizeOfImage = oh.SizeOfImage
		return nil
	}

	var oh IMAGE_OPTIONAL_HEADER32
	if err := struc.Unpack(bytes.NewReader(data), &oh); err != nil {
		return err
	}
	desc.SizeOfHeaders = oh.SizeOfHeaders
	desc.SectionAlignment = oh.SectionAlignment
	desc.SizeOfImage = oh.SizeOfImage
	return nil
}

func sectionName(raw [8]byte) string {
	return strings.TrimRight(string(raw[:]), "\x00")
}
