// Package pe decodes the PE structures the reconstructor needs out of an
// address space: the DOS header, the NT headers and the section table.
package pe

const (
	IMAGE_DOS_SIGNATURE = 0x5A4D
	IMAGE_NT_SIGNATURE  = 0x00004550

	IMAGE_NT_OPTIONAL_HDR32_MAGIC = 0x10b
	IMAGE_NT_OPTIONAL_HDR64_MAGIC = 0x20b

	DosHeaderSize     = 64
	FileHeaderSize    = 20
	SectionHeaderSize = 40

	// offset of IMAGE_FILE_HEADER inside IMAGE_NT_HEADERS
	fileHeaderOffset = 4
)

type IMAGE_DOS_HEADER struct {
	Magic    uint16     `struc:"uint16,little"`
	Cblp     uint16     `struc:"uint16,little"`
	Cp       uint16     `struc:"uint16,little"`
	Crlc     uint16     `struc:"uint16,little"`
	Cparhdr  uint16     `struc:"uint16,little"`
	Minalloc uint16     `struc:"uint16,little"`
	Maxalloc uint16     `struc:"uint16,little"`
	Ss       uint16     `struc:"uint16,little"`
	Sp       uint16     `struc:"uint16,little"`
	Csum     uint16     `struc:"uint16,little"`
	Ip       uint16     `struc:"uint16,little"`
	Cs       uint16     `struc:"uint16,little"`
	Lfarlc   uint16     `struc:"uint16,little"`
	Ovno     uint16     `struc:"uint16,little"`
	Res      [4]uint16  `struc:"[4]uint16,little"`
	Oemid    uint16     `struc:"uint16,little"`
	Oeminfo  uint16     `struc:"uint16,little"`
	Res2     [10]uint16 `struc:"[10]uint16,little"`
	Lfanew   int32      `struc:"int32,little"` // File address of new exe header
}

type IMAGE_FILE_HEADER struct {
	Machine              uint16 `struc:"uint16,little"`
	NumberOfSections     uint16 `struc:"uint16,little"`
	TimeDateStamp        uint32 `struc:"uint32,little"`
	PointerToSymbolTable uint32 `struc:"uint32,little"`
	NumberOfSymbols      uint32 `struc:"uint32,little"`
	SizeOfOptionalHeader uint16 `struc:"uint16,little"`
	Characteristics      uint16 `struc:"uint16,little"`
}

// IMAGE_OPTIONAL_HEADER32 is the PE32 optional header up to CheckSum, which is
// everything the reconstructor looks at.
type IMAGE_OPTIONAL_HEADER32 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          byte   `struc:"byte"`
	MinorLinkerVersion          byte   `struc:"byte"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	BaseOfData                  uint32 `struc:"uint32,little"`
	ImageBase                   uint32 `struc:"uint32,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
}

// IMAGE_OPTIONAL_HEADER64 is the PE32+ optional header up to CheckSum.
type IMAGE_OPTIONAL_HEADER64 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          byte   `struc:"byte"`
	MinorLinkerVersion          byte   `struc:"byte"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	ImageBase                   uint64 `struc:"uint64,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
}

// optionalHeaderPrefixSize is the decoded length of both optional header structs.
const optionalHeaderPrefixSize = 68

type IMAGE_SECTION_HEADER struct {
	Name                 [8]byte `struc:"[8]byte"`
	VirtualSize          uint32  `struc:"uint32,little"` // Misc.VirtualSize
	VirtualAddress       uint32  `struc:"uint32,little"`
	SizeOfRawData        uint32  `struc:"uint32,little"`
	PointerToRawData     uint32  `struc:"uint32,little"`
	PointerToRelocations uint32  `struc:"uint32,little"`
	PointerToLinenumbers uint32  `struc:"uint32,little"`
	NumberOfRelocations  uint16  `struc:"uint16,little"`
	NumberOfLinenumbers  uint16  `struc:"uint16,little"`
	Characteristics      uint32  `struc:"uint32,little"`
}
