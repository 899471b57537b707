package pe

import "encoding/binary"

// Field locates one fixed-width little-endian field inside a raw header.
type Field struct {
	Name   string
	Offset int
	Width  int
}

// Section header fields rewritten when remapping.
var (
	FieldVirtualSize      = Field{Name: "Misc.VirtualSize", Offset: 8, Width: 4}
	FieldVirtualAddress   = Field{Name: "VirtualAddress", Offset: 12, Width: 4}
	FieldSizeOfRawData    = Field{Name: "SizeOfRawData", Offset: 16, Width: 4}
	FieldPointerToRawData = Field{Name: "PointerToRawData", Offset: 20, Width: 4}
)

// Pack encodes value at the field's width. Wider values are truncated.
func (f Field) Pack(value uint64) []byte {
	out := make([]byte, f.Width)
	switch f.Width {
	case 1:
		out[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(out, value)
	}
	return out
}

// Get reads the field out of header.
func (f Field) Get(header []byte) uint64 {
	if f.Offset+f.Width > len(header) {
		return 0
	}
	b := header[f.Offset : f.Offset+f.Width]
	switch f.Width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// ReplaceField returns prefix + packed value + suffix. The input is not
// modified; a header too short to hold the field comes back unchanged.
func ReplaceField(header []byte, f Field, value uint64) []byte {
	end := f.Offset + f.Width
	if f.Offset < 0 || end > len(header) {
		return append([]byte(nil), header...)
	}

	result := make([]byte, 0, len(header))
	result = append(result, header[:f.Offset]...)
	result = append(result, f.Pack(value)...)
	result = append(result, header[end:]...)
	return result
}
