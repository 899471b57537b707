package pedump

import (
	"fmt"

	"gopedump/pe"
	"gopedump/process"
)

// remapSizes sizes every section by the distance to the next one. The last
// section gets its virtual size rounded up to the section alignment.
func remapSizes(desc *pe.ImageDescriptor) []uint32 {
	sizes := make([]uint32, len(desc.Sections))
	for i := 0; i+1 < len(desc.Sections); i++ {
		this, next := desc.Sections[i].VirtualAddress, desc.Sections[i+1].VirtualAddress
		if next < this {
			// tampered table, sections out of order
			continue
		}
		sizes[i] = next - this
	}
	if n := len(desc.Sections); n > 0 {
		sizes[n-1] = alignUp(desc.Sections[n-1].VirtualSize, desc.SectionAlignment)
	}
	return sizes
}

// writeRemapped lays every section out at its virtual address and then
// re-emits the section table with PointerToRawData, SizeOfRawData and
// VirtualSize rewritten to match. The table goes last so that it wins over
// any payload overlapping the header area.
func (r *Reconstructor) writeRemapped(as process.AddressSpace, desc *pe.ImageDescriptor, w *writer, result *Result) error {
	sizes := remapSizes(desc)

	for i, section := range desc.Sections {
		sr, ok := r.place(section.Name, sizes[i], section.VirtualAddress)
		result.Sections = append(result.Sections, sr)
		if !ok {
			continue
		}

		data := as.ZRead(desc.Base.Add(section.VirtualAddress), process.ProcessMemorySize(sr.ReadLength))
		if err := w.writeAt(int64(sr.WriteOffset), data); err != nil {
			return fmt.Errorf("section %q: %w", section.Name, err)
		}
	}

	for i, section := range desc.Sections {
		header := as.ZRead(section.HeaderOffset, pe.SectionHeaderSize)
		header = pe.ReplaceField(header, pe.FieldPointerToRawData, uint64(section.VirtualAddress))
		header = pe.ReplaceField(header, pe.FieldSizeOfRawData, uint64(sizes[i]))
		header = pe.ReplaceField(header, pe.FieldVirtualSize, uint64(sizes[i]))

		position := desc.SectionTableOffset + uint64(i*pe.SectionHeaderSize)
		if position+pe.SectionHeaderSize > uint64(r.Limits.MaxFileOffset) {
			r.log.Warn("Section table entry out of range: ", fmt.Sprintf("%d at 0x%x", i, position))
			continue
		}

		if err := w.writeAt(int64(position), header); err != nil {
			return fmt.Errorf("section header %d: %w", i, err)
		}
	}

	return nil
}
