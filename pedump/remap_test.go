package pedump

import (
	"bytes"
	"testing"

	"gopedump/pe"
	"gopedump/pe/petest"
	"gopedump/process_blob"

	"github.com/davecgh/go-spew/spew"
)

// tamperedImage has raw-data fields that no longer describe the file, the
// way a packer or anti-forensic code leaves them after load.
func tamperedImage() petest.Image {
	return petest.Image{
		Lfanew:           0x80,
		SizeOfHeaders:    0x400,
		SectionAlignment: 0x1000,
		SizeOfImage:      0x6000,
		Sections: []petest.Section{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x1800, SizeOfRawData: 0x400, PointerToRawData: 0x400},
			{Name: ".rdata", VirtualAddress: 0x3000, VirtualSize: 0x200, SizeOfRawData: 0x400, PointerToRawData: 0x400},
			{Name: ".data", VirtualAddress: 0x4000, VirtualSize: 0x1234, SizeOfRawData: 0, PointerToRawData: 0},
		},
	}
}

func TestRemapSizes(t *testing.T) {
	img := tamperedImage()
	as := process_blob.NewProcessBlob(0, img.Mapped(0x6000, nil))
	desc, err := pe.Decode(as, 0, pe.DefaultMaxSections)
	if err != nil {
		t.Fatal(err)
	}

	got := remapSizes(desc)
	want := []uint32{0x2000, 0x1000, 0x2000}
	if len(got) != len(want) {
		t.Fatalf("sizes = %#x, want %#x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("size[%d] = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestRemapSizesOutOfOrder(t *testing.T) {
	desc := &pe.ImageDescriptor{
		SectionAlignment: 0x1000,
		Sections: []pe.SectionRecord{
			{VirtualAddress: 0x3000},
			{VirtualAddress: 0x1000, VirtualSize: 0x1000},
		},
	}
	got := remapSizes(desc)
	if got[0] != 0 || got[1] != 0x1000 {
		t.Errorf("sizes = %#x", got)
	}
}

func TestReconstructRemapped(t *testing.T) {
	img := tamperedImage()
	payloads := map[string][]byte{
		".text":  petest.Pattern(0x2000, 0x10),
		".rdata": petest.Pattern(0x1000, 0x20),
		".data":  petest.Pattern(0x2000, 0x30),
	}
	mapped := img.Mapped(0x6000, payloads)
	as := process_blob.NewProcessBlob(0x10000, mapped)

	var out Buffer
	if err := ReconstructRemapped(as, 0x10000, &out); err != nil {
		t.Fatalf("ReconstructRemapped: %v", err)
	}

	// The output is itself a file whose raw layout equals its virtual layout
	file := out.Bytes()
	desc, err := pe.Decode(process_blob.NewProcessBlob(0, file), 0, pe.DefaultMaxSections)
	if err != nil {
		t.Fatal(err)
	}

	wantSizes := []uint32{0x2000, 0x1000, 0x2000}
	for i, section := range desc.Sections {
		original := img.Sections[i]
		if section.PointerToRawData != original.VirtualAddress {
			t.Errorf("%s: PointerToRawData = %#x, want VirtualAddress %#x", section.Name, section.PointerToRawData, original.VirtualAddress)
		}
		if section.SizeOfRawData != wantSizes[i] || section.VirtualSize != wantSizes[i] {
			t.Errorf("%s: sizes = %#x/%#x, want %#x", section.Name, section.SizeOfRawData, section.VirtualSize, wantSizes[i])
		}
		if section.VirtualAddress != original.VirtualAddress {
			t.Errorf("%s: VirtualAddress changed to %#x", section.Name, section.VirtualAddress)
		}

		start := section.PointerToRawData
		if got := file[start : start+wantSizes[i]]; !bytes.Equal(got, mapped[start:start+wantSizes[i]]) {
			t.Errorf("%s: payload at %#x differs from memory", section.Name, start)
		}
	}

	if len(file) != 0x6000 {
		t.Errorf("output is %#x bytes, want 0x6000\n%s", len(file), spew.Sdump(desc))
	}

	// Bytes outside the three patched fields are untouched
	table := img.SectionTableOffset()
	if !bytes.Equal(file[table:table+8], mapped[table:table+8]) {
		t.Errorf("section name was rewritten")
	}
	if !bytes.Equal(file[table+24:table+40], mapped[table+24:table+40]) {
		t.Errorf("section header tail was rewritten")
	}
}
