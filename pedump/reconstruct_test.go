package pedump

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"gopedump/pe"
	"gopedump/pe/petest"
	"gopedump/process"
	"gopedump/process_blob"

	"github.com/davecgh/go-spew/spew"
)

// write is one Seek+Write pair seen by recordingSink.
type write struct {
	offset int64
	length int
}

// recordingSink remembers where writes land without keeping the data.
type recordingSink struct {
	pos    int64
	writes []write
}

func (s *recordingSink) Seek(offset int64, whence int) (int64, error) {
	s.pos = offset
	return offset, nil
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.writes = append(s.writes, write{offset: s.pos, length: len(p)})
	s.pos += int64(len(p))
	return len(p), nil
}

type failingSink struct {
	Buffer
	failAt int64
}

var errDiskFull = errors.New("disk full")

func (s *failingSink) Write(p []byte) (int, error) {
	if s.pos >= s.failAt {
		return 0, errDiskFull
	}
	return s.Buffer.Write(p)
}

// processImage is the layout from the process dump scenario: DOS header at
// 0x1000, e_lfanew 0x80, SizeOfHeaders 0x200 and one section.
func processImage() (petest.Image, []byte) {
	img := petest.Image{
		Lfanew:           0x80,
		SizeOfHeaders:    0x200,
		SectionAlignment: 0x1000,
		SizeOfImage:      0x2000,
		Sections: []petest.Section{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x600, SizeOfRawData: 0x600, PointerToRawData: 0x400},
		},
	}
	pattern := petest.Pattern(0x600, 0x40)
	return img, pattern
}

func TestReconstructProcessScenario(t *testing.T) {
	img, pattern := processImage()
	mapped := img.Mapped(0x2000, map[string][]byte{".text": pattern})
	as := process_blob.NewProcessBlob(0x1000, mapped)

	var out Buffer
	result, err := New().Reconstruct(as, 0x1000, &out)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	got := out.Bytes()
	if len(got) != 0xa00 {
		t.Fatalf("output is %#x bytes, want 0xa00\n%s", len(got), spew.Sdump(result))
	}
	if !bytes.Equal(got[:0x200], mapped[:0x200]) {
		t.Errorf("header block differs from memory")
	}
	if !bytes.Equal(got[0x200:0x400], make([]byte, 0x200)) {
		t.Errorf("gap between header and section is not zero")
	}
	if !bytes.Equal(got[0x400:0xa00], pattern) {
		t.Errorf("section payload differs from memory")
	}
	if result.HeaderLength != 0x200 || result.Size != 0xa00 || len(result.Sections) != 1 {
		t.Errorf("result = %s", spew.Sdump(result))
	}
}

func TestReconstructPackageFunc(t *testing.T) {
	img, pattern := processImage()
	as := process_blob.NewProcessBlob(0x1000, img.Mapped(0x2000, map[string][]byte{".text": pattern}))

	var out Buffer
	if err := Reconstruct(as, 0x1000, &out); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if out.Len() != 0xa00 {
		t.Errorf("output is %#x bytes", out.Len())
	}
}

func TestReconstructClampsToDefaults(t *testing.T) {
	img := petest.Image{
		Lfanew:        0x80,
		SizeOfHeaders: 0x400,
		Sections: []petest.Section{
			{Name: "huge", VirtualAddress: 0x1000, SizeOfRawData: 0xffffffff, PointerToRawData: 0x400},
			{Name: "far", VirtualAddress: 0x2000, SizeOfRawData: 0x10, PointerToRawData: 0xfffffff0},
		},
	}
	mapped := img.Mapped(0x3000, nil)

	// SizeOfHeaders is patched in memory afterwards to exceed the header limit
	sizeOfHeaders := 0x80 + 4 + pe.FileHeaderSize + 60
	copy(mapped[sizeOfHeaders:], []byte{0xff, 0xff, 0xff, 0xff})

	as := process_blob.NewProcessBlob(0, mapped)

	var sink recordingSink
	result, err := New().Reconstruct(as, 0, &sink)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	want := []write{
		{offset: 0, length: DefaultMaxHeaderSize},
		{offset: 0x400, length: DefaultMaxSectionSize},
		{offset: DefaultMaxFileOffset, length: 0x10},
	}
	if len(sink.writes) != len(want) {
		t.Fatalf("writes = %+v, want %+v", sink.writes, want)
	}
	for i := range want {
		if sink.writes[i] != want[i] {
			t.Errorf("write %d = %+v, want %+v", i, sink.writes[i], want[i])
		}
	}
	if !result.Sections[0].Clamped || !result.Sections[1].Clamped {
		t.Errorf("clamped sections not flagged: %s", spew.Sdump(result.Sections))
	}
}

func TestReconstructCustomLimits(t *testing.T) {
	img, pattern := processImage()
	as := process_blob.NewProcessBlob(0x1000, img.Mapped(0x2000, map[string][]byte{".text": pattern}))

	limits := DefaultLimits()
	limits.MaxHeaderSize = 0x100
	limits.MaxSectionSize = 0x80
	limits.MaxFileOffset = 0x300

	var sink recordingSink
	if _, err := New(WithLimits(limits)).Reconstruct(as, 0x1000, &sink); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	want := []write{{0, 0x100}, {0x300, 0x80}}
	if len(sink.writes) != 2 || sink.writes[0] != want[0] || sink.writes[1] != want[1] {
		t.Errorf("writes = %+v, want %+v", sink.writes, want)
	}
}

func TestReconstructRejectOversized(t *testing.T) {
	img := petest.Image{
		Lfanew:        0x80,
		SizeOfHeaders: 0x400,
		Sections: []petest.Section{
			{Name: "ok", VirtualAddress: 0x1000, SizeOfRawData: 0x100, PointerToRawData: 0x400},
			{Name: "bad", VirtualAddress: 0x2000, SizeOfRawData: 0xffffffff, PointerToRawData: 0x500},
		},
	}
	as := process_blob.NewProcessBlob(0, img.Mapped(0x3000, nil))

	limits := DefaultLimits()
	limits.RejectOversized = true

	var sink recordingSink
	result, err := New(WithLimits(limits)).Reconstruct(as, 0, &sink)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(sink.writes) != 2 {
		t.Errorf("writes = %+v, want header and one section", sink.writes)
	}
	if result.Sections[0].Err != nil || !errors.Is(result.Sections[1].Err, ErrSectionRejected) {
		t.Errorf("section results = %s", spew.Sdump(result.Sections))
	}
}

func TestReconstructZeroFillsUnmappedSection(t *testing.T) {
	img := petest.Image{
		Lfanew:        0x80,
		SizeOfHeaders: 0x200,
		Sections: []petest.Section{
			{Name: ".bss", VirtualAddress: 0x8000, SizeOfRawData: 0x300, PointerToRawData: 0x200},
		},
	}
	// Only the headers are mapped; the section's pages are missing
	as := process_blob.NewProcessBlob(0, img.Mapped(0x1000, nil))

	var out Buffer
	if _, err := New().Reconstruct(as, 0, &out); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	got := out.Bytes()
	if len(got) != 0x500 {
		t.Fatalf("output is %#x bytes, want 0x500", len(got))
	}
	if !bytes.Equal(got[0x200:0x500], make([]byte, 0x300)) {
		t.Errorf("unmapped section is not all zero")
	}
}

func TestReconstructIdempotent(t *testing.T) {
	img, pattern := processImage()
	as := process_blob.NewProcessBlob(0x1000, img.Mapped(0x1800, map[string][]byte{".text": pattern}))

	for _, mode := range []Mode{ModeStandard, ModeRemap} {
		var a, b Buffer
		r := New(WithMode(mode))
		if _, err := r.Reconstruct(as, 0x1000, &a); err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if _, err := r.Reconstruct(as, 0x1000, &b); err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if !bytes.Equal(a.Bytes(), b.Bytes()) {
			t.Errorf("%s: two reconstructions differ", mode)
		}
	}
}

func TestReconstructEmptyHeader(t *testing.T) {
	tests := []struct {
		name string
		base uint64
		data []byte
	}{
		{"zero SizeOfHeaders", 0, petest.Image{Lfanew: 0x80}.Mapped(0x1000, nil)},
		{"unmapped base", 0x500000, make([]byte, 0x10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			as := process_blob.NewProcessBlob(0, tt.data)
			var sink recordingSink
			result, err := New().Reconstruct(as, process.ProcessMemoryAddress(tt.base), &sink)
			if err != nil {
				t.Fatalf("Reconstruct: %v", err)
			}
			if !result.Empty {
				t.Errorf("result not marked empty")
			}
			if len(sink.writes) != 0 {
				t.Errorf("sink received writes: %+v", sink.writes)
			}
		})
	}
}

func TestReconstructSinkFailure(t *testing.T) {
	img, pattern := processImage()
	as := process_blob.NewProcessBlob(0x1000, img.Mapped(0x2000, map[string][]byte{".text": pattern}))

	sink := &failingSink{failAt: 0x400}
	_, err := New().Reconstruct(as, 0x1000, sink)
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("err = %v, want %v", err, errDiskFull)
	}
}

func TestReconstructOverlapLastWriteWins(t *testing.T) {
	img := petest.Image{
		Lfanew:        0x80,
		SizeOfHeaders: 0x200,
		Sections: []petest.Section{
			{Name: "a", VirtualAddress: 0x1000, SizeOfRawData: 0x200, PointerToRawData: 0x200},
			{Name: "b", VirtualAddress: 0x2000, SizeOfRawData: 0x100, PointerToRawData: 0x300},
		},
	}
	as := process_blob.NewProcessBlob(0, img.Mapped(0x3000, map[string][]byte{
		"a": bytes.Repeat([]byte{0xaa}, 0x200),
		"b": bytes.Repeat([]byte{0xbb}, 0x100),
	}))

	var out Buffer
	if _, err := New().Reconstruct(as, 0, &out); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	got := out.Bytes()
	if !bytes.Equal(got[0x200:0x300], bytes.Repeat([]byte{0xaa}, 0x100)) || !bytes.Equal(got[0x300:0x400], bytes.Repeat([]byte{0xbb}, 0x100)) {
		t.Errorf("overlapping sections not written in declared order")
	}
}

func TestBufferSparseWrite(t *testing.T) {
	var b Buffer
	b.Write([]byte{1, 2})
	if _, err := b.Seek(6, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	b.Write([]byte{3})
	if !bytes.Equal(b.Bytes(), []byte{1, 2, 0, 0, 0, 0, 3}) {
		t.Errorf("Bytes = %v", b.Bytes())
	}

	b.Truncate()
	b.Seek(3, io.SeekStart)
	b.Write([]byte{9})
	if !bytes.Equal(b.Bytes(), []byte{0, 0, 0, 9}) {
		t.Errorf("reused buffer leaked old bytes: %v", b.Bytes())
	}

	if _, err := b.Seek(-1, io.SeekStart); err == nil {
		t.Errorf("negative seek succeeded")
	}
}

func TestParseMode(t *testing.T) {
	for _, mode := range []Mode{ModeStandard, ModeRemap} {
		if got, err := ParseMode(mode.String()); err != nil || got != mode {
			t.Errorf("ParseMode(%q) = %v, %v", mode.String(), got, err)
		}
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Errorf("ParseMode accepted bogus")
	}
}
