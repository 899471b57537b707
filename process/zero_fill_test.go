package process

import (
	"bytes"
	"testing"
)

// pagedReader serves a pattern for every page except the ones listed in holes.
type pagedReader struct {
	holes map[uint64]bool
	calls int
}

func (r *pagedReader) ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error) {
	r.calls++
	for a := uint64(addr) &^ (PageSize - 1); a < uint64(addr)+uint64(size); a += PageSize {
		if r.holes[a/PageSize] {
			return nil, ErrAddressNotMapped
		}
	}
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(uint64(addr)+uint64(i)) | 1
	}
	return out, nil
}

func TestZeroFillFullyMapped(t *testing.T) {
	r := &pagedReader{}
	data := ZeroFill(r, 0x1000, 0x2000)
	if len(data) != 0x2000 {
		t.Fatalf("got %d bytes, want %d", len(data), 0x2000)
	}
	if r.calls != 1 {
		t.Errorf("mapped range took %d reads, want 1", r.calls)
	}
	if data[0] != 0x01 || data[0x1fff] != 0xff {
		t.Errorf("unexpected pattern: %x %x", data[0], data[0x1fff])
	}
}

func TestZeroFillHole(t *testing.T) {
	r := &pagedReader{holes: map[uint64]bool{2: true}}
	data := ZeroFill(r, 0x1800, 0x2000)
	if len(data) != 0x2000 {
		t.Fatalf("got %d bytes, want %d", len(data), 0x2000)
	}

	// [0x1800,0x2000) mapped, [0x2000,0x3000) hole, [0x3000,0x3800) mapped
	if !bytes.Equal(data[0x800:0x1800], make([]byte, 0x1000)) {
		t.Errorf("hole page was not zero filled")
	}
	if data[0] == 0 || data[0x7ff] == 0 || data[0x1800] == 0 || data[0x1fff] == 0 {
		t.Errorf("mapped pages lost their contents")
	}
}

func TestZeroFillDeterministic(t *testing.T) {
	r := &pagedReader{holes: map[uint64]bool{0x10: true, 0x11: true}}
	a := ZeroFill(r, 0x10000, 0x2000)
	b := ZeroFill(r, 0x10000, 0x2000)
	if !bytes.Equal(a, make([]byte, 0x2000)) {
		t.Fatalf("unmapped range is not all zero")
	}
	if !bytes.Equal(a, b) {
		t.Errorf("two reads of the same unmapped range differ")
	}
}

func TestZeroFillEmpty(t *testing.T) {
	r := &pagedReader{}
	if data := ZeroFill(r, 0x1000, 0); len(data) != 0 {
		t.Errorf("got %d bytes for an empty read", len(data))
	}
	if r.calls != 0 {
		t.Errorf("empty read touched the reader")
	}
}
