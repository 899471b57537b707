package pedump

import "gopedump/pe"

const (
	DefaultMaxHeaderSize  = 1_000_000
	DefaultMaxSectionSize = 10_000_000
	DefaultMaxFileOffset  = 100_000_000
)

// Limits bounds every size and offset taken from a header before it is used
// for I/O. Headers come from memory an attacker may control.
type Limits struct {
	MaxHeaderSize  uint32
	MaxSectionSize uint32
	MaxFileOffset  uint32
	MaxSections    int

	// RejectOversized skips a section whose declared size or file offset
	// exceeds a limit instead of clamping it.
	RejectOversized bool
}

func DefaultLimits() Limits {
	return Limits{
		MaxHeaderSize:  DefaultMaxHeaderSize,
		MaxSectionSize: DefaultMaxSectionSize,
		MaxFileOffset:  DefaultMaxFileOffset,
		MaxSections:    pe.DefaultMaxSections,
	}
}

// clamp returns min(declared, limit) and whether the limit applied.
func clamp(declared, limit uint32) (uint32, bool) {
	if declared > limit {
		return limit, true
	}
	return declared, false
}

// alignUp rounds v up to a multiple of align, saturating at the uint32 range.
func alignUp(v, align uint32) uint32 {
	if align == 0 || v%align == 0 {
		return v
	}
	up := uint64(v) + uint64(align) - uint64(v%align)
	if up > 0xffffffff {
		return 0xffffffff
	}
	return uint32(up)
}
