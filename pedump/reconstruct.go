// Package pedump rebuilds the on-disk layout of a PE image from its mapped
// copy in memory.
package pedump

import (
	"errors"
	"fmt"
	"io"

	"gopedump/pe"
	"gopedump/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// ErrSectionRejected marks a section skipped under Limits.RejectOversized.
var ErrSectionRejected = errors.New("section exceeds limits")

// Mode selects how section payloads are laid out in the output.
type Mode int

const (
	// ModeStandard writes each section at its declared PointerToRawData.
	ModeStandard Mode = iota

	// ModeRemap writes each section at its VirtualAddress, sized from the
	// distance to the next section, and rewrites the section headers to
	// match.
	ModeRemap
)

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "standard"
	case ModeRemap:
		return "remap"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "standard", "":
		return ModeStandard, nil
	case "remap":
		return ModeRemap, nil
	}
	return ModeStandard, fmt.Errorf("unknown mode %q", s)
}

// SectionResult records what was done with one section.
type SectionResult struct {
	Name        string
	ReadLength  uint32
	WriteOffset uint32
	Clamped     bool
	Err         error // set when the section was skipped
}

// Result summarizes one reconstruction.
type Result struct {
	Base         process.ProcessMemoryAddress
	Mode         Mode
	HeaderLength uint32
	Sections     []SectionResult

	// Empty is set when the header read returned nothing and no output was written.
	Empty bool

	// Size is the end of the furthest write.
	Size int64
}

// Reconstructor turns a mapped image back into a file.
type Reconstructor struct {
	Limits Limits
	Mode   Mode

	log *logger.Logger
}

// Option is a function that configures a Reconstructor
type Option func(*Reconstructor)

func WithLimits(limits Limits) Option {
	return func(r *Reconstructor) {
		r.Limits = limits
	}
}

func WithMode(mode Mode) Option {
	return func(r *Reconstructor) {
		r.Mode = mode
	}
}

func New(options ...Option) *Reconstructor {
	r := &Reconstructor{
		Limits: DefaultLimits(),
		Mode:   ModeStandard,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "pedump")),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Reconstruct writes the image whose DOS header is at base to out using the
// default limits.
func Reconstruct(as process.AddressSpace, base process.ProcessMemoryAddress, out io.WriteSeeker) error {
	_, err := New().Reconstruct(as, base, out)
	return err
}

// ReconstructRemapped is Reconstruct in ModeRemap.
func ReconstructRemapped(as process.AddressSpace, base process.ProcessMemoryAddress, out io.WriteSeeker) error {
	_, err := New(WithMode(ModeRemap)).Reconstruct(as, base, out)
	return err
}

// Reconstruct writes the image whose DOS header is at base to out. Unreadable
// memory is zero filled; only errors from out are returned.
func (r *Reconstructor) Reconstruct(as process.AddressSpace, base process.ProcessMemoryAddress, out io.WriteSeeker) (*Result, error) {
	desc, err := pe.Decode(as, base, r.Limits.MaxSections)
	if err != nil {
		return nil, err
	}

	w := &writer{out: out}
	result := &Result{
		Base: desc.Base,
		Mode: r.Mode,
	}

	// The header block is read from the decoder's resolved base, not the
	// address the caller passed in
	result.HeaderLength = min(r.Limits.MaxHeaderSize, desc.SizeOfHeaders)
	header := as.ZRead(desc.Base, process.ProcessMemorySize(result.HeaderLength))
	if len(header) == 0 {
		r.log.Debugln("Nothing recoverable at", desc.Base.ToString())
		result.Empty = true
		return result, nil
	}

	if err := w.writeAt(0, header); err != nil {
		return result, err
	}

	switch r.Mode {
	case ModeRemap:
		err = r.writeRemapped(as, desc, w, result)
	default:
		err = r.writeSections(as, desc, w, result)
	}

	result.Size = w.size
	return result, err
}

func (r *Reconstructor) writeSections(as process.AddressSpace, desc *pe.ImageDescriptor, w *writer, result *Result) error {
	for _, section := range desc.Sections {
		sr, ok := r.place(section.Name, section.SizeOfRawData, section.PointerToRawData)
		result.Sections = append(result.Sections, sr)
		if !ok {
			continue
		}

		data := as.ZRead(desc.Base.Add(section.VirtualAddress), process.ProcessMemorySize(sr.ReadLength))
		if err := w.writeAt(int64(sr.WriteOffset), data); err != nil {
			return fmt.Errorf("section %q: %w", section.Name, err)
		}
	}
	return nil
}

// place applies the limits to one section's size and file offset. It returns
// false when the section is to be skipped.
func (r *Reconstructor) place(name string, size, offset uint32) (SectionResult, bool) {
	readLength, sizeClamped := clamp(size, r.Limits.MaxSectionSize)
	writeOffset, offsetClamped := clamp(offset, r.Limits.MaxFileOffset)

	sr := SectionResult{
		Name:        name,
		ReadLength:  readLength,
		WriteOffset: writeOffset,
		Clamped:     sizeClamped || offsetClamped,
	}

	if sr.Clamped && r.Limits.RejectOversized {
		sr.Err = fmt.Errorf("section %q: size 0x%x at 0x%x: %w", name, size, offset, ErrSectionRejected)
		r.log.Warn("Skipping section: ", sr.Err)
		return sr, false
	}

	if sr.Clamped {
		r.log.Debugln("Clamped section", name, "size", size, "->", readLength, "offset", offset, "->", writeOffset)
	}

	return sr, true
}

// writer seeks and writes to the sink and remembers how far it got.
type writer struct {
	out  io.WriteSeeker
	size int64
}

func (w *writer) writeAt(offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := w.out.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to 0x%x: %w", offset, err)
	}
	if _, err := w.out.Write(data); err != nil {
		return fmt.Errorf("write %d bytes at 0x%x: %w", len(data), offset, err)
	}
	if end := offset + int64(len(data)); end > w.size {
		w.size = end
	}
	return nil
}
