// Package dumper picks the PE images to reconstruct out of a memory source and
// writes each one to its own file.
package dumper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopedump/pedump"
	"gopedump/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	ErrNoDumpDir    = errors.New("please specify a dump directory")
	ErrNotDirectory = errors.New("dump directory is not a directory")
)

var separator = strings.Repeat("*", 72)

// Summary counts what happened to the targets of one run.
type Summary struct {
	Dumped  int
	Skipped int
	Failed  int
}

// Dumper selects targets from a Source and reconstructs them.
type Dumper struct {
	Source        process.Source
	DumpDir       string
	Reconstructor *pedump.Reconstructor

	// Output, when set, receives every process image instead of per-process
	// files in DumpDir. Each image is written from offset 0.
	Output io.WriteSeeker

	// Diagnostics receives one line per target.
	Diagnostics io.Writer

	spaces []process.AddressSpace
	built  bool

	log *logger.Logger
}

// Option is a function that configures a Dumper
type Option func(*Dumper)

func WithDumpDir(dir string) Option {
	return func(d *Dumper) {
		d.DumpDir = dir
	}
}

func WithOutput(out io.WriteSeeker) Option {
	return func(d *Dumper) {
		d.Output = out
	}
}

func WithDiagnostics(w io.Writer) Option {
	return func(d *Dumper) {
		d.Diagnostics = w
	}
}

func WithReconstructor(r *pedump.Reconstructor) Option {
	return func(d *Dumper) {
		d.Reconstructor = r
	}
}

func New(source process.Source, options ...Option) *Dumper {
	d := &Dumper{
		Source:      source,
		Diagnostics: io.Discard,
		log:         logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "dumper")),
	}

	for _, opt := range options {
		opt(d)
	}

	if d.Reconstructor == nil {
		d.Reconstructor = pedump.New()
	}

	return d
}

// CheckDumpDir verifies DumpDir is set and is an existing directory.
func (d *Dumper) CheckDumpDir() error {
	if d.DumpDir == "" {
		return ErrNoDumpDir
	}

	fi, err := os.Stat(d.DumpDir)
	if err != nil {
		return fmt.Errorf("%s: %w", d.DumpDir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: %w", d.DumpDir, ErrNotDirectory)
	}
	return nil
}

// DumpProcesses reconstructs the main image of every process filter keeps.
// Failures of individual targets are joined into the returned error; the run
// carries on past them.
func (d *Dumper) DumpProcesses(filter ProcessFilter) (*Summary, error) {
	if filter == nil {
		filter = AllProcesses
	}
	if d.Output == nil {
		if err := d.CheckDumpDir(); err != nil {
			return nil, err
		}
	}

	procs, err := d.Source.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	summary := &Summary{}
	var errs []error
	for _, proc := range procs {
		if !filter(proc) {
			continue
		}

		as, err := proc.GetAddressSpace()
		if err != nil || as == nil {
			d.log.Debugln("No address space for pid", proc.GetPID(), err)
			d.diag("Can not get task address space - skipping.")
			summary.Skipped++
			continue
		}

		target := Target{
			Kind:  TargetProcess,
			PID:   proc.GetPID(),
			Name:  proc.GetName(),
			Base:  proc.GetImageBase(),
			Space: as,
		}

		d.diag(separator)
		if d.Output != nil {
			d.diagf("Dumping %s, pid: %6d into user provided fd.", target.Name, target.PID)
			err = d.dumpTo(target, d.Output)
		} else {
			filename := filepath.Join(d.DumpDir, target.Filename())
			d.diagf("Dumping %s, pid: %6d output: %s", target.Name, target.PID, filename)
			err = d.dumpToFile(target, filename)
		}

		if err != nil {
			errs = append(errs, err)
			summary.Failed++
			continue
		}
		summary.Dumped++
	}

	return summary, errors.Join(errs...)
}

// DumpModules reconstructs every module whose name matches in every process
// filter keeps.
func (d *Dumper) DumpModules(filter ProcessFilter, match NameMatcher) (*Summary, error) {
	if filter == nil {
		filter = AllProcesses
	}
	if match == nil {
		match = MatchAll
	}
	if err := d.CheckDumpDir(); err != nil {
		return nil, err
	}

	procs, err := d.Source.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	summary := &Summary{}
	var errs []error
	for _, proc := range procs {
		if !filter(proc) {
			continue
		}

		as, err := proc.GetAddressSpace()
		if err != nil || as == nil {
			d.log.Debugln("No address space for pid", proc.GetPID(), err)
			d.diag("Can not get task address space - skipping.")
			summary.Skipped++
			continue
		}

		modules, err := proc.GetModules()
		if err != nil {
			d.log.Warn("Module list for pid ", proc.GetPID(), ": ", err)
			summary.Skipped++
			continue
		}

		for _, module := range modules {
			if !match(module.Name) {
				continue
			}

			offset, ok := as.Translate(proc.GetRecordAddress())
			if !ok {
				d.diagf("Cannot dump %s@%s at %8x", proc.GetName(), module.Name, uint64(module.Base))
				summary.Skipped++
				continue
			}

			target := Target{
				Kind:          TargetModule,
				PID:           proc.GetPID(),
				ProcessName:   proc.GetName(),
				ProcessOffset: offset,
				Name:          module.Name,
				Base:          module.Base,
				Space:         as,
			}

			d.diagf("Dumping %s, Process: %s, Base: %8x output: %s", target.Name, target.ProcessName, uint64(target.Base), target.Filename())
			if err := d.dumpToFile(target, filepath.Join(d.DumpDir, target.Filename())); err != nil {
				errs = append(errs, err)
				summary.Failed++
				continue
			}
			summary.Dumped++
		}
	}

	return summary, errors.Join(errs...)
}

// DumpDrivers reconstructs every kernel module whose name matches, reading it
// from the first address space that maps its base.
func (d *Dumper) DumpDrivers(match NameMatcher) (*Summary, error) {
	if match == nil {
		match = MatchAll
	}
	if err := d.CheckDumpDir(); err != nil {
		return nil, err
	}

	modules, err := d.Source.KernelModules()
	if err != nil {
		return nil, fmt.Errorf("list kernel modules: %w", err)
	}

	summary := &Summary{}
	var errs []error
	for _, module := range modules {
		if !match(module.Name) {
			continue
		}

		as := d.FindSpace(module.Base)
		if as == nil {
			d.diagf("Cannot find a viable address space for %s at %8x - skipping.", module.Name, uint64(module.Base))
			summary.Skipped++
			continue
		}

		target := Target{
			Kind:  TargetDriver,
			Name:  module.Name,
			Base:  module.Base,
			Space: as,
		}

		d.diagf("Dumping %s, Base: %8x output: %s", target.Name, uint64(target.Base), target.Filename())
		if err := d.dumpToFile(target, filepath.Join(d.DumpDir, target.Filename())); err != nil {
			errs = append(errs, err)
			summary.Failed++
			continue
		}
		summary.Dumped++
	}

	return summary, errors.Join(errs...)
}

// FindSpace returns the first candidate address space in which base is
// valid, or nil. Candidates are the kernel space followed by every process
// space in enumeration order, collected on first use.
func (d *Dumper) FindSpace(base process.ProcessMemoryAddress) process.AddressSpace {
	for _, as := range d.addressSpaces() {
		if as.IsValidAddress(base) {
			return as
		}
	}
	return nil
}

func (d *Dumper) addressSpaces() []process.AddressSpace {
	if d.built {
		return d.spaces
	}
	d.built = true

	kernel, err := d.Source.KernelAddressSpace()
	if err != nil {
		d.log.Warn("Kernel address space: ", err)
	} else if kernel != nil {
		d.spaces = append(d.spaces, kernel)
	}

	procs, err := d.Source.Processes()
	if err != nil {
		d.log.Warn("List processes: ", err)
		return d.spaces
	}
	for _, proc := range procs {
		as, err := proc.GetAddressSpace()
		if err != nil || as == nil {
			continue
		}
		d.spaces = append(d.spaces, as)
	}

	d.log.Debugln("Collected", len(d.spaces), "candidate address spaces")
	return d.spaces
}

// Dump reconstructs a single target into DumpDir.
func (d *Dumper) Dump(target Target) error {
	if err := d.CheckDumpDir(); err != nil {
		return err
	}
	return d.dumpToFile(target, filepath.Join(d.DumpDir, target.Filename()))
}

func (d *Dumper) dumpToFile(target Target, filename string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("%s %s: %w", target.Kind, target.Name, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%s %s: %w", target.Kind, target.Name, cerr)
		}
	}()

	return d.dumpTo(target, f)
}

func (d *Dumper) dumpTo(target Target, out io.WriteSeeker) error {
	result, err := d.Reconstructor.Reconstruct(target.Space, target.Base, out)
	if err != nil {
		d.log.Warn("Failed to dump ", target.Kind, " ", target.Name, ": ", err)
		return fmt.Errorf("%s %s at %s: %w", target.Kind, target.Name, target.Base.ToString(), err)
	}

	if result.Empty {
		d.log.Debugln("Nothing recovered for", target.Kind, target.Name, "at", target.Base.ToString())
	} else {
		d.log.Infoln("Dumped", target.Kind, target.Name, "at", target.Base.ToString(), "size", result.Size)
	}
	return nil
}

func (d *Dumper) diag(line string) {
	fmt.Fprintln(d.Diagnostics, line)
}

func (d *Dumper) diagf(format string, args ...any) {
	fmt.Fprintf(d.Diagnostics, format+"\n", args...)
}
