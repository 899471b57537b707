package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopedump/dumper"
	"gopedump/pedump"
	"gopedump/process"
	"gopedump/process_blob"
	"gopedump/process_minidump"

	"github.com/edsrzf/mmap-go"
	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"
)

// options are the flags shared by every subcommand.
type options struct {
	snapshot string
	minidump string
	raw      string
	rawBase  string
	live     bool

	pids []int
	name string

	dumpDir         string
	maxHeaderSize   int
	maxSectionSize  int
	maxFileOffset   int
	maxSections     int
	rejectOversized bool
	mode            string
}

func (o *options) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringVar(&o.snapshot, "snapshot", "", "Snapshot directory (kernel/ and processes/*/ dumps, or a single process dump)")
	flags.StringVar(&o.minidump, "minidump", "", "Windows minidump file")
	flags.StringVar(&o.raw, "raw", "", "Raw memory file, mapped at --raw-base (pedump and headers only)")
	flags.StringVar(&o.rawBase, "raw-base", "0", "Address of the first byte of --raw (hex)")
	flags.BoolVar(&o.live, "live", false, "Read live processes (Linux or Windows)")

	flags.IntSliceVar(&o.pids, "pid", nil, "Only these process IDs")
	flags.StringVar(&o.name, "name", "", "Only processes whose name matches this regular expression")

	flags.StringVarP(&o.dumpDir, "dump-dir", "D", env.Str("PEDUMP_DUMP_DIR"), "Directory to write dumped files to [PEDUMP_DUMP_DIR]")
	flags.IntVar(&o.maxHeaderSize, "max-header-size", env.Int("PEDUMP_MAX_HEADER_SIZE", pedump.DefaultMaxHeaderSize), "Largest header block copied [PEDUMP_MAX_HEADER_SIZE]")
	flags.IntVar(&o.maxSectionSize, "max-section-size", env.Int("PEDUMP_MAX_SECTION_SIZE", pedump.DefaultMaxSectionSize), "Largest section copied [PEDUMP_MAX_SECTION_SIZE]")
	flags.IntVar(&o.maxFileOffset, "max-file-offset", env.Int("PEDUMP_MAX_FILE_OFFSET", pedump.DefaultMaxFileOffset), "Highest file offset written [PEDUMP_MAX_FILE_OFFSET]")
	flags.IntVar(&o.maxSections, "max-sections", pedump.DefaultLimits().MaxSections, "Most section headers decoded")
	flags.BoolVar(&o.rejectOversized, "reject-oversized", false, "Skip sections over the limits instead of truncating them")
	flags.StringVar(&o.mode, "mode", "standard", "Section layout: standard or remap")
}

func (o *options) validate() error {
	sources := 0
	for _, set := range []bool{o.snapshot != "", o.minidump != "", o.raw != "", o.live} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return errors.New("choose one of --snapshot, --minidump, --raw and --live")
	}

	for name, v := range map[string]int{
		"--max-header-size":  o.maxHeaderSize,
		"--max-section-size": o.maxSectionSize,
		"--max-file-offset":  o.maxFileOffset,
		"--max-sections":     o.maxSections,
	} {
		if v < 0 || int64(v) > int64(^uint32(0)) {
			return fmt.Errorf("%s: %d out of range", name, v)
		}
	}

	_, err := pedump.ParseMode(o.mode)
	return err
}

func (o *options) reconstructor() *pedump.Reconstructor {
	mode, _ := pedump.ParseMode(o.mode)
	return pedump.New(
		pedump.WithMode(mode),
		pedump.WithLimits(pedump.Limits{
			MaxHeaderSize:   uint32(o.maxHeaderSize),
			MaxSectionSize:  uint32(o.maxSectionSize),
			MaxFileOffset:   uint32(o.maxFileOffset),
			MaxSections:     o.maxSections,
			RejectOversized: o.rejectOversized,
		}),
	)
}

func (o *options) processFilter() (dumper.ProcessFilter, error) {
	pids := make([]process.ProcessID, 0, len(o.pids))
	for _, pid := range o.pids {
		pids = append(pids, process.ProcessID(pid))
	}
	filters := []dumper.ProcessFilter{dumper.PIDFilter(pids...)}

	if o.name != "" {
		match, err := dumper.MatchRegexp(o.name)
		if err != nil {
			return nil, fmt.Errorf("--name: %w", err)
		}
		filters = append(filters, dumper.NameFilter(match))
	}
	return dumper.AndFilter(filters...), nil
}

// openSource opens the memory source the flags select. The returned closer
// releases it.
func (o *options) openSource() (process.Source, io.Closer, error) {
	switch {
	case o.snapshot != "":
		s, err := process_blob.LoadSnapshot(o.snapshot)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case o.minidump != "":
		m, err := process_minidump.Open(o.minidump)
		if err != nil {
			return nil, nil, err
		}
		return m, closerFunc(func() error { return nil }), nil

	case o.live:
		return openLiveSource(o.pids)

	case o.raw != "":
		return nil, nil, errors.New("--raw holds no process list; use pedump or headers")
	}
	return nil, nil, errors.New("no memory source: use --snapshot, --minidump, --raw or --live")
}

func (o *options) newDumper(source process.Source, extra ...dumper.Option) *dumper.Dumper {
	opts := []dumper.Option{
		dumper.WithDumpDir(o.dumpDir),
		dumper.WithDiagnostics(os.Stdout),
		dumper.WithReconstructor(o.reconstructor()),
	}
	return dumper.New(source, append(opts, extra...)...)
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

// rawSpace maps the --raw file as a flat address space.
type rawSpace struct {
	*process_blob.ProcessBlob
	m mmap.MMap
}

func (r *rawSpace) Close() error {
	return r.m.Unmap()
}

func (o *options) openRaw() (*rawSpace, error) {
	base, err := parseAddress(o.rawBase)
	if err != nil {
		return nil, fmt.Errorf("--raw-base: %w", err)
	}

	f, err := os.Open(o.raw)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", o.raw, err)
	}
	return &rawSpace{ProcessBlob: process_blob.NewProcessBlob(base, m), m: m}, nil
}

func parseAddress(s string) (process.ProcessMemoryAddress, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return process.ProcessMemoryAddress(v), nil
}

func report(summary *dumper.Summary, err error) error {
	if summary != nil {
		fmt.Printf("%d dumped, %d skipped, %d failed\n", summary.Dumped, summary.Skipped, summary.Failed)
	}
	return err
}
