package main

import (
	"errors"
	"fmt"
	"os"

	"gopedump/dumper"
	"gopedump/hexdump"
	"gopedump/pe"
	"gopedump/process"
	"gopedump/process_blob"
	"gopedump/process_minidump"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
)

func procdumpCommand(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "procdump",
		Short: "Dump the main executable of each process",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.processFilter()
			if err != nil {
				return err
			}

			source, closer, err := opts.openSource()
			if err != nil {
				return err
			}
			defer closer.Close()

			var extra []dumper.Option
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				extra = append(extra, dumper.WithOutput(f))
			}

			return report(opts.newDumper(source, extra...).DumpProcesses(filter))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write images to this file instead of the dump directory")
	return cmd
}

func dlldumpCommand(opts *options) *cobra.Command {
	var regex string

	cmd := &cobra.Command{
		Use:   "dlldump",
		Short: "Dump DLLs from process address spaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.processFilter()
			if err != nil {
				return err
			}
			match, err := dumper.MatchRegexp(regex)
			if err != nil {
				return err
			}

			source, closer, err := opts.openSource()
			if err != nil {
				return err
			}
			defer closer.Close()

			return report(opts.newDumper(source).DumpModules(filter, match))
		},
	}

	cmd.Flags().StringVarP(&regex, "regex", "r", ".+", "Only modules whose name matches")
	return cmd
}

func moddumpCommand(opts *options) *cobra.Command {
	var regex string

	cmd := &cobra.Command{
		Use:   "moddump",
		Short: "Dump kernel drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			match, err := dumper.MatchRegexp(regex)
			if err != nil {
				return err
			}

			source, closer, err := opts.openSource()
			if err != nil {
				return err
			}
			defer closer.Close()

			return report(opts.newDumper(source).DumpDrivers(match))
		},
	}

	cmd.Flags().StringVarP(&regex, "regex", "r", ".+", "Only drivers whose name matches")
	return cmd
}

// imageFlags locate a single image: its base and, optionally, the process
// whose address space holds it.
type imageFlags struct {
	base string
	pid  int
}

func (f *imageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.base, "base", "b", "", "Address of the image's DOS header (hex)")
	cmd.Flags().IntVar(&f.pid, "in-pid", 0, "Read from this process instead of searching every address space")
	cmd.MarkFlagRequired("base")
}

// space finds the address space holding the image. The returned closer
// releases the source.
func (f *imageFlags) space(opts *options) (process.AddressSpace, process.ProcessMemoryAddress, func(), error) {
	base, err := parseAddress(f.base)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("--base: %w", err)
	}

	if opts.raw != "" {
		raw, err := opts.openRaw()
		if err != nil {
			return nil, 0, nil, err
		}
		return raw, base, func() { raw.Close() }, nil
	}

	source, closer, err := opts.openSource()
	if err != nil {
		return nil, 0, nil, err
	}
	release := func() { closer.Close() }

	if f.pid == 0 {
		as := opts.newDumper(source).FindSpace(base)
		if as == nil {
			release()
			return nil, 0, nil, fmt.Errorf("no address space maps %s", base.ToString())
		}
		return as, base, release, nil
	}

	procs, err := source.Processes()
	if err != nil {
		release()
		return nil, 0, nil, err
	}
	for _, p := range procs {
		if int(p.GetPID()) != f.pid {
			continue
		}
		as, err := p.GetAddressSpace()
		if err != nil {
			release()
			return nil, 0, nil, err
		}
		return as, base, release, nil
	}

	release()
	return nil, 0, nil, fmt.Errorf("no process with pid %d", f.pid)
}

func pedumpCommand(opts *options) *cobra.Command {
	var image imageFlags
	var output string

	cmd := &cobra.Command{
		Use:   "pedump",
		Short: "Dump the image at an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			as, base, release, err := image.space(opts)
			if err != nil {
				return err
			}
			defer release()

			f, err := os.Create(output)
			if err != nil {
				return err
			}

			result, err := opts.reconstructor().Reconstruct(as, base, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			if result.Empty {
				fmt.Printf("Nothing readable at %s\n", base.ToString())
				return nil
			}
			fmt.Printf("Dumped %s (%s) to %s: %d bytes, %d sections\n", base.ToString(), result.Mode, output, result.Size, len(result.Sections))
			for _, s := range result.Sections {
				switch {
				case s.Err != nil:
					fmt.Printf("  %-8s skipped: %v\n", s.Name, s.Err)
				case s.Clamped:
					fmt.Printf("  %-8s 0x%x bytes at 0x%x (clamped)\n", s.Name, s.ReadLength, s.WriteOffset)
				default:
					fmt.Printf("  %-8s 0x%x bytes at 0x%x\n", s.Name, s.ReadLength, s.WriteOffset)
				}
			}
			return nil
		},
	}

	image.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write")
	cmd.MarkFlagRequired("output")
	return cmd
}

func headersCommand(opts *options) *cobra.Command {
	var image imageFlags
	var showHex, noColor bool

	cmd := &cobra.Command{
		Use:   "headers",
		Short: "Print the decoded headers of the image at an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			as, base, release, err := image.space(opts)
			if err != nil {
				return err
			}
			defer release()

			desc, err := pe.Decode(as, base, opts.maxSections)
			if err != nil {
				return err
			}

			spew.Fdump(cmd.OutOrStdout(), desc)

			if showHex {
				header := as.ZRead(desc.Base, process.ProcessMemorySize(min(desc.SizeOfHeaders, uint32(opts.maxHeaderSize))))
				table := int(desc.SectionTableOffset)

				o := hexdump.DefaultOptions()
				o.Color = !noColor
				o.StartOffset = uint64(desc.Base)
				o.SkipZeroLines = true
				o.Highlight = []hexdump.Range{{Start: table, End: table + len(desc.Sections)*pe.SectionHeaderSize}}
				hexdump.DumpToWriter(cmd.OutOrStdout(), header, o)
			}
			return nil
		},
	}

	image.register(cmd)
	cmd.Flags().BoolVarP(&showHex, "hexdump", "x", false, "Also hexdump the header block, section table highlighted")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Plain hexdump output")
	return cmd
}

func captureCommand(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Save a live process or a minidump as a process dump directory",
		Long: `capture writes the dump directory format read by --snapshot: a
metadata.json, the memory map and one blob file per region.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case opts.live:
				if len(opts.pids) != 1 {
					return errors.New("capture --live needs exactly one --pid")
				}
				return captureLive(opts.pids[0], output)

			case opts.minidump != "":
				m, err := process_minidump.Open(opts.minidump)
				if err != nil {
					return err
				}
				return captureMinidump(m, output)
			}
			return errors.New("capture needs --live or --minidump")
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory to write the dump to")
	cmd.MarkFlagRequired("output")
	return cmd
}

func captureMinidump(m *process_minidump.MinidumpProcess, dir string) error {
	modules, err := m.GetModules()
	if err != nil {
		return err
	}

	metadata := process_blob.Metadata{
		PID:           m.GetPID(),
		Name:          m.GetName(),
		ImageBase:     m.GetImageBase(),
		RecordAddress: m.GetRecordAddress(),
		Modules:       modules,
	}
	return process_blob.WriteDump(dir, metadata, m.MemoryMap(), m.ReadRegion)
}
