package process_blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopedump/process"
)

const (
	KernelDirname    = "kernel"
	ProcessesDirname = "processes"
)

// Snapshot is a capture of several processes and, optionally, the kernel.
//
// Layout on disk:
//
//	<root>/kernel/       dump directory; its modules are the loaded drivers
//	<root>/processes/*/  one dump directory per process
//
// A plain dump directory is also accepted as a single-process snapshot.
type Snapshot struct {
	Kernel    *ProcessDump
	Dumps     []*ProcessDump
	Directory string
}

var _ process.Source = (*Snapshot)(nil)

// LoadSnapshot loads every dump found under root.
func LoadSnapshot(root string) (*Snapshot, error) {
	s := &Snapshot{Directory: root}

	if _, err := os.Stat(filepath.Join(root, MetadataFilename)); err == nil {
		dump, err := LoadProcessDump(root)
		if err != nil {
			return nil, err
		}
		s.Dumps = append(s.Dumps, dump)
		return s, nil
	}

	kernelDir := filepath.Join(root, KernelDirname)
	if _, err := os.Stat(kernelDir); err == nil {
		kernel, err := LoadProcessDump(kernelDir)
		if err != nil {
			return nil, fmt.Errorf("kernel: %w", err)
		}
		s.Kernel = kernel
	}

	entries, err := os.ReadDir(filepath.Join(root, ProcessesDirname))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.Close()
		return nil, fmt.Errorf("failed to read processes: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dump, err := LoadProcessDump(filepath.Join(root, ProcessesDirname, entry.Name()))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("process %s: %w", entry.Name(), err)
		}
		s.Dumps = append(s.Dumps, dump)
	}

	sort.SliceStable(s.Dumps, func(i, j int) bool {
		return s.Dumps[i].PID < s.Dumps[j].PID
	})

	if s.Kernel == nil && len(s.Dumps) == 0 {
		return nil, fmt.Errorf("%s: no dumps found", root)
	}

	return s, nil
}

func (s *Snapshot) Processes() ([]process.Record, error) {
	records := make([]process.Record, 0, len(s.Dumps))
	for _, dump := range s.Dumps {
		records = append(records, dump)
	}
	return records, nil
}

func (s *Snapshot) KernelAddressSpace() (process.AddressSpace, error) {
	if s.Kernel == nil {
		return nil, nil
	}
	return s.Kernel.GetAddressSpace()
}

func (s *Snapshot) KernelModules() ([]process.Module, error) {
	if s.Kernel == nil {
		return nil, nil
	}
	return s.Kernel.Modules, nil
}

func (s *Snapshot) Close() error {
	var errs []error
	if s.Kernel != nil {
		errs = append(errs, s.Kernel.Close())
	}
	for _, dump := range s.Dumps {
		errs = append(errs, dump.Close())
	}
	return errors.Join(errs...)
}
