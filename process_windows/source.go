//go:build windows

package process_windows

import (
	"errors"
	"fmt"
	"sync"

	"gopedump/process"
	"gopedump/process/memory_map"
	"gopedump/process_blob"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// WindowsSource enumerates live processes. Kernel memory is out of reach from
// user mode, so the kernel address space and driver list are always empty.
type WindowsSource struct {
	Finder process.ProcessFinder
	PIDs   []process.ProcessID // empty selects every process

	mu     sync.Mutex
	opened map[process.ProcessID]*WindowsProcess
	log    *logger.Logger
}

var _ process.Source = (*WindowsSource)(nil)

func NewSource(pids ...process.ProcessID) *WindowsSource {
	return &WindowsSource{
		Finder: NewProcessFinder(),
		PIDs:   pids,
		opened: make(map[process.ProcessID]*WindowsProcess),
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "windows-source")),
	}
}

// Processes opens every selected process that grants read access.
func (s *WindowsSource) Processes() ([]process.Record, error) {
	var infos []process.ProcessInfo
	if len(s.PIDs) == 0 {
		all, err := s.Finder.FindAllProcesses()
		if err != nil {
			return nil, err
		}
		infos = all
	} else {
		for _, pid := range s.PIDs {
			info, err := s.Finder.FindProcessByPID(pid)
			if err != nil {
				return nil, fmt.Errorf("pid %d: %w", pid, err)
			}
			infos = append(infos, *info)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]process.Record, 0, len(infos))
	for _, info := range infos {
		p, ok := s.opened[info.PID]
		if !ok {
			var err error
			p, err = NewWithPID(info.PID)
			if err != nil {
				s.log.Debugln("Skipping pid", info.PID, ":", err)
				continue
			}
			s.opened[info.PID] = p
		}
		records = append(records, p)
	}
	return records, nil
}

func (s *WindowsSource) KernelAddressSpace() (process.AddressSpace, error) {
	return nil, nil
}

func (s *WindowsSource) KernelModules() ([]process.Module, error) {
	return nil, nil
}

func (s *WindowsSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for pid, p := range s.opened {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.opened, pid)
	}
	return errors.Join(errs...)
}

// Save captures the process's readable memory into a process dump directory.
func (p *WindowsProcess) Save(dirname string) error {
	if err := p.UpdateMemoryMap(); err != nil {
		return err
	}

	modules, err := p.GetModules()
	if err != nil {
		return err
	}
	mm, err := p.GetMemoryMap()
	if err != nil {
		return err
	}

	metadata := process_blob.Metadata{
		PID:           p.GetPID(),
		Name:          p.GetName(),
		ImageBase:     p.GetImageBase(),
		RecordAddress: p.GetRecordAddress(),
		Modules:       modules,
	}

	p.log.Infoln("Saving process to directory:", dirname)

	return process_blob.WriteDump(dirname, metadata, mm, func(region memory_map.MemoryMapItem) ([]byte, error) {
		if !region.IsReadable() {
			return nil, fmt.Errorf("region not readable (perms: %s)", region.Perms)
		}
		return p.ZRead(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size)), nil
	})
}
