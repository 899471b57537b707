//go:build linux

package process_linux

import (
	"errors"
	"fmt"
	"sync"

	"gopedump/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// LinuxSource enumerates live processes. Linux has no PE kernel, so the
// kernel address space and module list are always empty.
type LinuxSource struct {
	Finder process.ProcessFinder
	PIDs   []process.ProcessID // empty selects every process

	mu     sync.Mutex
	opened map[process.ProcessID]*LinuxProcess
	log    *logger.Logger
}

var _ process.Source = (*LinuxSource)(nil)

func NewSource(pids ...process.ProcessID) *LinuxSource {
	return &LinuxSource{
		Finder: NewProcessFinder(),
		PIDs:   pids,
		opened: make(map[process.ProcessID]*LinuxProcess),
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "linux-source")),
	}
}

// Processes opens every selected process, reusing processes opened by an
// earlier call. Processes that vanish or cannot be opened are left out.
func (s *LinuxSource) Processes() ([]process.Record, error) {
	infos, err := s.selected()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]process.Record, 0, len(infos))
	for _, info := range infos {
		p, ok := s.opened[info.PID]
		if !ok {
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

func (s *LinuxSource) selected() ([]process.ProcessInfo, error) {
	if len(s.PIDs) == 0 {
		return s.Finder.FindAllProcesses()
	}

	var infos []process.ProcessInfo
	for _, pid := range s.PIDs {
		info, err := s.Finder.FindProcessByPID(pid)
		if err != nil {
			return nil, fmt.Errorf("pid %d: %w", pid, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

func (s *LinuxSource) KernelAddressSpace() (process.AddressSpace, error) {
	return nil, nil
}

func (s *LinuxSource) KernelModules() ([]process.Module, error) {
	return nil, nil
}

func (s *LinuxSource) Close() error {
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
