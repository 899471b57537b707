//go:build linux

package process_linux

import (
	"fmt"
	"os"
	"sync"

	"gopedump/process"
	"gopedump/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// LinuxProcess is a live process read through process_vm_readv. It serves as
// both the process Record and its AddressSpace.
type LinuxProcess struct {
	pid  process.ProcessID
	info *process.ProcessInfo
	log  *logger.Logger
	mm   []memory_map.MemoryMapItem
	mu   sync.Mutex
}

var _ process.Record = (*LinuxProcess)(nil)
var _ process.AddressSpace = (*LinuxProcess)(nil)

// NewWithPID creates a new LinuxProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*LinuxProcess, error) {
	p := &LinuxProcess{}
	err := p.Open(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LinuxProcess) Open(pid process.ProcessID) error {
	info, err := NewProcessFinder().FindProcessByPID(pid)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.pid = pid
	p.info = info
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))
	p.mu.Unlock()

	if err := p.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to initialize memory map: %w", err)
	}

	p.log.Debugln("Process opened:", info.Name)

	return nil
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pid = 0
	p.info = nil
	p.mm = nil

	return nil
}

// GetPID returns the process ID
func (p *LinuxProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *LinuxProcess) GetName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info == nil {
		return ""
	}
	return p.info.Name
}

// GetImageBase returns the base of the first mapped .exe image, falling back
// to the start of the process's own executable mapping.
func (p *LinuxProcess) GetImageBase() process.ProcessMemoryAddress {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range PEModules(p.mm) {
		if hasExt(m.Name, ".exe") {
			return m.Base
		}
	}

	if p.info != nil && p.info.Exe != "" {
		for _, item := range p.mm {
			if item.Path == p.info.Exe && item.Offset == 0 {
				return process.ProcessMemoryAddress(item.Address)
			}
		}
	}
	return 0
}

// GetRecordAddress is the image base; Linux exposes no kernel task record.
func (p *LinuxProcess) GetRecordAddress() process.ProcessMemoryAddress {
	return p.GetImageBase()
}

func (p *LinuxProcess) GetModules() ([]process.Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}
	return PEModules(p.mm), nil
}

func (p *LinuxProcess) GetAddressSpace() (process.AddressSpace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}
	if len(p.mm) == 0 {
		return nil, fmt.Errorf("pid %d has no mappings: %w", p.pid, process.ErrAddressNotMapped)
	}
	return p, nil
}

func (p *LinuxProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return process.ErrProcessNotOpen
	}

	mm, err := memory_map.NewLinuxMemoryMap().ReadMemoryMap(int(p.pid))
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	// FindRegion requires the memory map to be sorted by address
	memory_map.Sort(mm)

	p.mm = mm
	return nil
}

func (p *LinuxProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.isValidAddressInternal(addr)
}

// Internal helper function that assumes the mutex is already locked
func (p *LinuxProcess) isValidAddressInternal(addr process.ProcessMemoryAddress) bool {
	if item := memory_map.FindRegion(uint64(addr), p.mm); item != nil {
		return item.IsReadable()
	}
	return false
}

func (p *LinuxProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	// Make a copy of the memory map to prevent external modification
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)

	return result, nil
}

func procPath(pid process.ProcessID, name string) string {
	return fmt.Sprintf("/proc/%d/%s", pid, name)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
