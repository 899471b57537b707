//go:build windows

package process_windows

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"gopedump/process"
	"gopedump/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"
)

const processAccess = windows.PROCESS_VM_READ | windows.PROCESS_QUERY_INFORMATION

// WindowsProcess is a live process read with ReadProcessMemory. It serves as
// both the process Record and its AddressSpace.
type WindowsProcess struct {
	pid     process.ProcessID
	name    string
	handle  windows.Handle
	log     *logger.Logger
	mm      []memory_map.MemoryMapItem
	modules []process.Module
	mu      sync.Mutex
}

var _ process.Record = (*WindowsProcess)(nil)
var _ process.AddressSpace = (*WindowsProcess)(nil)

// NewWithPID creates a new WindowsProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*WindowsProcess, error) {
	p := &WindowsProcess{}
	err := p.Open(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *WindowsProcess) Open(pid process.ProcessID) error {
	handle, err := windows.OpenProcess(processAccess, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("OpenProcess %d: %w", pid, err)
	}

	modules, err := listModules(pid)
	if err != nil {
		windows.CloseHandle(handle)
		return fmt.Errorf("list modules of %d: %w", pid, err)
	}

	p.mu.Lock()
	p.pid = pid
	p.handle = handle
	p.modules = modules
	if len(modules) > 0 {
		p.name = modules[0].Name
	}
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))
	p.mu.Unlock()

	if err := p.UpdateMemoryMap(); err != nil {
		p.log.Warn("Failed to initialize memory map: ", err)
	}

	p.log.Debugln("Process opened:", p.name)
	return nil
}

func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != 0 {
		if err := windows.CloseHandle(p.handle); err != nil {
			return fmt.Errorf("CloseHandle failed: %w", err)
		}
		p.handle = 0
	}

	p.pid = 0
	p.mm = nil
	p.modules = nil
	return nil
}

func (p *WindowsProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *WindowsProcess) GetName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// GetImageBase is the base of the first module, which is the executable.
func (p *WindowsProcess) GetImageBase() process.ProcessMemoryAddress {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.modules) == 0 {
		return 0
	}
	return p.modules[0].Base
}

// GetRecordAddress is the image base; user mode cannot see the kernel's
// process record.
func (p *WindowsProcess) GetRecordAddress() process.ProcessMemoryAddress {
	return p.GetImageBase()
}

func (p *WindowsProcess) GetModules() ([]process.Module, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	return append([]process.Module(nil), p.modules...), nil
}

func (p *WindowsProcess) GetAddressSpace() (process.AddressSpace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	if len(p.mm) == 0 {
		return nil, fmt.Errorf("pid %d has no committed memory: %w", p.pid, process.ErrAddressNotMapped)
	}
	return p, nil
}

// UpdateMemoryMap walks the address space with VirtualQueryEx, keeping
// committed regions.
func (p *WindowsProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return process.ErrProcessNotOpen
	}

	var mm []memory_map.MemoryMapItem
	var addr uintptr
	for {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQueryEx(p.handle, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			// ERROR_INVALID_PARAMETER past the highest user address ends the walk
			break
		}
		if mbi.State == windows.MEM_COMMIT {
			mm = append(mm, memory_map.MemoryMapItem{
				Address: uint64(mbi.BaseAddress),
				Size:    uint(mbi.RegionSize),
				Perms:   protectPerms(mbi.Protect),
			})
		}

		next := mbi.BaseAddress + mbi.RegionSize
		if mbi.RegionSize == 0 || next <= addr {
			break
		}
		addr = next
	}

	memory_map.Sort(mm)
	p.mm = mm
	return nil
}

func (p *WindowsProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if item := memory_map.FindRegion(uint64(addr), p.mm); item != nil {
		return item.IsReadable()
	}
	return false
}

// Translate is the identity for mapped addresses; physical addresses are not
// visible from user mode.
func (p *WindowsProcess) Translate(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, bool) {
	if !p.IsValidAddress(addr) {
		return 0, false
	}
	return addr, true
}

func (p *WindowsProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

func (p *WindowsProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return nil, process.ErrProcessNotOpen
	}

	buf := make([]byte, size)
	var bytesRead uintptr
	err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(size), &bytesRead)
	if err != nil {
		if errors.Is(err, windows.ERROR_PARTIAL_COPY) && bytesRead > 0 {
			return buf[:bytesRead], fmt.Errorf("read 0x%x: %w", uint64(addr), process.ErrShortRead)
		}
		return nil, fmt.Errorf("ReadProcessMemory 0x%x: %w", uint64(addr), err)
	}

	if bytesRead != uintptr(size) {
		return buf[:bytesRead], fmt.Errorf("read incomplete: expected %d, got %d: %w", size, bytesRead, process.ErrShortRead)
	}

	return buf, nil
}

func (p *WindowsProcess) ZRead(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) []byte {
	return process.ZeroFill(p, addr, size)
}

func protectPerms(protect uint32) string {
	if protect&(windows.PAGE_NOACCESS|windows.PAGE_GUARD) != 0 {
		return "---p"
	}
	switch protect & 0xff {
	case windows.PAGE_READONLY:
		return "r--p"
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return "rw-p"
	case windows.PAGE_EXECUTE:
		return "--xp"
	case windows.PAGE_EXECUTE_READ:
		return "r-xp"
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return "rwxp"
	}
	return "---p"
}
