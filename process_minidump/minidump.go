// Package process_minidump reads a Windows user-mode minidump as a memory
// source holding a single process.
package process_minidump

import (
	"fmt"
	"strings"

	"gopedump/process"
	"gopedump/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/go-delve/delve/pkg/proc/core/minidump"
)

// MinidumpProcess is the process captured in a minidump. It is both the
// Record and the Source.
type MinidumpProcess struct {
	dump  *minidump.Minidump
	space *MinidumpSpace
}

var _ process.Record = (*MinidumpProcess)(nil)
var _ process.Source = (*MinidumpProcess)(nil)

// Open parses the minidump at path.
func Open(path string) (*MinidumpProcess, error) {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "minidump"))

	dmp, err := minidump.Open(path, func(format string, args ...interface{}) {
		log.Debugln(fmt.Sprintf(format, args...))
	})
	if err != nil {
		return nil, fmt.Errorf("open minidump %s: %w", path, err)
	}
	if dmp == nil {
		return nil, fmt.Errorf("open minidump %s: not a minidump", path)
	}

	p := FromMinidump(dmp)
	log.Infoln("Loaded", path, "pid", p.GetPID(), len(p.space.ranges), "ranges", len(dmp.Modules), "modules")
	return p, nil
}

// FromMinidump wraps an already parsed minidump.
func FromMinidump(dmp *minidump.Minidump) *MinidumpProcess {
	return &MinidumpProcess{
		dump:  dmp,
		space: NewMinidumpSpace(dmp.MemoryRanges),
	}
}

func (p *MinidumpProcess) GetPID() process.ProcessID {
	return process.ProcessID(p.dump.Pid)
}

// GetName is the file name of the first module, which is the main executable.
func (p *MinidumpProcess) GetName() string {
	if len(p.dump.Modules) == 0 {
		return ""
	}
	return baseName(p.dump.Modules[0].Name)
}

func (p *MinidumpProcess) GetImageBase() process.ProcessMemoryAddress {
	if len(p.dump.Modules) == 0 {
		return 0
	}
	return process.ProcessMemoryAddress(p.dump.Modules[0].BaseOfImage)
}

// GetRecordAddress is the image base; a minidump has no kernel process record.
func (p *MinidumpProcess) GetRecordAddress() process.ProcessMemoryAddress {
	return p.GetImageBase()
}

func (p *MinidumpProcess) GetModules() ([]process.Module, error) {
	modules := make([]process.Module, 0, len(p.dump.Modules))
	for _, m := range p.dump.Modules {
		modules = append(modules, process.Module{
			Name: baseName(m.Name),
			Base: process.ProcessMemoryAddress(m.BaseOfImage),
			Size: process.ProcessMemorySize(m.SizeOfImage),
		})
	}
	return modules, nil
}

func (p *MinidumpProcess) GetAddressSpace() (process.AddressSpace, error) {
	if len(p.space.ranges) == 0 {
		return nil, fmt.Errorf("minidump holds no memory: %w", process.ErrAddressNotMapped)
	}
	return p.space, nil
}

func (p *MinidumpProcess) Processes() ([]process.Record, error) {
	return []process.Record{p}, nil
}

// KernelAddressSpace is nil; user-mode minidumps hold no kernel memory.
func (p *MinidumpProcess) KernelAddressSpace() (process.AddressSpace, error) {
	return nil, nil
}

func (p *MinidumpProcess) KernelModules() ([]process.Module, error) {
	return nil, nil
}

// MemoryMap describes the captured ranges, with permissions taken from the
// minidump's memory info list where it covers them.
func (p *MinidumpProcess) MemoryMap() []memory_map.MemoryMapItem {
	items := make([]memory_map.MemoryMapItem, 0, len(p.space.ranges))
	for _, r := range p.space.ranges {
		items = append(items, memory_map.MemoryMapItem{
			Address: r.Addr,
			Size:    uint(len(r.Data)),
			Perms:   p.perms(r.Addr),
		})
	}
	return items
}

// ReadRegion returns the bytes of one MemoryMap item.
func (p *MinidumpProcess) ReadRegion(item memory_map.MemoryMapItem) ([]byte, error) {
	return p.space.ReadMemory(process.ProcessMemoryAddress(item.Address), process.ProcessMemorySize(item.Size))
}

func (p *MinidumpProcess) perms(addr uint64) string {
	for _, info := range p.dump.MemoryInfo {
		if info.Addr <= addr && addr < info.Addr+info.Size {
			return protectionPerms(info.Protection)
		}
	}
	// no info list: the range was captured, so it was readable
	return "r--p"
}

func protectionPerms(prot minidump.MemoryProtection) string {
	r, w, x := false, false, false
	if prot&minidump.MemoryProtectReadOnly != 0 {
		r = true
	}
	if prot&minidump.MemoryProtectReadWrite != 0 {
		r, w = true, true
	}
	if prot&minidump.MemoryProtectWriteCopy != 0 {
		r, w = true, true
	}
	if prot&minidump.MemoryProtectExecute != 0 {
		x = true
	}
	if prot&minidump.MemoryProtectExecuteRead != 0 {
		r, x = true, true
	}
	if prot&minidump.MemoryProtectExecuteReadWrite != 0 {
		r, w, x = true, true, true
	}

	perms := []byte("---p")
	if r {
		perms[0] = 'r'
	}
	if w {
		perms[1] = 'w'
	}
	if x {
		perms[2] = 'x'
	}
	return string(perms)
}

// baseName strips a Windows or POSIX directory prefix.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		return name[i+1:]
	}
	return name
}
