//go:build linux

package process_linux

import (
	"fmt"

	"gopedump/process"
	"gopedump/process/memory_map"
	"gopedump/process_blob"
)

// MaxSavedRegionSize bounds the regions Save writes out.
const MaxSavedRegionSize = 100 * 1024 * 1024

// Metadata describes the process in the form a process dump stores it.
func (p *LinuxProcess) Metadata() (process_blob.Metadata, error) {
	modules, err := p.GetModules()
	if err != nil {
		return process_blob.Metadata{}, err
	}

	return process_blob.Metadata{
		PID:           p.GetPID(),
		Name:          p.GetName(),
		ImageBase:     p.GetImageBase(),
		RecordAddress: p.GetRecordAddress(),
		Modules:       modules,
	}, nil
}

// Save captures the process's readable memory into a dump directory that
// process_blob.LoadProcessDump can read back.
func (p *LinuxProcess) Save(dirname string) error {
	if err := p.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to update memory map: %w", err)
	}

	metadata, err := p.Metadata()
	if err != nil {
		return err
	}

	mm, err := p.GetMemoryMap()
	if err != nil {
		return err
	}

	p.log.Infoln("Saving process to directory:", dirname)

	return process_blob.WriteDump(dirname, metadata, mm, func(region memory_map.MemoryMapItem) ([]byte, error) {
		if !region.IsReadable() {
			return nil, fmt.Errorf("region not readable (perms: %s)", region.Perms)
		}
		if region.Size > MaxSavedRegionSize {
			return nil, fmt.Errorf("region too large: %d MB", region.Size/1024/1024)
		}
		return p.ZRead(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size)), nil
	})
}
