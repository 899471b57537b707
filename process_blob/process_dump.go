package process_blob

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopedump/process"
	"gopedump/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/edsrzf/mmap-go"
)

const (
	MetadataFilename  = "metadata.json"
	MemoryMapFilename = "process_memory_map.json"
)

// BlobFilename names the file holding one saved region.
func BlobFilename(address uint64, size uint) string {
	return fmt.Sprintf("blob_0x%x_%d.bin", address, size)
}

// Metadata is the contents of metadata.json.
type Metadata struct {
	PID           process.ProcessID            `json:"pid"`
	Name          string                       `json:"name"`
	ImageBase     process.ProcessMemoryAddress `json:"image_base,omitempty"`
	RecordAddress process.ProcessMemoryAddress `json:"record_address,omitempty"`
	Modules       []process.Module             `json:"modules,omitempty"`
}

// ProcessDump is a process captured to a dump directory.
type ProcessDump struct {
	Metadata
	MemoryMap []memory_map.MemoryMapItem
	Blobs     map[uint64][]byte // Address -> Data

	mapped []mmap.MMap
	log    *logger.Logger
}

var _ process.AddressSpace = (*ProcessDump)(nil)
var _ process.Record = (*ProcessDump)(nil)

// NewProcessDump creates a new ProcessDump instance
func NewProcessDump() *ProcessDump {
	return &ProcessDump{
		Blobs: make(map[uint64][]byte),
		log:   logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "process-dump")),
	}
}

// LoadProcessDump loads the dump saved in dirname.
func LoadProcessDump(dirname string) (*ProcessDump, error) {
	p := NewProcessDump()
	if err := p.Load(dirname); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *ProcessDump) Close() error {
	var errs []error
	for _, m := range p.mapped {
		if err := m.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	p.mapped = nil
	p.Blobs = nil
	p.MemoryMap = nil
	return errors.Join(errs...)
}

func (p *ProcessDump) GetPID() process.ProcessID {
	return p.PID
}

func (p *ProcessDump) GetName() string {
	return p.Name
}

func (p *ProcessDump) GetImageBase() process.ProcessMemoryAddress {
	return p.ImageBase
}

func (p *ProcessDump) GetRecordAddress() process.ProcessMemoryAddress {
	return p.RecordAddress
}

func (p *ProcessDump) GetModules() ([]process.Module, error) {
	return p.Modules, nil
}

// GetAddressSpace fails for dumps that captured no memory at all.
func (p *ProcessDump) GetAddressSpace() (process.AddressSpace, error) {
	if len(p.Blobs) == 0 {
		return nil, fmt.Errorf("pid %d: no memory captured: %w", p.PID, process.ErrAddressNotMapped)
	}
	return p, nil
}

func (p *ProcessDump) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	region := memory_map.FindRegion(uint64(addr), p.MemoryMap)
	if region == nil {
		return false
	}
	data, ok := p.Blobs[region.Address]
	return ok && uint64(addr)-region.Address < uint64(len(data))
}

func (p *ProcessDump) Translate(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, bool) {
	if !p.IsValidAddress(addr) {
		return 0, false
	}
	phys, ok := memory_map.Translate(uint64(addr), p.MemoryMap)
	return process.ProcessMemoryAddress(phys), ok
}

func (p *ProcessDump) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	// Find the region containing the address
	region := memory_map.FindRegion(uint64(addr), p.MemoryMap)
	if region == nil {
		return nil, process.ErrAddressNotMapped
	}

	// Check if we have data for this region
	data, ok := p.Blobs[region.Address]
	if !ok {
		return nil, fmt.Errorf("no data for region 0x%x: %w", region.Address, process.ErrAddressNotMapped)
	}

	offset := uint64(addr) - region.Address
	if offset >= uint64(len(data)) {
		return nil, fmt.Errorf("address 0x%x out of bounds of region data: %w", addr, process.ErrAddressNotMapped)
	}

	if offset+uint64(size) > uint64(len(data)) {
		return data[offset:], fmt.Errorf("read size %d exceeds region data bounds: %w", size, process.ErrShortRead)
	}

	return data[offset : offset+uint64(size)], nil
}

func (p *ProcessDump) ZRead(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) []byte {
	return process.ZeroFill(p, addr, size)
}

func (p *ProcessDump) Load(dirname string) error {
	// Read metadata
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, MetadataFilename))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	if err := json.Unmarshal(metadataBytes, &p.Metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	// Read memory map
	mmBytes, err := os.ReadFile(filepath.Join(dirname, MemoryMapFilename))
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	if err := json.Unmarshal(mmBytes, &p.MemoryMap); err != nil {
		return fmt.Errorf("failed to unmarshal memory map: %w", err)
	}

	memory_map.Sort(p.MemoryMap)

	// Load blobs
	for _, region := range p.MemoryMap {
		filename := filepath.Join(dirname, BlobFilename(region.Address, region.Size))
		data, err := p.mapBlob(filename)
		if errors.Is(err, os.ErrNotExist) {
			continue // Blob not saved (e.g. too large or not readable)
		}
		if err != nil {
			return fmt.Errorf("failed to read blob %s: %w", filename, err)
		}
		if data != nil {
			p.Blobs[region.Address] = data
		}
	}

	p.log.Infoln("Loaded dump of", p.Name, "pid", p.PID, "with", len(p.Blobs), "of", len(p.MemoryMap), "regions")

	return nil
}

// mapBlob maps a blob file read-only. Empty files yield nil.
func (p *ProcessDump) mapBlob(filename string) ([]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	p.mapped = append(p.mapped, m)
	return m, nil
}

// Save writes the dump back out in the directory format Load reads.
func (p *ProcessDump) Save(dirname string) error {
	return WriteDump(dirname, p.Metadata, p.MemoryMap, func(region memory_map.MemoryMapItem) ([]byte, error) {
		data, ok := p.Blobs[region.Address]
		if !ok {
			return nil, process.ErrAddressNotMapped
		}
		return data, nil
	})
}

// WriteDump writes metadata, the memory map and one blob per region that read
// returns data for. Regions that fail to read are logged and left out.
func WriteDump(dirname string, metadata Metadata, memoryMap []memory_map.MemoryMapItem, read func(memory_map.MemoryMapItem) ([]byte, error)) error {
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	metadataJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dirname, MetadataFilename), metadataJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	memoryMapJSON, err := json.MarshalIndent(memoryMap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal memory map: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dirname, MemoryMapFilename), memoryMapJSON, 0644); err != nil {
		return fmt.Errorf("failed to write memory map file: %w", err)
	}

	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("save-%d", metadata.PID)))

	savedCount := 0
	errorCount := 0
	for _, region := range memoryMap {
		data, err := read(region)
		if err != nil {
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), ":", err)
			errorCount++
			continue
		}

		filename := filepath.Join(dirname, BlobFilename(region.Address, region.Size))
		if err := os.WriteFile(filename, data, 0644); err != nil {
			return fmt.Errorf("failed to write memory file for region at 0x%x: %w", region.Address, err)
		}
		savedCount++
	}

	log.Infoln("Process dump saved:", savedCount, "regions saved,", errorCount, "unreadable")
	return nil
}
