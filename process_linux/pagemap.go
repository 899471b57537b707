//go:build linux

package process_linux

import (
	"encoding/binary"
	"os"

	"gopedump/process"

	"golang.org/x/sys/unix"
)

const (
	pagemapEntrySize = 8
	pagemapPresent   = uint64(1) << 63
	pagemapPFNMask   = (uint64(1) << 55) - 1
)

// Translate resolves addr through /proc/<pid>/pagemap. Without
// CAP_SYS_ADMIN the kernel hides frame numbers; a present page then
// translates to itself.
func (p *LinuxProcess) Translate(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, bool) {
	if !p.IsValidAddress(addr) {
		return 0, false
	}

	f, err := os.Open(procPath(p.GetPID(), "pagemap"))
	if err != nil {
		return addr, true
	}
	defer f.Close()

	pageSize := uint64(unix.Getpagesize())
	var entry [pagemapEntrySize]byte
	if _, err := f.ReadAt(entry[:], int64(uint64(addr)/pageSize*pagemapEntrySize)); err != nil {
		return addr, true
	}

	phys, ok := decodePagemapEntry(binary.LittleEndian.Uint64(entry[:]), uint64(addr), pageSize)
	return process.ProcessMemoryAddress(phys), ok
}

func decodePagemapEntry(entry, addr, pageSize uint64) (uint64, bool) {
	if entry&pagemapPresent == 0 {
		return 0, false
	}
	pfn := entry & pagemapPFNMask
	if pfn == 0 {
		return addr, true
	}
	return pfn*pageSize + addr%pageSize, true
}
