package process

// AddressSpace is a byte-addressable view over a process, kernel or module's
// virtual memory.
type AddressSpace interface {
	// ZRead reads size bytes at addr. Unreadable pages are returned as zeros,
	// so the result always has exactly size bytes.
	ZRead(addr ProcessMemoryAddress, size ProcessMemorySize) []byte

	// IsValidAddress reports whether addr is backed by readable memory.
	IsValidAddress(addr ProcessMemoryAddress) bool

	// Translate maps a virtual address to its physical address.
	Translate(addr ProcessMemoryAddress) (ProcessMemoryAddress, bool)
}

// MemoryReader is the faulting read primitive most sources start from.
type MemoryReader interface {
	// ReadMemory reads memory at the specified address, failing if any of it is unreadable
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)
}

// MemoryReaderFunc adapts a function to MemoryReader.
type MemoryReaderFunc func(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

func (f MemoryReaderFunc) ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error) {
	return f(addr, size)
}
