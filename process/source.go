package process

// Record is a process as seen by a memory source.
type Record interface {
	// GetPID returns the process ID
	GetPID() ProcessID

	// GetName returns the image file name of the process
	GetName() string

	// GetImageBase returns the image base recorded in the process environment block
	GetImageBase() ProcessMemoryAddress

	// GetRecordAddress returns the address of the process's own bookkeeping record
	GetRecordAddress() ProcessMemoryAddress

	// GetModules returns the PE images loaded into the process
	GetModules() ([]Module, error)

	// GetAddressSpace returns the process's virtual memory
	GetAddressSpace() (AddressSpace, error)
}

// Source enumerates the processes and kernel state held by a capture.
type Source interface {
	// Processes returns every process, in enumeration order
	Processes() ([]Record, error)

	// KernelAddressSpace returns the kernel's address space, or nil if the
	// capture has none
	KernelAddressSpace() (AddressSpace, error)

	// KernelModules returns the loaded kernel drivers
	KernelModules() ([]Module, error)
}
