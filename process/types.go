package process

// ProcessID represents a unique identifier for a process
type ProcessID int

// ProcessInfo contains basic information about a process
type ProcessInfo struct {
	PID     ProcessID // Process ID
	PPID    ProcessID // Parent Process ID
	Name    string    // Process name
	Exe     string    // Path to the executable
	Cmdline []string  // Command line arguments
}

// Module is a PE image loaded into an address space (a DLL in a process,
// or a driver in the kernel).
type Module struct {
	Name string               `json:"name"`
	Base ProcessMemoryAddress `json:"base"`
	Size ProcessMemorySize    `json:"size"`
}
