// Package process holds the vocabulary shared by every memory source: addresses,
// sizes, process and module records, and the AddressSpace contract.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrShortRead is returned by readers that could only satisfy part of a request.
	ErrShortRead = errors.New("short read")
)
