package process

// ZeroFill reads size bytes at addr from r. The whole range is tried first; if
// that fails the range is retried one page at a time and every page that still
// cannot be read is left as zeros at its relative position.
func ZeroFill(r MemoryReader, addr ProcessMemoryAddress, size ProcessMemorySize) []byte {
	out := make([]byte, size)
	if size == 0 {
		return out
	}

	if data, err := r.ReadMemory(addr, size); err == nil && ProcessMemorySize(len(data)) == size {
		copy(out, data)
		return out
	}

	var done ProcessMemorySize
	for done < size {
		cur := addr + ProcessMemoryAddress(done)

		// Stop at the next page boundary
		chunk := ProcessMemorySize(PageSize - uint64(cur)%PageSize)
		if chunk > size-done {
			chunk = size - done
		}

		// Partial reads still carry the bytes before the fault
		if data, _ := r.ReadMemory(cur, chunk); len(data) > 0 {
			copy(out[done:done+chunk], data)
		}

		done += chunk
	}

	return out
}
