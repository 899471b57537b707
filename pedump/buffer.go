package pedump

import (
	"errors"
	"io"
)

var errNegativeOffset = errors.New("negative offset")

// Buffer is an in-memory io.WriteSeeker. A write after seeking past the end
// zero-fills the gap, the same bytes a sparse file reads back.
type Buffer struct {
	buf []byte
	pos int64
}

var _ io.WriteSeeker = (*Buffer)(nil)

func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.buf)) {
		if end > int64(cap(b.buf)) {
			grown := make([]byte, end, end+end/2)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			// reslicing may expose bytes from an earlier Truncate
			old := len(b.buf)
			b.buf = b.buf[:end]
			clear(b.buf[old:])
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errNegativeOffset
	}
	b.pos = abs
	return abs, nil
}

// Bytes returns everything written so far.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

func (b *Buffer) Len() int {
	return len(b.buf)
}

// Truncate discards everything and rewinds.
func (b *Buffer) Truncate() {
	b.buf = b.buf[:0]
	b.pos = 0
}
