// Package hexdump renders byte ranges of an address space, as used for
// inspecting PE header blocks.
package hexdump

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Range is a half-open span of offsets relative to the start of the data.
type Range struct {
	Start, End int
}

func (r Range) contains(i int) bool {
	return i >= r.Start && i < r.End
}

// HexDumpOptions defines options for customizing the hexdump output
type HexDumpOptions struct {
	// BytesPerLine defines the number of bytes to display per line
	BytesPerLine int

	// ShowASCII determines whether to show the ASCII representation
	ShowASCII bool

	// StartOffset is the address printed for the first byte
	StartOffset uint64

	// OffsetWidth is the width of the offset column in hex digits
	OffsetWidth int

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int

	// SkipZeroLines collapses runs of all-zero lines into a single "*"
	SkipZeroLines bool

	// Highlight marks ranges, e.g. the section table within a header block
	Highlight []Range

	// Color enables ANSI colors
	Color bool

	OffsetColor    coloransi.ColorCode
	HexColor       coloransi.ColorCode
	ZeroColor      coloransi.ColorCode
	HighlightColor coloransi.ColorCode
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() HexDumpOptions {
	return HexDumpOptions{
		BytesPerLine:   16,
		ShowASCII:      true,
		OffsetWidth:    8,
		Color:          true,
		OffsetColor:    coloransi.Cyan,
		HexColor:       coloransi.Green,
		ZeroColor:      coloransi.BrightBlack,
		HighlightColor: coloransi.Yellow,
	}
}

// PlainOptions are DefaultOptions without colors.
func PlainOptions() HexDumpOptions {
	o := DefaultOptions()
	o.Color = false
	return o
}

// Dump creates a hex dump of the given data with specified options
func Dump(data []byte, options HexDumpOptions) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, data, options)
	return buffer.String()
}

// DumpToWriter writes a hex dump of the given data to the specified writer
func DumpToWriter(writer io.Writer, data []byte, options HexDumpOptions) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.OffsetWidth <= 0 {
		options.OffsetWidth = 8
	}

	lineCount := 0
	skipping := false
	for offset := 0; offset < len(data); offset += options.BytesPerLine {
		if options.MaxLines > 0 && lineCount >= options.MaxLines {
			fmt.Fprintf(writer, "... %d more bytes\n", len(data)-offset)
			return
		}

		end := min(offset+options.BytesPerLine, len(data))
		line := data[offset:end]

		if options.SkipZeroLines && offset > 0 && isZero(line) && end < len(data) {
			if !skipping {
				fmt.Fprintln(writer, "*")
				skipping = true
			}
			continue
		}
		skipping = false

		formatLine(writer, line, offset, options)
		lineCount++
	}
}

func formatLine(writer io.Writer, data []byte, offset int, options HexDumpOptions) {
	addr := fmt.Sprintf("%0*x", options.OffsetWidth, options.StartOffset+uint64(offset))
	fmt.Fprint(writer, paint(options, options.OffsetColor, addr), "  ")

	half := options.BytesPerLine / 2
	for i := 0; i < options.BytesPerLine; i++ {
		if i > 0 {
			fmt.Fprint(writer, " ")
			if i == half && options.BytesPerLine >= 8 {
				fmt.Fprint(writer, " ")
			}
		}
		if i >= len(data) {
			fmt.Fprint(writer, "  ")
			continue
		}
		fmt.Fprint(writer, paint(options, byteColor(options, data[i], offset+i), fmt.Sprintf("%02x", data[i])))
	}

	if options.ShowASCII {
		fmt.Fprint(writer, "  |")
		var ascii strings.Builder
		for i, b := range data {
			c := "."
			if b >= 0x20 && b < 0x7f {
				c = string(rune(b))
			}
			ascii.WriteString(paint(options, byteColor(options, b, offset+i), c))
		}
		fmt.Fprint(writer, ascii.String(), "|")
	}

	fmt.Fprintln(writer)
}

func byteColor(options HexDumpOptions, b byte, pos int) coloransi.ColorCode {
	for _, r := range options.Highlight {
		if r.contains(pos) {
			return options.HighlightColor
		}
	}
	if b == 0 {
		return options.ZeroColor
	}
	return options.HexColor
}

func paint(options HexDumpOptions, color coloransi.ColorCode, s string) string {
	if !options.Color {
		return s
	}
	return coloransi.Foreground(color, s)
}

func isZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
