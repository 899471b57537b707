//go:build linux

package memory_map

import (
	"strings"
	"testing"
)

func TestParseMaps(t *testing.T) {
	maps := `00400000-0040b000 r-xp 00000000 08:01 131 /home/user/.wine/drive_c/My Tools/tool.exe
0060a000-0060b000 rw-p 0000a000 08:01 131 /home/user/.wine/drive_c/My Tools/tool.exe
7ffd1000-7ffd2000 rw-p 00000000 00:00 0
garbage line
`
	mm, err := ParseMaps(strings.NewReader(maps))
	if err != nil {
		t.Fatal(err)
	}
	if len(mm) != 3 {
		t.Fatalf("got %d regions, want 3", len(mm))
	}
	if mm[0].Path != "/home/user/.wine/drive_c/My Tools/tool.exe" {
		t.Errorf("path with spaces parsed as %q", mm[0].Path)
	}
	if mm[1].Offset != 0xa000 || mm[1].Size != 0x1000 {
		t.Errorf("second region = %+v", mm[1])
	}
	if mm[2].Path != "" || !mm[2].IsWritable() {
		t.Errorf("anonymous region = %+v", mm[2])
	}
}
