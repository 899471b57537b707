//go:build linux

package process_linux

import (
	"strings"
	"testing"

	"gopedump/process/memory_map"
)

const wineMaps = `00010000-00011000 r--p 00000000 00:00 0
00400000-00401000 r--p 00000000 08:01 1001 /home/user/.wine/drive_c/windows/notepad.exe
00401000-00405000 r-xp 00001000 08:01 1001 /home/user/.wine/drive_c/windows/notepad.exe
00405000-00406000 rw-p 00005000 08:01 1001 /home/user/.wine/drive_c/windows/notepad.exe
55d4c0000000-55d4c0010000 r--p 00000000 08:01 2002 /usr/bin/wine64-preloader
7f0010000000-7f0010001000 r--p 00000000 08:01 3003 /home/user/.wine/drive_c/windows/system32/KERNEL32.DLL
7f0010001000-7f0010040000 r-xp 00001000 08:01 3003 /home/user/.wine/drive_c/windows/system32/KERNEL32.DLL
7f0020001000-7f0020002000 r--p 00001000 08:01 4004 /home/user/.wine/drive_c/Program Files/odd/late.dll
7f0030000000-7f0030002000 r--p 00000000 08:01 5005 /home/user/.wine/drive_c/windows/system32/drivers/null.sys
`

func TestPEModules(t *testing.T) {
	mm, err := memory_map.ParseMaps(strings.NewReader(wineMaps))
	if err != nil {
		t.Fatal(err)
	}
	memory_map.Sort(mm)

	modules := PEModules(mm)
	want := []struct {
		name string
		base uint64
		size uint
	}{
		{"notepad.exe", 0x400000, 0x6000},
		{"KERNEL32.DLL", 0x7f0010000000, 0x40000},
		{"null.sys", 0x7f0030000000, 0x2000},
	}

	if len(modules) != len(want) {
		t.Fatalf("got %d modules: %+v", len(modules), modules)
	}
	for i, w := range want {
		m := modules[i]
		if m.Name != w.name || uint64(m.Base) != w.base || uint(m.Size) != w.size {
			t.Errorf("module %d = %s@%s size %d, want %s@0x%X size %d", i, m.Name, m.Base.ToString(), m.Size, w.name, w.base, w.size)
		}
	}
}

func TestPEModulesEmpty(t *testing.T) {
	if modules := PEModules(nil); len(modules) != 0 {
		t.Errorf("PEModules(nil) = %+v", modules)
	}
}
