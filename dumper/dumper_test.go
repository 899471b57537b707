package dumper

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopedump/pe/petest"
	"gopedump/pedump"
	"gopedump/process"
	"gopedump/process_blob"
)

type fakeProcess struct {
	pid     process.ProcessID
	name    string
	base    process.ProcessMemoryAddress
	record  process.ProcessMemoryAddress
	modules []process.Module
	space   *process_blob.ProcessBlob
}

func (p *fakeProcess) GetPID() process.ProcessID { return p.pid }
func (p *fakeProcess) GetName() string { return p.name }
func (p *fakeProcess) GetImageBase() process.ProcessMemoryAddress { return p.base }
func (p *fakeProcess) GetRecordAddress() process.ProcessMemoryAddress { return p.record }
func (p *fakeProcess) GetModules() ([]process.Module, error) { return p.modules, nil }

func (p *fakeProcess) GetAddressSpace() (process.AddressSpace, error) {
	if p.space == nil {
		return nil, process.ErrProcessNotOpen
	}
	return p.space, nil
}

type fakeSource struct {
	procs   []*fakeProcess
	kernel  *process_blob.ProcessBlob
	drivers []process.Module

	listed int
}

func (s *fakeSource) Processes() ([]process.Record, error) {
	s.listed++
	records := make([]process.Record, 0, len(s.procs))
	for _, p := range s.procs {
		records = append(records, p)
	}
	return records, nil
}

func (s *fakeSource) KernelAddressSpace() (process.AddressSpace, error) {
	if s.kernel == nil {
		return nil, nil
	}
	return s.kernel, nil
}

func (s *fakeSource) KernelModules() ([]process.Module, error) {
	return s.drivers, nil
}

var textPayload = petest.Pattern(0x200, 7)

// mappedImage is a small image occupying 0x2000 bytes of memory. Its
// reconstruction is 0x400 bytes: headers followed by .text.
func mappedImage() []byte {
	img := petest.Image{
		Lfanew:           0x80,
		SizeOfHeaders:    0x200,
		SectionAlignment: 0x1000,
		SizeOfImage:      0x2000,
		Sections: []petest.Section{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x200, SizeOfRawData: 0x200, PointerToRawData: 0x200},
		},
	}
	return img.Mapped(0x2000, map[string][]byte{".text": textPayload})
}

// imagesAt lays out one mapped image per offset in a blob starting at base.
func imagesAt(base process.ProcessMemoryAddress, size int, offsets ...int) *process_blob.ProcessBlob {
	data := make([]byte, size)
	for _, off := range offsets {
		copy(data[off:], mappedImage())
	}
	return process_blob.NewProcessBlob(base, data)
}

func checkDumped(t *testing.T, filename string) {
	t.Helper()

	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0x400 {
		t.Fatalf("%s: %d bytes, want 0x400", filename, len(data))
	}
	if !bytes.Equal(data[0x200:], textPayload) {
		t.Errorf("%s: .text payload mismatch", filename)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFilenames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{ExecutableFilename("svchost.exe", 1234), "executable.svchost_exe_1234.exe"},
		{ExecutableFilename("my prog (x86).exe", 7), "executable.my_prog__x86__exe_7.exe"},
		{ModuleFilename(1234, 0x1a2b000, 0x7ff800000000), "module.1234.1a2b000.7ff800000000.dll"},
		{DriverFilename(0xfffff80000000000), "driver.fffff80000000000.sys"},
		{SanitizeName("a-b_c.d/e"), "a-b_c_d_e"},
		{Target{Kind: TargetDriver, Name: "ntfs.sys", Base: 0xf000}.Filename(), "driver.f000.sys"},
		{Target{Kind: TargetModule, PID: 4, ProcessOffset: 0x10, Base: 0x20}.Filename(), "module.4.10.20.dll"},
		{Target{Kind: TargetProcess, PID: 4, Name: "System"}.Filename(), "executable.System_4.exe"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestCheckDumpDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := New(&fakeSource{}).CheckDumpDir(); !errors.Is(err, ErrNoDumpDir) {
		t.Errorf("empty dir: %v, want %v", err, ErrNoDumpDir)
	}
	if err := New(&fakeSource{}, WithDumpDir(file)).CheckDumpDir(); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("file: %v, want %v", err, ErrNotDirectory)
	}
	if err := New(&fakeSource{}, WithDumpDir(filepath.Join(dir, "missing"))).CheckDumpDir(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing: %v, want %v", err, os.ErrNotExist)
	}
	if err := New(&fakeSource{}, WithDumpDir(dir)).CheckDumpDir(); err != nil {
		t.Errorf("dir: %v", err)
	}
}

func TestDumpDirErrorsAreFatal(t *testing.T) {
	source := &fakeSource{
		procs: []*fakeProcess{{pid: 1, name: "a.exe", base: 0x400000, space: imagesAt(0x400000, 0x2000, 0)}},
	}
	d := New(source)

	if _, err := d.DumpModules(nil, nil); !errors.Is(err, ErrNoDumpDir) {
		t.Errorf("DumpModules: %v, want %v", err, ErrNoDumpDir)
	}
	if _, err := d.DumpDrivers(nil); !errors.Is(err, ErrNoDumpDir) {
		t.Errorf("DumpDrivers: %v, want %v", err, ErrNoDumpDir)
	}
	if _, err := d.DumpProcesses(nil); !errors.Is(err, ErrNoDumpDir) {
		t.Errorf("DumpProcesses: %v, want %v", err, ErrNoDumpDir)
	}
	if source.listed != 0 {
		t.Errorf("processes listed %d times before the dump dir was checked", source.listed)
	}
}

func TestDumpProcesses(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{
		procs: []*fakeProcess{
			{pid: 1234, name: "notepad.exe", base: 0x400000, space: imagesAt(0x400000, 0x2000, 0)},
			{pid: 4, name: "System"},
			{pid: 88, name: "calc.exe", base: 0x1000000, space: imagesAt(0x1000000, 0x2000, 0)},
		},
	}

	var diag bytes.Buffer
	d := New(source, WithDumpDir(dir), WithDiagnostics(&diag))

	summary, err := d.DumpProcesses(PIDFilter(1234, 4))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Dumped != 1 || summary.Skipped != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}

	filename := filepath.Join(dir, "executable.notepad_exe_1234.exe")
	checkDumped(t, filename)

	want := strings.Repeat("*", 72) + "\n" +
		"Dumping notepad.exe, pid:   1234 output: " + filename + "\n" +
		"Can not get task address space - skipping.\n"
	if diag.String() != want {
		t.Errorf("diagnostics:\n%s\nwant:\n%s", diag.String(), want)
	}

	if names := listDir(t, dir); len(names) != 1 {
		t.Errorf("dump dir holds %v", names)
	}
}

func TestDumpProcessesUserOutput(t *testing.T) {
	source := &fakeSource{
		procs: []*fakeProcess{
			{pid: 1234, name: "notepad.exe", base: 0x400000, space: imagesAt(0x400000, 0x2000, 0)},
		},
	}

	var out pedump.Buffer
	var diag bytes.Buffer
	d := New(source, WithOutput(&out), WithDiagnostics(&diag))

	summary, err := d.DumpProcesses(nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Dumped != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if out.Len() != 0x400 {
		t.Errorf("output is %d bytes, want 0x400", out.Len())
	}
	if !strings.Contains(diag.String(), "Dumping notepad.exe, pid:   1234 into user provided fd.\n") {
		t.Errorf("diagnostics: %q", diag.String())
	}
}

func TestDumpProcessesContinuesPastFailure(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{
		procs: []*fakeProcess{
			{pid: 1, name: "a.exe", base: 0x400000, space: imagesAt(0x400000, 0x2000, 0)},
			{pid: 2, name: "b.exe", base: 0x400000, space: imagesAt(0x400000, 0x2000, 0)},
		},
	}

	// A directory in the way makes creating the first output fail
	if err := os.Mkdir(filepath.Join(dir, "executable.a_exe_1.exe"), 0o755); err != nil {
		t.Fatal(err)
	}

	summary, err := New(source, WithDumpDir(dir)).DumpProcesses(nil)
	if err == nil {
		t.Fatal("expected an error for the blocked target")
	}
	if summary.Dumped != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	checkDumped(t, filepath.Join(dir, "executable.b_exe_2.exe"))
}

func TestDumpModulesFilter(t *testing.T) {
	dir := t.TempDir()
	space := imagesAt(0x10000000, 0x6000, 0, 0x2000, 0x4000)
	source := &fakeSource{
		procs: []*fakeProcess{{
			pid:    42,
			name:   "victim.exe",
			record: 0x10005f00,
			space:  space,
			modules: []process.Module{
				{Name: "kernel32.dll", Base: 0x10000000, Size: 0x2000},
				{Name: "ntdll.dll", Base: 0x10002000, Size: 0x2000},
				{Name: "evil.dll", Base: 0x10004000, Size: 0x2000},
			},
		}},
	}

	match, err := MatchRegexp("evil")
	if err != nil {
		t.Fatal(err)
	}

	var diag bytes.Buffer
	summary, err := New(source, WithDumpDir(dir), WithDiagnostics(&diag)).DumpModules(nil, match)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Dumped != 1 || summary.Skipped != 0 {
		t.Errorf("summary = %+v", summary)
	}

	names := listDir(t, dir)
	if len(names) != 1 || names[0] != "module.42.10005f00.10004000.dll" {
		t.Fatalf("dump dir holds %v", names)
	}
	checkDumped(t, filepath.Join(dir, names[0]))

	want := "Dumping evil.dll, Process: victim.exe, Base: 10004000 output: module.42.10005f00.10004000.dll\n"
	if diag.String() != want {
		t.Errorf("diagnostics %q, want %q", diag.String(), want)
	}
}

func TestDumpModulesUntranslatableRecord(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{
		procs: []*fakeProcess{{
			pid:     42,
			name:    "victim.exe",
			record:  0x20000000,
			space:   imagesAt(0x10000000, 0x2000, 0),
			modules: []process.Module{{Name: "evil.dll", Base: 0x10000000}},
		}},
	}

	var diag bytes.Buffer
	summary, err := New(source, WithDumpDir(dir), WithDiagnostics(&diag)).DumpModules(nil, MatchAll)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Dumped != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if want := "Cannot dump victim.exe@evil.dll at 10000000\n"; diag.String() != want {
		t.Errorf("diagnostics %q, want %q", diag.String(), want)
	}
	if names := listDir(t, dir); len(names) != 0 {
		t.Errorf("dump dir holds %v", names)
	}
}

func TestFindSpaceOrder(t *testing.T) {
	kernel := imagesAt(0xfffff80000000000, 0x2000, 0)
	p1 := imagesAt(0x400000, 0x2000, 0)
	p2 := imagesAt(0x7ff000000000, 0x2000, 0)
	both := imagesAt(0xfffff80000000000, 0x4000, 0)

	source := &fakeSource{
		kernel: kernel,
		procs: []*fakeProcess{
			{pid: 1, name: "p1", space: p1},
			{pid: 2, name: "p2", space: p2},
			{pid: 3, name: "p3", space: both},
		},
	}
	d := New(source)

	tests := []struct {
		base process.ProcessMemoryAddress
		want process.AddressSpace
	}{
		{0x7ff000000000, p2},
		{0x400000, p1},
		// mapped by both the kernel and p3: the kernel comes first
		{0xfffff80000000000, kernel},
		{0xfffff80000003000, both},
	}
	for _, tt := range tests {
		if got := d.FindSpace(tt.base); got != tt.want {
			t.Errorf("FindSpace(%s) picked the wrong space", tt.base.ToString())
		}
	}
	if got := d.FindSpace(0x1234); got != nil {
		t.Errorf("FindSpace of an unmapped base = %v, want nil", got)
	}

	if source.listed != 1 {
		t.Errorf("candidates collected %d times, want once", source.listed)
	}
}

func TestDumpDrivers(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{
		kernel: imagesAt(0xfffff80000000000, 0x2000, 0),
		procs: []*fakeProcess{
			{pid: 1, name: "p1", space: imagesAt(0x400000, 0x2000, 0)},
			{pid: 2, name: "p2", space: imagesAt(0xfffff88000000000, 0x2000, 0)},
		},
		drivers: []process.Module{
			{Name: "ntoskrnl.exe", Base: 0xfffff80000000000},
			{Name: "win32k.sys", Base: 0xfffff88000000000},
			{Name: "gone.sys", Base: 0xfffff90000000000},
		},
	}

	match, err := MatchRegexp(`\.sys$`)
	if err != nil {
		t.Fatal(err)
	}

	var diag bytes.Buffer
	summary, err := New(source, WithDumpDir(dir), WithDiagnostics(&diag)).DumpDrivers(match)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Dumped != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v", summary)
	}

	checkDumped(t, filepath.Join(dir, "driver.fffff88000000000.sys"))
	if names := listDir(t, dir); len(names) != 1 {
		t.Errorf("dump dir holds %v", names)
	}

	want := fmt.Sprintf("Dumping win32k.sys, Base: %8x output: driver.fffff88000000000.sys\n", uint64(0xfffff88000000000)) +
		"Cannot find a viable address space for gone.sys at fffff90000000000 - skipping.\n"
	if diag.String() != want {
		t.Errorf("diagnostics:\n%s\nwant:\n%s", diag.String(), want)
	}
}

func TestProcessFilters(t *testing.T) {
	a := &fakeProcess{pid: 1, name: "explorer.exe"}
	b := &fakeProcess{pid: 2, name: "svchost.exe"}

	match, err := MatchRegexp("^svc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := MatchRegexp("("); err == nil {
		t.Error("MatchRegexp accepted an invalid pattern")
	}

	tests := []struct {
		name   string
		filter ProcessFilter
		a, b   bool
	}{
		{"all", AllProcesses, true, true},
		{"no pids", PIDFilter(), true, true},
		{"pid", PIDFilter(2), false, true},
		{"name", NameFilter(match), false, true},
		{"and", AndFilter(PIDFilter(1, 2), NameFilter(match)), false, true},
	}
	for _, tt := range tests {
		if got := tt.filter(a); got != tt.a {
			t.Errorf("%s: filter(a) = %v", tt.name, got)
		}
		if got := tt.filter(b); got != tt.b {
			t.Errorf("%s: filter(b) = %v", tt.name, got)
		}
	}
}
