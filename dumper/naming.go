package dumper

import (
	"fmt"
	"regexp"

	"gopedump/process"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// SanitizeName replaces every character that is not a letter, digit, '-' or
// '_' with '_'.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// ExecutableFilename names a dumped process image: executable.<name>_<pid>.exe
func ExecutableFilename(name string, pid process.ProcessID) string {
	return fmt.Sprintf("executable.%s_%d.exe", SanitizeName(name), pid)
}

// ModuleFilename names a dumped DLL: module.<pid>.<process offset>.<base>.dll
func ModuleFilename(pid process.ProcessID, processOffset, base process.ProcessMemoryAddress) string {
	return fmt.Sprintf("module.%d.%x.%x.dll", pid, uint64(processOffset), uint64(base))
}

// DriverFilename names a dumped kernel driver: driver.<base>.sys
func DriverFilename(base process.ProcessMemoryAddress) string {
	return fmt.Sprintf("driver.%x.sys", uint64(base))
}
