//go:build linux

package process_linux

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopedump/process"
)

// LinuxProcessFinder implements the process.ProcessFinder interface
type LinuxProcessFinder struct{}

// NewProcessFinder creates a new LinuxProcessFinder
func NewProcessFinder() *LinuxProcessFinder {
	return &LinuxProcessFinder{}
}

var _ process.ProcessFinder = (*LinuxProcessFinder)(nil)

// FindProcessByPID finds a process by its PID
func (f *LinuxProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	if !exists(procPath(pid, "")) {
		return nil, fmt.Errorf("process with PID %d does not exist", pid)
	}

	return getProcessInfo(pid)
}

// FindProcessByNamePattern finds processes by their name (pattern match)
func (f *LinuxProcessFinder) FindProcessByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern(pattern)
}

// FindAllProcesses returns information about all running processes, ordered by PID
func (f *LinuxProcessFinder) FindAllProcesses() ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern("")
}

// Helper function to find processes by name pattern
func findProcessesByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	// List all directories in /proc that are numbers (PIDs)
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}

	var results []process.ProcessInfo

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			// Not a PID directory
			continue
		}

		info, err := getProcessInfo(process.ProcessID(pid))
		if err != nil {
			// Process may have terminated while we were reading
			continue
		}

		if re.MatchString(info.Name) {
			results = append(results, *info)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PID < results[j].PID
	})

	return results, nil
}

// Helper function to get process information
func getProcessInfo(pid process.ProcessID) (*process.ProcessInfo, error) {
	nameBytes, err := os.ReadFile(procPath(pid, "comm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process name: %w", err)
	}

	// Some processes don't have an exe (e.g., kernel threads)
	exe, _ := os.Readlink(procPath(pid, "exe"))

	cmdlineBytes, err := os.ReadFile(procPath(pid, "cmdline"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process cmdline: %w", err)
	}

	info := &process.ProcessInfo{
		PID:     pid,
		Name:    strings.TrimSpace(string(nameBytes)),
		Exe:     exe,
		Cmdline: splitCmdline(cmdlineBytes),
	}

	if status, err := os.ReadFile(procPath(pid, "status")); err == nil {
		info.PPID = parsePPid(status)
	}

	return info, nil
}

// splitCmdline splits the NUL separated contents of /proc/<pid>/cmdline.
func splitCmdline(data []byte) []string {
	data = bytes.TrimSuffix(data, []byte{0})
	if len(data) == 0 {
		return nil
	}

	var cmdline []string
	for _, arg := range bytes.Split(data, []byte{0}) {
		cmdline = append(cmdline, string(arg))
	}
	return cmdline
}

func parsePPid(status []byte) process.ProcessID {
	for _, line := range strings.Split(string(status), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "PPid" {
			continue
		}
		if ppid, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return process.ProcessID(ppid)
		}
	}
	return 0
}
