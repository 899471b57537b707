package dumper

import (
	"fmt"
	"regexp"

	"gopedump/process"
)

// TargetKind tags what a Target is.
type TargetKind int

const (
	TargetProcess TargetKind = iota
	TargetModule
	TargetDriver
)

func (k TargetKind) String() string {
	switch k {
	case TargetProcess:
		return "process"
	case TargetModule:
		return "module"
	case TargetDriver:
		return "driver"
	}
	return fmt.Sprintf("TargetKind(%d)", int(k))
}

// Target is one image to reconstruct. Which fields are set depends on Kind:
// processes use PID and Name, modules add ProcessName and ProcessOffset,
// drivers only Name.
type Target struct {
	Kind TargetKind

	PID           process.ProcessID
	ProcessName   string
	ProcessOffset process.ProcessMemoryAddress

	Name  string
	Base  process.ProcessMemoryAddress
	Space process.AddressSpace
}

// Filename is the artifact name for the target.
func (t Target) Filename() string {
	switch t.Kind {
	case TargetModule:
		return ModuleFilename(t.PID, t.ProcessOffset, t.Base)
	case TargetDriver:
		return DriverFilename(t.Base)
	}
	return ExecutableFilename(t.Name, t.PID)
}

// NameMatcher selects modules by name.
type NameMatcher func(name string) bool

// MatchAll is the default NameMatcher.
func MatchAll(string) bool {
	return true
}

// MatchRegexp matches names containing a match for pattern.
func MatchRegexp(pattern string) (NameMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re.MatchString, nil
}

// ProcessFilter selects processes.
type ProcessFilter func(process.Record) bool

// AllProcesses is the default ProcessFilter.
func AllProcesses(process.Record) bool {
	return true
}

// PIDFilter keeps the listed PIDs. No PIDs keeps everything.
func PIDFilter(pids ...process.ProcessID) ProcessFilter {
	if len(pids) == 0 {
		return AllProcesses
	}
	keep := make(map[process.ProcessID]bool, len(pids))
	for _, pid := range pids {
		keep[pid] = true
	}
	return func(p process.Record) bool {
		return keep[p.GetPID()]
	}
}

// NameFilter keeps processes whose name matches.
func NameFilter(match NameMatcher) ProcessFilter {
	return func(p process.Record) bool {
		return match(p.GetName())
	}
}

// AndFilter keeps processes every filter keeps.
func AndFilter(filters ...ProcessFilter) ProcessFilter {
	return func(p process.Record) bool {
		for _, f := range filters {
			if !f(p) {
				return false
			}
		}
		return true
	}
}
