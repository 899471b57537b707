package process_linux

import (
	"path/filepath"
	"sort"
	"strings"

	"gopedump/process"
	"gopedump/process/memory_map"
)

var peExtensions = []string{".exe", ".dll", ".sys"}

func hasExt(name, ext string) bool {
	return strings.EqualFold(filepath.Ext(name), ext)
}

func isPEPath(path string) bool {
	for _, ext := range peExtensions {
		if hasExt(path, ext) {
			return true
		}
	}
	return false
}

// PEModules finds the PE images mapped from files, as a PE loader such as
// Wine maps them: the image starts at the mapping of file offset 0 and spans
// every later mapping of the same file. mm must be sorted by address.
func PEModules(mm []memory_map.MemoryMapItem) []process.Module {
	index := make(map[string]int)
	var modules []process.Module

	for _, item := range mm {
		if item.Path == "" || !isPEPath(item.Path) {
			continue
		}

		i, seen := index[item.Path]
		if !seen {
			if item.Offset != 0 {
				continue
			}
			index[item.Path] = len(modules)
			modules = append(modules, process.Module{
				Name: filepath.Base(item.Path),
				Base: process.ProcessMemoryAddress(item.Address),
				Size: process.ProcessMemorySize(item.Size),
			})
			continue
		}

		m := &modules[i]
		if end := item.End(); end > uint64(m.Base) {
			m.Size = max(m.Size, process.ProcessMemorySize(end-uint64(m.Base)))
		}
	}

	sort.Slice(modules, func(i, j int) bool {
		return modules[i].Base < modules[j].Base
	})
	return modules
}
