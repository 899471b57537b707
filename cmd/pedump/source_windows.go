//go:build windows

package main

import (
	"fmt"
	"io"

	"gopedump/process"
	"gopedump/process_windows"
)

func openLiveSource(pids []int) (process.Source, io.Closer, error) {
	ids := make([]process.ProcessID, 0, len(pids))
	for _, pid := range pids {
		ids = append(ids, process.ProcessID(pid))
	}
	s := process_windows.NewSource(ids...)
	return s, s, nil
}

func captureLive(pid int, dir string) error {
	p, err := process_windows.NewWithPID(process.ProcessID(pid))
	if err != nil {
		return fmt.Errorf("attach to %d: %w", pid, err)
	}
	defer p.Close()

	return p.Save(dir)
}
