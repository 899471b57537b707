//go:build !linux && !windows

package main

import (
	"errors"
	"io"

	"gopedump/process"
)

var errNoLive = errors.New("live processes can only be read on Linux and Windows")

func openLiveSource(pids []int) (process.Source, io.Closer, error) {
	return nil, nil, errNoLive
}

func captureLive(pid int, dir string) error {
	return errNoLive
}
