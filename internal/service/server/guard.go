package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned when another server process owns the store.
var ErrAlreadyRunning = errors.New("another door-monitor process is already running")

// processLister returns the process table.
type processLister func() ([]ps.Process, error)

// ensureSingleInstance fails when another process runs the same executable.
func ensureSingleInstance(list processLister, executable string, selfPID int) error {
	processList, err := list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Pid() == selfPID {
			continue
		}

		if sameExecutable(process.Executable(), executable) {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, process.Pid())
		}
	}

	return nil
}

// currentExecutable returns the base name of the running binary.
func currentExecutable() string {
	path, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0])
	}

	return filepath.Base(path)
}

// sameExecutable compares executable names, ignoring case on Windows.
func sameExecutable(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}

	return a == b
}
