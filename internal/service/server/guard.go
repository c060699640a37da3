package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ps "github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned when another server process is found.
var ErrAlreadyRunning = errors.New("another flag-arbiter instance is already running")

// ensureSingleInstance fails when another process runs the same executable.
// Only one server may own the state file and the display.
func ensureSingleInstance() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	processList, err := ps.Processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	if other := findOtherInstance(processList, os.Getpid(), filepath.Base(executable)); other != nil {
		return fmt.Errorf("%w: pid %d", ErrAlreadyRunning, other.Pid())
	}

	return nil
}

// findOtherInstance returns a process named name that is not selfPID.
func findOtherInstance(processList []ps.Process, selfPID int, name string) ps.Process {
	for _, process := range processList {
		if process.Pid() == selfPID {
			continue
		}

		if process.Executable() == name {
			return process
		}
	}

	return nil
}
