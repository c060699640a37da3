package server

import (
	"testing"

	ps "github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"
)

// fakeProcess implements ps.Process.
type fakeProcess struct {
	pid  int
	name string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 1 }
func (p fakeProcess) Executable() string { return p.name }

// TestFindOtherInstance ignores the current process and other executables.
func TestFindOtherInstance(t *testing.T) {
	t.Parallel()

	processes := []ps.Process{
		fakeProcess{pid: 10, name: "flag-arbiter"},
		fakeProcess{pid: 11, name: "flagctl"},
	}

	require.Nil(t, findOtherInstance(processes, 10, "flag-arbiter"))

	processes = append(processes, fakeProcess{pid: 12, name: "flag-arbiter"})

	other := findOtherInstance(processes, 10, "flag-arbiter")
	require.NotNil(t, other)
	require.Equal(t, 12, other.Pid())
}
