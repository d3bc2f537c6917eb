package devicemanager

import (
	"os"
	"os/exec"
)

// Child is the supervised-process side of a spawn: enough surface for
// the manager to identify and signal it without depending on
// *exec.Cmd directly, so tests can substitute a fake.
type Child interface {
	Pid() int
	Signal(os.Signal) error
	// Wait blocks until the child exits. In production this is
	// *exec.Cmd.Wait, which already owns SIGCHLD handling inside the
	// Go runtime's process reaper — no separate signal plumbing is
	// needed on top of it.
	Wait() error
}

// SpawnFunc starts one child process given its argv, returning a
// handle the manager tracks in the registry. Abstracted through a
// function value (spec §4.6 "spawn is abstracted through a function
// pointer so tests can substitute a fake"), the same injection style
// as pkg/llio.Backend lets a simulated transport stand in for real
// hardware.
type SpawnFunc func(name string, args []string) (Child, error)

type cmdChild struct {
	cmd *exec.Cmd
}

func (c *cmdChild) Pid() int                  { return c.cmd.Process.Pid }
func (c *cmdChild) Signal(sig os.Signal) error { return c.cmd.Process.Signal(sig) }
func (c *cmdChild) Wait() error               { return c.cmd.Wait() }

// RealSpawn starts name with args as a real child process, inheriting
// the manager's environment. This is the production SpawnFunc.
func RealSpawn(name string, args []string) (Child, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdChild{cmd: cmd}, nil
}
