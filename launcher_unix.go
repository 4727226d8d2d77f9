//go:build unix && !linux

package pagerender

import (
	"os/exec"
	"syscall"
)

func sysProcAttr(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = new(syscall.SysProcAttr)
	}
	// Own process group, so the whole tree can be killed at once.
	cmd.SysProcAttr.Setpgid = true
}

// killProcessTree kills the process and all its descendants by signaling the
// process group, falling back to a direct kill of the leader.
func killProcessTree(cmd *exec.Cmd) {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
