//go:build windows

package pagerender

import (
	"os/exec"
	"strconv"
)

func sysProcAttr(cmd *exec.Cmd) {}

// killProcessTree kills the process and its descendants. taskkill handles the
// tree; a direct kill of the leader is the fallback.
func killProcessTree(cmd *exec.Cmd) {
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		_ = cmd.Process.Kill()
	}
}
