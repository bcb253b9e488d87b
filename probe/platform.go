//go:build !windows
// +build !windows

package probe

import (
	"os/exec"
	"syscall"
)

// detach starts the application in its own session so it does not share the
// relauncher's controlling terminal or signals.
func detach(cmd *exec.Cmd) {
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
