//go:build !windows
// +build !windows

package reaper

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func (osTable) Terminate(pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if err == unix.ESRCH {
		return nil
	}
	return errors.Wrapf(err, "killing pid %d", pid)
}
