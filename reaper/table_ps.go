//go:build !linux && !windows
// +build !linux,!windows

package reaper

import (
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type osTable struct{}

func (osTable) List() ([]Process, error) {
	out, err := exec.Command("ps", "-axo", "pid=,stat=,comm=").Output()
	if err != nil {
		return nil, errors.Wrap(err, "running ps")
	}
	var procs []Process
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		if strings.HasPrefix(fields[1], "Z") {
			continue
		}
		comm := strings.Join(fields[2:], " ")
		procs = append(procs, Process{PID: pid, Name: filepath.Base(comm)})
	}
	return procs, nil
}
