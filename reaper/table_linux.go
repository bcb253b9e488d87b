//go:build linux
// +build linux

package reaper

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// comm is truncated by the kernel to this many bytes.
const commLen = 15

type osTable struct{}

func (osTable) List() ([]Process, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, errors.Wrap(err, "reading /proc")
	}
	var procs []Process
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		// the process may exit while we walk the table
		name, ok := processName(pid)
		if !ok {
			continue
		}
		procs = append(procs, Process{PID: pid, Name: name})
	}
	return procs, nil
}

func processName(pid int) (string, bool) {
	dir := filepath.Join("/proc", strconv.Itoa(pid))
	if zombie(dir) {
		return "", false
	}
	comm, err := ioutil.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(comm))
	if len(name) < commLen {
		return name, true
	}
	if exe, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		return filepath.Base(strings.TrimSuffix(exe, " (deleted)")), true
	}
	if cmdline, err := ioutil.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
		if argv0 := strings.SplitN(string(cmdline), "\x00", 2)[0]; argv0 != "" {
			return filepath.Base(argv0), true
		}
	}
	return name, true
}

// zombie reports whether the process has exited but not yet been reaped by
// its parent. Such entries no longer hold any resources.
func zombie(dir string) bool {
	stat, err := ioutil.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return false
	}
	// the state follows the parenthesised command name
	i := strings.LastIndexByte(string(stat), ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] == 'Z'
}
