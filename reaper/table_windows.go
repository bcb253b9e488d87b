package reaper

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

type osTable struct{}

func (osTable) List() ([]Process, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, errors.Wrap(err, "creating process snapshot")
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	var procs []Process
	for err = windows.Process32First(snapshot, &entry); err == nil; err = windows.Process32Next(snapshot, &entry) {
		procs = append(procs, Process{
			PID:  int(entry.ProcessID),
			Name: windows.UTF16ToString(entry.ExeFile[:]),
		})
	}
	if err != windows.ERROR_NO_MORE_FILES {
		return nil, errors.Wrap(err, "walking process snapshot")
	}
	return procs, nil
}

func (osTable) Terminate(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return errors.Wrapf(err, "opening pid %d", pid)
	}
	defer windows.CloseHandle(h)
	return errors.Wrapf(windows.TerminateProcess(h, 1), "terminating pid %d", pid)
}
