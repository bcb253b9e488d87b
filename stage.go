package relauncher

import "fmt"

// Stage is a step of the update state machine. Stages are only ever entered
// in increasing order, CleanedUp and BackupPreserved are alternatives.
type Stage int

const (
	StageStart Stage = iota
	StageProcessesReaped
	StageUpdateStaged
	StageSwapped
	StageLaunched
	StageCleanedUp
	StageBackupPreserved
	StageFinished
)

var stageNames = map[Stage]string{
	StageStart:           "Start",
	StageProcessesReaped: "ProcessesReaped",
	StageUpdateStaged:    "UpdateStaged",
	StageSwapped:         "Swapped",
	StageLaunched:        "Launched",
	StageCleanedUp:       "CleanedUp",
	StageBackupPreserved: "BackupPreserved",
	StageFinished:        "Finished",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// next reports whether moving from s to to is a legal transition.
func (s Stage) next(to Stage) bool {
	switch s {
	case StageLaunched:
		return to == StageCleanedUp || to == StageBackupPreserved
	case StageCleanedUp, StageBackupPreserved:
		return to == StageFinished
	case StageFinished:
		return false
	}
	return to == s+1
}
