// Package swap replaces the contents of a live directory with a new tree.
//
// The new tree is assembled in a sibling staging directory ("<live>_new")
// from the current live contents plus the incoming files. The live directory
// is then renamed aside to "<live>_old" and the staging directory renamed to
// the live name. Up to the first rename the live directory is never touched,
// after it the staging tree is complete and the backup holds the old tree.
package swap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/relauncher/mirror"
	"github.com/pkg/errors"
)

const (
	stagingSuffix = "_new"
	backupSuffix  = "_old"
)

// Phase tells which half of an update a failure happened in.
type Phase int

const (
	// PhaseStage failures happen while building the staging tree. The live
	// directory is untouched.
	PhaseStage Phase = iota
	// PhaseSwap failures happen during the renames. The live directory may be
	// missing and need manual recovery from the backup.
	PhaseSwap
)

func (p Phase) String() string {
	switch p {
	case PhaseStage:
		return "stage"
	case PhaseSwap:
		return "swap"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Error is returned by every failing Swapper operation.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return e.Phase.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func stageErr(err error) error { return &Error{Phase: PhaseStage, Err: err} }
func swapErr(err error) error  { return &Error{Phase: PhaseSwap, Err: err} }

// Paths are the three sibling directories involved in an update.
type Paths struct {
	Live    string
	Staging string
	Backup  string
}

// PathsFor derives the staging and backup siblings of live. Relative paths
// are made absolute so "." still has a parent to hold the siblings.
func PathsFor(live string) Paths {
	if abs, err := filepath.Abs(live); err == nil {
		live = abs
	} else {
		live = filepath.Clean(live)
	}
	return Paths{
		Live:    live,
		Staging: live + stagingSuffix,
		Backup:  live + backupSuffix,
	}
}

// Report describes a prepared update.
type Report struct {
	Paths
	// Recovered is set when a backup left by an interrupted run was moved
	// back to the live name before staging.
	Recovered bool
	// LiveExisted is set when there was a live tree to carry forward.
	LiveExisted bool
	// Copied counts the files written into staging.
	Copied int
	// Skipped lists live files that could not be carried forward.
	Skipped []string
}

// Swapper performs updates.
type Swapper struct {
	logger log.Logger
}

// New creates a Swapper.
func New(logger log.Logger) *Swapper {
	return &Swapper{logger: logger}
}

// Apply prepares and promotes an update of live with the files in incoming.
func (s *Swapper) Apply(live, incoming string, ignore []string) (*Report, error) {
	report, err := s.Prepare(live, incoming, ignore)
	if err != nil {
		return report, err
	}
	return report, s.Promote(report)
}

// Prepare builds the staging tree and clears any previous backup. On error
// the live directory is unchanged.
func (s *Swapper) Prepare(live, incoming string, ignore []string) (*Report, error) {
	report := &Report{Paths: PathsFor(live)}

	liveExists, err := dirExists(report.Live)
	if err != nil {
		return report, stageErr(err)
	}
	backupExists, err := dirExists(report.Backup)
	if err != nil {
		return report, stageErr(err)
	}
	// a previous run stopped between the two renames, the backup is the only
	// copy of the old tree
	if !liveExists && backupExists {
		level.Warn(s.logger).Log("msg", "Recovering interrupted update", "from", report.Backup, "to", report.Live)
		if err := os.Rename(report.Backup, report.Live); err != nil {
			return report, stageErr(errors.Wrap(err, "restoring backup from interrupted update"))
		}
		report.Recovered = true
		liveExists = true
	}
	report.LiveExisted = liveExists

	if err := os.RemoveAll(report.Staging); err != nil {
		return report, stageErr(errors.Wrapf(err, "removing stale staging directory %q", report.Staging))
	}
	if err := os.MkdirAll(report.Staging, 0755); err != nil {
		return report, stageErr(errors.Wrapf(err, "creating staging directory %q", report.Staging))
	}

	if liveExists {
		res, err := mirror.Mirror(s.logger, report.Live, report.Staging, mirror.Options{SkipUnreadable: true})
		if err != nil {
			s.discardStaging(report)
			return report, stageErr(errors.Wrap(err, "carrying live files into staging"))
		}
		report.Copied += res.Copied
		report.Skipped = res.Skipped
	}

	res, err := mirror.Mirror(s.logger, incoming, report.Staging, mirror.Options{Ignore: ignore})
	if err != nil {
		s.discardStaging(report)
		return report, stageErr(errors.Wrap(err, "copying update into staging"))
	}
	report.Copied += res.Copied

	if err := os.RemoveAll(report.Backup); err != nil {
		s.discardStaging(report)
		return report, stageErr(errors.Wrapf(err, "removing previous backup %q", report.Backup))
	}
	level.Info(s.logger).Log("msg", "File copy completed successfully", "staging", report.Staging, "files", report.Copied)
	return report, nil
}

// Promote moves the live tree to the backup name and the staging tree to the
// live name. Failures here are not rolled back.
func (s *Swapper) Promote(report *Report) error {
	if report.LiveExisted {
		if err := os.Rename(report.Live, report.Backup); err != nil {
			level.Error(s.logger).Log("msg", "Failed to move live directory aside", "live", report.Live, "backup", report.Backup, "err", err)
			return swapErr(errors.Wrapf(err, "renaming %q to %q", report.Live, report.Backup))
		}
	}
	if err := os.Rename(report.Staging, report.Live); err != nil {
		level.Error(s.logger).Log("msg", "Failed to promote staging directory, manual recovery required", "staging", report.Staging, "live", report.Live, "backup", report.Backup, "err", err)
		return swapErr(errors.Wrapf(err, "renaming %q to %q", report.Staging, report.Live))
	}
	level.Info(s.logger).Log("msg", "Update promoted", "live", report.Live)
	return nil
}

func (s *Swapper) discardStaging(report *Report) {
	if err := os.RemoveAll(report.Staging); err != nil {
		level.Warn(s.logger).Log("msg", "Failed to remove staging directory", "path", report.Staging, "err", err)
	}
}

func dirExists(dir string) (bool, error) {
	fi, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "checking for presence of %q", dir)
	}
	if !fi.IsDir() {
		return false, errors.Errorf("%q exists but it is not a directory", dir)
	}
	return true, nil
}
