// Package relauncher replaces the resources of a desktop application that
// cannot update itself. A Relauncher stops the running application, swaps the
// new files into its resource directory, starts it again and, once it has
// been seen running, discards the old files.
package relauncher

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/kolide/relauncher/journal"
	"github.com/kolide/relauncher/probe"
	"github.com/kolide/relauncher/reaper"
	"github.com/kolide/relauncher/swap"
	"github.com/pkg/errors"
)

const (
	defaultReapTimeout       = 5 * time.Second
	defaultReapPollInterval  = 500 * time.Millisecond
	defaultObservationWindow = 3 * time.Second
	journalSuffix            = "_journal.json"
)

// ErrInvalidSettings is returned by New when a duration is out of range.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings tune the waits of an update run.
type Settings struct {
	// ReapTimeout bounds how long to wait for killed processes to go away.
	ReapTimeout time.Duration `yaml:"reap_timeout"`
	// ReapPollInterval is how often the process table is checked while
	// waiting.
	ReapPollInterval time.Duration `yaml:"reap_poll_interval"`
	// ObservationWindow is how long the relaunched application must stay up
	// to count as started.
	ObservationWindow time.Duration `yaml:"observation_window"`
	// JournalPath is where run state is recorded. Defaults to a sibling of the
	// output directory.
	JournalPath string `yaml:"journal_path"`
}

// DefaultSettings returns the standard waits.
func DefaultSettings() Settings {
	return Settings{
		ReapTimeout:       defaultReapTimeout,
		ReapPollInterval:  defaultReapPollInterval,
		ObservationWindow: defaultObservationWindow,
	}
}

// Launcher starts the updated application and reports whether it came up.
type Launcher interface {
	LaunchAndProbe(exe string, window time.Duration) probe.Outcome
}

// Relauncher runs one update.
type Relauncher struct {
	request  *Request
	settings Settings
	logger   log.Logger
	clock    clock.Clock
	table    reaper.ProcessTable
	launcher Launcher

	runID string
	stage Stage
	entry *journal.Entry
}

// Option configures a Relauncher.
type Option func(*Relauncher)

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(r *Relauncher) {
		r.settings = s
	}
}

// WithClock sets the clock used for waits and timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Relauncher) {
		r.clock = c
	}
}

// WithProcessTable replaces the operating system process table.
func WithProcessTable(t reaper.ProcessTable) Option {
	return func(r *Relauncher) {
		r.table = t
	}
}

// WithLauncher replaces the launcher used to start the application.
func WithLauncher(l Launcher) Option {
	return func(r *Relauncher) {
		r.launcher = l
	}
}

// Result describes a finished run.
type Result struct {
	// Stage is the last stage reached.
	Stage Stage
	// StillAlive lists target processes that outlived the reap timeout.
	StillAlive []reaper.Process
	// Report is nil when staging never started.
	Report *swap.Report
	// Outcome of the relaunch, zero until Launched.
	Outcome probe.Outcome
}

// New creates a Relauncher for req.
func New(req *Request, logger log.Logger, opts ...Option) (*Relauncher, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	r := &Relauncher{
		request:  req,
		settings: DefaultSettings(),
		logger:   logger,
		clock:    clock.DefaultClock{},
		table:    reaper.NewProcessTable(),
		runID:    uuid.New().String(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.settings.ReapTimeout < 0 || r.settings.ReapPollInterval <= 0 || r.settings.ObservationWindow < 0 {
		return nil, ErrInvalidSettings
	}
	if r.settings.JournalPath == "" {
		r.settings.JournalPath = swap.PathsFor(req.OutputDir).Live + journalSuffix
	}
	if r.launcher == nil {
		r.launcher = probe.New(logger, probe.WithClock(r.clock))
	}
	return r, nil
}

// Run performs the update. Only structural failures, building the staging
// tree and the renames, are returned as errors. A relaunched application that
// does not stay up is not an error: the update stays applied and the input
// and backup directories are kept for diagnosis.
func (r *Relauncher) Run() (*Result, error) {
	req := r.request
	paths := swap.PathsFor(req.OutputDir)
	res := &Result{Stage: StageStart}

	r.checkPreviousRun()
	level.Info(r.logger).Log("msg", "Updater started", "run", r.runID)
	level.Info(r.logger).Log("msg", "App path: "+req.AppPath)
	level.Info(r.logger).Log("msg", "Process name(s): "+strings.Join(req.ProcessNames, ","))
	level.Info(r.logger).Log("msg", "Input dir: "+req.InputDir)
	level.Info(r.logger).Log("msg", "Output dir: "+req.OutputDir)
	if len(req.Ignore) > 0 {
		level.Info(r.logger).Log("msg", "Ignore list: "+strings.Join(req.Ignore, ","))
	}

	now := r.clock.Now()
	r.entry = &journal.Entry{
		RunID:    r.runID,
		Live:     paths.Live,
		Staging:  paths.Staging,
		Backup:   paths.Backup,
		Incoming: req.InputDir,
		Started:  now,
	}
	r.record(StageStart)

	res.StillAlive = reaper.New(r.table, r.logger, reaper.WithClock(r.clock)).
		Reap(req.ProcessNames, r.settings.ReapTimeout, r.settings.ReapPollInterval)
	if len(res.StillAlive) > 0 {
		r.handle(StepReap, errors.Errorf("%d target process(es) still running", len(res.StillAlive)))
	}
	r.advance(res, StageProcessesReaped)

	swapper := swap.New(r.logger)
	report, err := swapper.Prepare(req.OutputDir, req.InputDir, req.Ignore)
	res.Report = report
	if err := r.handle(StepStage, err); err != nil {
		return res, err
	}
	r.advance(res, StageUpdateStaged)

	if err := r.handle(StepSwap, swapper.Promote(report)); err != nil {
		return res, err
	}
	r.advance(res, StageSwapped)

	res.Outcome = r.launcher.LaunchAndProbe(req.AppPath, r.settings.ObservationWindow)
	r.entry.Outcome = res.Outcome.String()
	if !res.Outcome.Healthy() {
		r.handle(StepLaunch, errors.New(res.Outcome.String()))
	}
	r.advance(res, StageLaunched)

	switch {
	case !res.Outcome.Healthy():
		level.Warn(r.logger).Log("msg", "Main app did not verify as running, keeping input and backup for diagnosis",
			"input", req.InputDir, "backup", report.Backup)
		r.advance(res, StageBackupPreserved)
	case len(report.Skipped) > 0:
		r.removeDir("input", req.InputDir)
		level.Warn(r.logger).Log("msg", "Some live files were not carried forward, keeping backup",
			"backup", report.Backup, "skipped", strings.Join(report.Skipped, ","))
		r.advance(res, StageBackupPreserved)
	default:
		r.removeDir("input", req.InputDir)
		r.removeDir("backup", report.Backup)
		r.advance(res, StageCleanedUp)
	}

	cleaned := res.Stage == StageCleanedUp
	r.advance(res, StageFinished)
	if cleaned {
		r.handle(StepJournal, journal.Remove(r.settings.JournalPath))
	}
	level.Info(r.logger).Log("msg", "Updater finished", "outcome", res.Outcome.String())
	return res, nil
}

// handle applies FailurePolicy to a failed step. It returns err only when the
// step aborts the run.
func (r *Relauncher) handle(step Step, err error) error {
	if err == nil {
		return nil
	}
	policy := FailurePolicy[step]
	if policy == Abort {
		level.Error(r.logger).Log("msg", "Update aborted", "step", step, "stage", r.stage, "err", err)
		if r.entry != nil {
			r.entry.Outcome = fmt.Sprintf("aborted at %s: %v", step, err)
			r.save()
		}
		return err
	}
	level.Warn(r.logger).Log("msg", "Step failed, continuing", "step", step, "err", err)
	return nil
}

func (r *Relauncher) advance(res *Result, to Stage) {
	if !r.stage.next(to) {
		panic(fmt.Sprintf("illegal stage transition %s -> %s", r.stage, to))
	}
	res.Stage = to
	r.record(to)
}

func (r *Relauncher) record(to Stage) {
	r.stage = to
	level.Debug(r.logger).Log("msg", "Stage "+to.String(), "run", r.runID)
	if to == StageFinished && r.entry.Outcome == "" {
		r.entry.Outcome = "finished"
	}
	r.entry.Stage = to.String()
	r.save()
}

func (r *Relauncher) save() {
	r.entry.Updated = r.clock.Now()
	r.handle(StepJournal, journal.Save(r.settings.JournalPath, r.entry))
}

func (r *Relauncher) removeDir(what, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		r.handle(StepCleanup, errors.Wrapf(err, "removing %s directory %q", what, dir))
		return
	}
	level.Info(r.logger).Log("msg", "Removed "+what+" directory", "path", dir)
}

// checkPreviousRun logs what the journal says about the last run.
func (r *Relauncher) checkPreviousRun() {
	prev, err := journal.Load(r.settings.JournalPath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		r.handle(StepJournal, err)
		return
	}
	if prev.Stage != StageFinished.String() {
		level.Warn(r.logger).Log("msg", "Previous update run did not finish",
			"run", prev.RunID, "stage", prev.Stage, "outcome", prev.Outcome, "updated", prev.Updated)
		return
	}
	level.Info(r.logger).Log("msg", "Previous update run kept its backup",
		"run", prev.RunID, "outcome", prev.Outcome, "backup", prev.Backup)
}
