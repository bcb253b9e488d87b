// Package reaper terminates every running process that matches a set of
// names and waits, for a bounded time, until they are gone.
package reaper

import (
	"os"
	"strings"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Process is an entry in the OS process table.
type Process struct {
	PID  int
	Name string
}

// ProcessTable is the part of the operating system the reaper depends on.
type ProcessTable interface {
	// List returns a snapshot of the running processes.
	List() ([]Process, error)
	// Terminate forcefully ends the process.
	Terminate(pid int) error
}

// NewProcessTable returns the process table of the running operating system.
func NewProcessTable() ProcessTable {
	return osTable{}
}

// Reaper finds and kills processes by name.
type Reaper struct {
	table  ProcessTable
	logger log.Logger
	clock  clock.Clock
	self   int
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithClock sets the clock used for the poll loop.
func WithClock(c clock.Clock) Option {
	return func(r *Reaper) {
		r.clock = c
	}
}

// New creates a Reaper over table.
func New(table ProcessTable, logger log.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		table:  table,
		logger: logger,
		clock:  clock.DefaultClock{},
		self:   os.Getpid(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reap sends a kill to every process whose name equals one of names, ignoring
// case, then re-checks the process table every pollInterval until none are
// left or maxWait has elapsed. Reap never fails, it returns the processes that
// were still alive when it gave up.
func (r *Reaper) Reap(names []string, maxWait, pollInterval time.Duration) []Process {
	targets := NormalizeNames(names)
	if len(targets) == 0 {
		level.Info(r.logger).Log("msg", "No process names provided, skipping kill step.")
		return nil
	}

	procs, err := r.table.List()
	if err != nil {
		level.Error(r.logger).Log("msg", "Failed to list processes", "err", err)
	}
	for _, p := range r.match(procs, targets) {
		level.Info(r.logger).Log("msg", "Killing process", "name", p.Name, "pid", p.PID)
		if err := r.table.Terminate(p.PID); err != nil {
			level.Warn(r.logger).Log("msg", "Failed to send kill signal", "name", p.Name, "pid", p.PID, "err", err)
		}
	}

	deadline := r.clock.Now().Add(maxWait)
	for {
		alive, err := r.alive(targets)
		if err == nil && len(alive) == 0 {
			level.Info(r.logger).Log("msg", "All target processes have exited.")
			return nil
		}
		if !r.clock.Now().Before(deadline) {
			level.Warn(r.logger).Log("msg", "Timeout waiting for processes to exit, continue anyway.", "alive", processNames(alive))
			return alive
		}
		if err != nil {
			level.Error(r.logger).Log("msg", "Failed to list processes", "err", err)
		} else {
			level.Info(r.logger).Log("msg", "Waiting for processes to exit", "alive", processNames(alive))
		}
		<-r.clock.After(pollInterval)
	}
}

func (r *Reaper) alive(targets map[string]struct{}) ([]Process, error) {
	procs, err := r.table.List()
	if err != nil {
		return nil, err
	}
	return r.match(procs, targets), nil
}

func (r *Reaper) match(procs []Process, targets map[string]struct{}) []Process {
	var matched []Process
	for _, p := range procs {
		if p.PID == r.self {
			continue
		}
		if _, ok := targets[strings.ToLower(strings.TrimSpace(p.Name))]; ok {
			matched = append(matched, p)
		}
	}
	return matched
}

// NormalizeNames trims and lower-cases names, dropping empty entries.
func NormalizeNames(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

func processNames(procs []Process) string {
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		names = append(names, p.Name)
	}
	return strings.Join(names, ",")
}
