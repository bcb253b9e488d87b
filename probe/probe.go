// Package probe launches the updated application and checks, after a short
// observation window, whether it is still running. This is a liveness
// heuristic only, the application itself is never inspected.
package probe

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Status is the result class of a launch.
type Status int

const (
	// StillRunning means the application was alive when the window closed.
	StillRunning Status = iota
	// ExitedImmediately means the application terminated within the window.
	ExitedImmediately
	// LaunchFailed means the application could not be started at all.
	LaunchFailed
)

func (s Status) String() string {
	switch s {
	case StillRunning:
		return "still running"
	case ExitedImmediately:
		return "exited immediately"
	case LaunchFailed:
		return "launch failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the result of LaunchAndProbe.
type Outcome struct {
	Status Status
	// PID of the started process, zero when it was never started.
	PID int
	// ExitCode is set for ExitedImmediately. -1 when the process ended
	// without an exit code, for example when it was killed by a signal.
	ExitCode int
	// Err is set for LaunchFailed.
	Err error
}

// Healthy reports whether the application was still running.
func (o Outcome) Healthy() bool {
	return o.Status == StillRunning
}

func (o Outcome) String() string {
	switch o.Status {
	case ExitedImmediately:
		return fmt.Sprintf("%s (exit code %d)", o.Status, o.ExitCode)
	case LaunchFailed:
		return fmt.Sprintf("%s: %v", o.Status, o.Err)
	}
	return o.Status.String()
}

// Prober starts applications.
type Prober struct {
	logger log.Logger
	clock  clock.Clock
}

// Option configures a Prober.
type Option func(*Prober)

// WithClock sets the clock used to time the observation window.
func WithClock(c clock.Clock) Option {
	return func(p *Prober) {
		p.clock = c
	}
}

// New creates a Prober.
func New(logger log.Logger, opts ...Option) *Prober {
	p := &Prober{
		logger: logger,
		clock:  clock.DefaultClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LaunchAndProbe starts exe detached from the relauncher's own output, waits
// for window and then checks without blocking whether it has exited.
func (p *Prober) LaunchAndProbe(exe string, window time.Duration) Outcome {
	if _, err := os.Stat(exe); err != nil {
		level.Warn(p.logger).Log("msg", "Main app not found, skip restart", "app", exe, "err", err)
		return Outcome{Status: LaunchFailed, Err: errors.Wrapf(err, "locating %q", exe)}
	}

	level.Info(p.logger).Log("msg", "Restarting main app...", "app", exe)
	cmd := exec.Command(exe)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		level.Error(p.logger).Log("msg", "Failed to start main app", "app", exe, "err", err)
		return Outcome{Status: LaunchFailed, Err: errors.Wrapf(err, "starting %q", exe)}
	}
	pid := cmd.Process.Pid
	level.Info(p.logger).Log("msg", "Main app restarted", "pid", pid)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	<-p.clock.After(window)
	select {
	case err := <-done:
		code := exitCode(err)
		level.Warn(p.logger).Log("msg", "Main app exited during observation window", "pid", pid, "exit_code", code, "window", window)
		return Outcome{Status: ExitedImmediately, PID: pid, ExitCode: code}
	default:
		level.Info(p.logger).Log("msg", "Main app is running", "pid", pid, "window", window)
		return Outcome{Status: StillRunning, PID: pid}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
