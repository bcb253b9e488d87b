package relauncher

// Step is an operation of an update run that can fail.
type Step string

const (
	StepJournal Step = "journal"
	StepReap    Step = "reap"
	StepStage   Step = "stage"
	StepSwap    Step = "swap"
	StepLaunch  Step = "launch"
	StepCleanup Step = "cleanup"
)

// Policy says what a failure of a step does to the run.
type Policy int

const (
	// Continue logs the failure and carries on with the next stage.
	Continue Policy = iota
	// Abort ends the run with an error.
	Abort
)

func (p Policy) String() string {
	if p == Abort {
		return "abort"
	}
	return "continue"
}

// FailurePolicy is the complete table of how failures are handled. Only the
// structural failures abort: building staging and the renames. A process that
// will not die, an application that does not come up and a directory that
// cannot be deleted are logged and the run goes on.
var FailurePolicy = map[Step]Policy{
	StepJournal: Continue,
	StepReap:    Continue,
	StepStage:   Abort,
	StepSwap:    Abort,
	StepLaunch:  Continue,
	StepCleanup: Continue,
}
