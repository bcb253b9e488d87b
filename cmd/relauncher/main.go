package main

import (
	"fmt"
	"os"

	"github.com/kolide/relauncher/swap"
	"github.com/pkg/errors"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	exitOK = iota
	exitError
	exitStageFailed
	exitSwapFailed
)

func main() {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a run error to the process exit code. Staging failures leave
// the live directory untouched, swap failures may need manual recovery.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var swapErr *swap.Error
	if errors.As(err, &swapErr) {
		switch swapErr.Phase {
		case swap.PhaseStage:
			return exitStageFailed
		case swap.PhaseSwap:
			return exitSwapFailed
		}
	}
	return exitError
}
