package relauncher

import (
	"strings"

	"github.com/kolide/relauncher/mirror"
	"github.com/pkg/errors"
)

// ErrMissingArgument is returned by NewRequest when a required value is empty.
var ErrMissingArgument = errors.New("missing required argument")

// Request describes one update run. It is built once from validated
// configuration and not changed afterwards.
type Request struct {
	// ProcessNames are matched case-insensitively against running processes,
	// every match is killed before the update.
	ProcessNames []string
	// InputDir holds the new files.
	InputDir string
	// OutputDir is the live resource directory being updated.
	OutputDir string
	// AppPath is the executable launched after the update.
	AppPath string
	// Ignore holds relative path prefixes of InputDir that are not copied.
	Ignore []string
}

// NewRequest builds a Request from the comma separated process names and
// ignore list and the three paths.
func NewRequest(processNames, input, output, app, ignore string) (*Request, error) {
	req := &Request{
		ProcessNames: splitList(processNames),
		InputDir:     strings.TrimSpace(input),
		OutputDir:    strings.TrimSpace(output),
		AppPath:      strings.TrimSpace(app),
		Ignore:       mirror.NormalizePrefixes(strings.Split(ignore, ",")),
	}
	for _, required := range []struct {
		name, value string
	}{
		{"input", req.InputDir},
		{"output", req.OutputDir},
		{"app", req.AppPath},
	} {
		if required.value == "" {
			return nil, errors.Wrapf(ErrMissingArgument, "--%s", required.name)
		}
	}
	return req, nil
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
