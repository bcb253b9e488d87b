package main

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/kolide/relauncher"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// loadSettings reads the optional YAML settings file. Keys that are absent
// keep their default. Durations are written as Go duration strings:
//
//	reap_timeout: 10s
//	reap_poll_interval: 250ms
//	observation_window: 5s
//	journal_path: /var/lib/yourapp/update_journal.json
func loadSettings(path string) (relauncher.Settings, error) {
	settings := relauncher.DefaultSettings()
	if path == "" {
		return settings, nil
	}
	buff, err := ioutil.ReadFile(path)
	if err != nil {
		return settings, errors.Wrap(err, "reading config file")
	}
	dec := yaml.NewDecoder(bytes.NewReader(buff))
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil && err != io.EOF {
		return settings, errors.Wrapf(err, "parsing config file %q", path)
	}
	return settings, nil
}
