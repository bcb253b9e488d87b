package journal

////////////////////////////////////////////////////////////////////////////////
// The journal is a small state file recording how far the last update run
// got. It is rewritten on every stage transition and read on the next start,
// so a run that died half way is visible in the log of the following one.
// Files are written canonically and atomically: encode, write to a temporary
// sibling, fsync, rename into place, fsync the parent directory.
////////////////////////////////////////////////////////////////////////////////
import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	cjson "github.com/docker/go/canonical/json"
	"github.com/pkg/errors"
)

// Entry is the persisted state of one update run.
type Entry struct {
	RunID    string    `json:"run_id"`
	Stage    string    `json:"stage"`
	Outcome  string    `json:"outcome,omitempty"`
	Live     string    `json:"live"`
	Staging  string    `json:"staging"`
	Backup   string    `json:"backup"`
	Incoming string    `json:"incoming"`
	Started  time.Time `json:"started"`
	Updated  time.Time `json:"updated"`
}

// Save atomically replaces the journal at path with e.
func Save(path string, e *Entry) error {
	if e == nil {
		return errors.New("can't save nil journal entry")
	}
	buff, err := cjson.MarshalCanonical(e)
	if err != nil {
		return errors.Wrap(err, "marshalling journal entry")
	}
	if err := checkForDirectoryPresence(filepath.Dir(path)); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "creating temporary journal file")
	}
	if _, err := f.Write(buff); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "writing temporary journal file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "syncing temporary journal file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "closing temporary journal file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "moving journal file into place")
	}
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// Load reads the journal at path. A missing journal returns an error for
// which os.IsNotExist is true.
func Load(path string) (*Entry, error) {
	buff, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(buff, &e); err != nil {
		return nil, errors.Wrapf(err, "parsing journal %q", path)
	}
	return &e, nil
}

// Remove deletes the journal. Removing a missing journal is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing journal")
	}
	return nil
}

func checkForDirectoryPresence(dir string) error {
	fs, err := os.Stat(dir)
	if err != nil {
		return errors.Wrapf(err, "checking for presence of %q", dir)
	}
	if !fs.IsDir() {
		return errors.Errorf("%q exists but it is not a directory", dir)
	}
	return nil
}
