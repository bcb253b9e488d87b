// Package logsink is the relauncher's log sink. Every record is rendered as a
// single line, "[2006-01-02 15:04:05] message key=value ...", and written to
// standard output and to an append-only log file.
package logsink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/WatchBeam/clock"
	"github.com/go-kit/kit/log"
	"github.com/go-logfmt/logfmt"
	"github.com/pkg/errors"
)

const timeLayout = "2006-01-02 15:04:05"

// Sink is a go-kit logger. It is safe for use from multiple goroutines, each
// record is written with a single call to the underlying writer.
type Sink struct {
	w     io.Writer
	file  *os.File
	clock clock.Clock
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock sets the clock used to timestamp records.
func WithClock(c clock.Clock) Option {
	return func(s *Sink) {
		s.clock = c
	}
}

// New opens (creating if needed) the log file at path in append mode and
// returns a Sink writing to both the file and stdout.
func New(path string, opts ...Option) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening log file %q", path)
	}
	s := newSink(io.MultiWriter(os.Stdout, f), opts...)
	s.file = f
	return s, nil
}

// NewWriter returns a Sink that writes lines to w only.
func NewWriter(w io.Writer, opts ...Option) *Sink {
	return newSink(w, opts...)
}

func newSink(w io.Writer, opts ...Option) *Sink {
	s := &Sink{
		w:     log.NewSyncWriter(w),
		clock: clock.DefaultClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultPath is a log file named for the running executable, placed beside it.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(err, "locating running executable")
	}
	base := filepath.Base(exe)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(exe), base+".log"), nil
}

// Log implements log.Logger. The "msg" value becomes the line's message, the
// remaining pairs are appended in logfmt.
func (s *Sink) Log(keyvals ...interface{}) error {
	var msg string
	rest := make([]interface{}, 0, len(keyvals))
	for i := 0; i < len(keyvals); i += 2 {
		var v interface{} = log.ErrMissingValue
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		if k, ok := keyvals[i].(string); ok && k == "msg" {
			msg = fmt.Sprint(v)
			continue
		}
		rest = append(rest, keyvals[i], v)
	}

	var buf bytes.Buffer
	buf.WriteString("[")
	buf.WriteString(s.clock.Now().Format(timeLayout))
	buf.WriteString("] ")
	buf.WriteString(msg)
	if len(rest) > 0 {
		fields, err := logfmt.MarshalKeyvals(rest...)
		if err != nil {
			return errors.Wrap(err, "encoding log fields")
		}
		if msg != "" {
			buf.WriteByte(' ')
		}
		buf.Write(fields)
	}
	buf.WriteByte('\n')

	_, err := s.w.Write(buf.Bytes())
	return err
}

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
