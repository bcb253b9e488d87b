// Package mirror copies one directory tree onto another. It is a mirror-in,
// not an exact mirror: files only present in the destination are never
// removed, files present in both are overwritten by the source.
package mirror

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// ErrSourceNotFound is returned when the source tree does not exist.
var ErrSourceNotFound = errors.New("source directory not found")

// Options control a Mirror call.
type Options struct {
	// Ignore holds relative path prefixes, using "/" as separator. Entries
	// whose relative path starts with any of them are skipped together with
	// their subtrees.
	Ignore []string
	// SkipUnreadable logs and records source entries that cannot be read
	// instead of failing the whole copy.
	SkipUnreadable bool
}

// Result describes what a Mirror call did.
type Result struct {
	Copied  int
	Ignored []string
	Skipped []string
}

// Mirror recursively copies source into dest.
func Mirror(logger log.Logger, source, dest string, opts Options) (*Result, error) {
	fi, err := os.Stat(source)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrSourceNotFound, source)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "checking source %q", source)
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("%q exists but it is not a directory", source)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating destination %q", dest)
	}

	ignore := NormalizePrefixes(opts.Ignore)
	res := &Result{}
	err = filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if opts.SkipUnreadable && path != source {
				level.Warn(logger).Log("msg", "Skipped unreadable entry", "path", path, "err", err)
				if rel, relErr := filepath.Rel(source, path); relErr == nil {
					res.Skipped = append(res.Skipped, filepath.ToSlash(rel))
				}
				return nil
			}
			return errors.Wrapf(err, "walking %q", path)
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return errors.Wrapf(err, "relative path of %q", path)
		}
		if rel == "." {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if Ignored(relSlash, ignore) || (d.IsDir() && Ignored(relSlash+"/", ignore)) {
			level.Info(logger).Log("msg", "Ignored: "+relSlash)
			res.Ignored = append(res.Ignored, relSlash)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		target := filepath.Join(dest, rel)
		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return errors.Wrapf(err, "stat %q", path)
			}
			if err := ensureDir(target, info.Mode().Perm()); err != nil {
				return err
			}
		case d.Type()&fs.ModeSymlink != 0:
			if err := copySymlink(path, target); err != nil {
				return err
			}
			res.Copied++
			level.Info(logger).Log("msg", "Copied file: "+target)
		case d.Type().IsRegular():
			err := copyFile(path, target)
			if _, unreadable := err.(*sourceError); unreadable && opts.SkipUnreadable {
				level.Warn(logger).Log("msg", "Skipped unreadable file", "path", path, "err", err)
				res.Skipped = append(res.Skipped, relSlash)
				return nil
			}
			if err != nil {
				return err
			}
			res.Copied++
			level.Info(logger).Log("msg", "Copied file: "+target)
		default:
			level.Warn(logger).Log("msg", "Skipped special file", "path", path, "mode", d.Type().String())
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// NormalizePrefixes trims ignore prefixes, converts "\" separators to "/"
// and drops empty entries.
func NormalizePrefixes(prefixes []string) []string {
	var out []string
	for _, p := range prefixes {
		p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Ignored reports whether the slash separated relative path starts with any
// of the prefixes.
func Ignored(rel string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// sourceError marks a failure to read the source side of a copy.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Cause() error  { return e.err }

func ensureDir(path string, perm fs.FileMode) error {
	info, err := os.Lstat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return errors.Errorf("%q exists but it is not a directory", path)
	case os.IsNotExist(err):
		if err := os.MkdirAll(path, perm|0700); err != nil {
			return errors.Wrapf(err, "creating directory %q", path)
		}
		return nil
	default:
		return errors.Wrapf(err, "stat %q", path)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &sourceError{errors.Wrapf(err, "opening %q", src)}
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return &sourceError{errors.Wrapf(err, "stat %q", src)}
	}
	if err := ensureDir(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	// replace, never write through a link or into a read-only file
	if fi, err := os.Lstat(dst); err == nil && !fi.IsDir() {
		if err := os.Remove(dst); err != nil {
			return errors.Wrapf(err, "replacing %q", dst)
		}
	}
	perm := info.Mode().Perm()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrapf(err, "creating %q", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copying %q to %q", src, dst)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", dst)
	}
	return errors.Wrapf(os.Chmod(dst, perm), "setting mode of %q", dst)
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return errors.Wrapf(err, "reading link %q", src)
	}
	if err := ensureDir(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return errors.Errorf("cannot replace directory %q with a link", dst)
		}
		if err := os.Remove(dst); err != nil {
			return errors.Wrapf(err, "replacing %q", dst)
		}
	}
	return errors.Wrapf(os.Symlink(link, dst), "creating link %q", dst)
}
