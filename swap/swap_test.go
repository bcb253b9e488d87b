package swap

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/kolide/relauncher/mirror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.Nil(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.Nil(t, ioutil.WriteFile(p, []byte(content), 0644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	files := make(map[string]string)
	err := filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		require.Nil(t, err)
		buff, err := ioutil.ReadFile(p)
		require.Nil(t, err)
		files[filepath.ToSlash(rel)] = string(buff)
		return nil
	})
	require.Nil(t, err)
	return files
}

func assertMissing(t *testing.T, p string) {
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err), "%s should not exist", p)
}

// fixture lays out <root>/resources (live) and <root>/update (incoming).
func fixture(t *testing.T, live, incoming map[string]string) (string, Paths, string) {
	root, err := ioutil.TempDir("", "swap")
	require.Nil(t, err)
	paths := PathsFor(filepath.Join(root, "resources"))
	update := filepath.Join(root, "update")
	require.Nil(t, os.MkdirAll(update, 0755))
	if live != nil {
		require.Nil(t, os.MkdirAll(paths.Live, 0755))
		writeTree(t, paths.Live, live)
	}
	writeTree(t, update, incoming)
	return root, paths, update
}

func TestPathsFor(t *testing.T) {
	live, err := filepath.Abs(filepath.Join("app", "resources"))
	require.Nil(t, err)
	p := PathsFor(filepath.Join("app", "resources") + string(filepath.Separator))
	assert.Equal(t, live, p.Live)
	assert.Equal(t, live+"_new", p.Staging)
	assert.Equal(t, live+"_old", p.Backup)
}

func TestPathsForCurrentDirectory(t *testing.T) {
	wd, err := os.Getwd()
	require.Nil(t, err)
	p := PathsFor(".")
	assert.Equal(t, wd, p.Live)
	assert.Equal(t, wd+"_new", p.Staging)
	assert.Equal(t, wd+"_old", p.Backup)
	// siblings, not children
	assert.Equal(t, filepath.Dir(wd), filepath.Dir(p.Staging))
}

func TestApplyReplacesReadOnlyLiveFile(t *testing.T) {
	root, paths, update := fixture(t,
		map[string]string{"a.txt": "v1", "b.txt": "keep"},
		map[string]string{"a.txt": "v2"},
	)
	defer os.RemoveAll(root)
	require.Nil(t, os.Chmod(filepath.Join(paths.Live, "a.txt"), 0444))

	report, err := New(log.NewNopLogger()).Apply(paths.Live, update, nil)
	require.Nil(t, err)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, map[string]string{"a.txt": "v2", "b.txt": "keep"}, readTree(t, paths.Live))
	assert.Equal(t, map[string]string{"a.txt": "v1", "b.txt": "keep"}, readTree(t, paths.Backup))
}

func TestApplyCarriesForwardAndBacksUp(t *testing.T) {
	root, paths, update := fixture(t,
		map[string]string{"a.txt": "v1", "b.txt": "keep", "sub1/sub2/bar": "other stuff"},
		map[string]string{"a.txt": "v2", "sub1/new": "added"},
	)
	defer os.RemoveAll(root)

	report, err := New(log.NewNopLogger()).Apply(paths.Live, update, nil)
	require.Nil(t, err)
	assert.True(t, report.LiveExisted)
	assert.False(t, report.Recovered)
	assert.Empty(t, report.Skipped)

	assert.Equal(t, map[string]string{
		"a.txt":         "v2",
		"b.txt":         "keep",
		"sub1/sub2/bar": "other stuff",
		"sub1/new":      "added",
	}, readTree(t, paths.Live))
	assert.Equal(t, map[string]string{
		"a.txt":         "v1",
		"b.txt":         "keep",
		"sub1/sub2/bar": "other stuff",
	}, readTree(t, paths.Backup))
	assertMissing(t, paths.Staging)
	// incoming is left for the caller to clean up
	assert.Equal(t, map[string]string{"a.txt": "v2", "sub1/new": "added"}, readTree(t, update))
}

func TestApplyWithoutLiveDirectory(t *testing.T) {
	root, paths, update := fixture(t, nil, map[string]string{"a.txt": "v1"})
	defer os.RemoveAll(root)

	report, err := New(log.NewNopLogger()).Apply(paths.Live, update, nil)
	require.Nil(t, err)
	assert.False(t, report.LiveExisted)
	assert.Equal(t, map[string]string{"a.txt": "v1"}, readTree(t, paths.Live))
	assertMissing(t, paths.Backup)
}

func TestApplyHonoursIgnore(t *testing.T) {
	root, paths, update := fixture(t,
		map[string]string{"cache/x.tmp": "live cache"},
		map[string]string{
			"cache/x.tmp":      "x",
			"logs/debug/a.log": "a",
			"logs/info.log":    "info",
			"app.bin":          "bin",
		},
	)
	defer os.RemoveAll(root)

	_, err := New(log.NewNopLogger()).Apply(paths.Live, update, []string{"cache", "logs/debug"})
	require.Nil(t, err)
	// ignore applies to incoming files only, live files are carried as is
	assert.Equal(t, map[string]string{
		"cache/x.tmp":   "live cache",
		"logs/info.log": "info",
		"app.bin":       "bin",
	}, readTree(t, paths.Live))
}

func TestApplyReplacesLeftovers(t *testing.T) {
	root, paths, update := fixture(t,
		map[string]string{"a.txt": "v1"},
		map[string]string{"a.txt": "v2"},
	)
	defer os.RemoveAll(root)
	writeTree(t, paths.Staging, map[string]string{"half.txt": "partial"})
	writeTree(t, paths.Backup, map[string]string{"ancient.txt": "v0"})

	_, err := New(log.NewNopLogger()).Apply(paths.Live, update, nil)
	require.Nil(t, err)
	assert.Equal(t, map[string]string{"a.txt": "v2"}, readTree(t, paths.Live))
	assert.Equal(t, map[string]string{"a.txt": "v1"}, readTree(t, paths.Backup))
	assertMissing(t, paths.Staging)
}

func TestApplyIsIdempotent(t *testing.T) {
	root, paths, update := fixture(t,
		map[string]string{"a.txt": "v1", "b.txt": "keep"},
		map[string]string{"a.txt": "v2", "c/d.txt": "new"},
	)
	defer os.RemoveAll(root)
	swapper := New(log.NewNopLogger())

	_, err := swapper.Apply(paths.Live, update, nil)
	require.Nil(t, err)
	first := readTree(t, paths.Live)
	_, err = swapper.Apply(paths.Live, update, nil)
	require.Nil(t, err)
	assert.Equal(t, first, readTree(t, paths.Live))
}

func TestMissingIncomingLeavesLiveUntouched(t *testing.T) {
	root, paths, update := fixture(t,
		map[string]string{"a.txt": "v1"},
		map[string]string{"a.txt": "v2"},
	)
	defer os.RemoveAll(root)
	require.Nil(t, os.RemoveAll(update))
	writeTree(t, paths.Backup, map[string]string{"a.txt": "v0"})

	_, err := New(log.NewNopLogger()).Apply(paths.Live, update, nil)
	require.NotNil(t, err)
	var swapErr *Error
	require.True(t, errors.As(err, &swapErr))
	assert.Equal(t, PhaseStage, swapErr.Phase)
	assert.Equal(t, mirror.ErrSourceNotFound, errors.Cause(swapErr.Err))

	assert.Equal(t, map[string]string{"a.txt": "v1"}, readTree(t, paths.Live))
	// the previous backup is only replaced once staging succeeded
	assert.Equal(t, map[string]string{"a.txt": "v0"}, readTree(t, paths.Backup))
	assertMissing(t, paths.Staging)
}

func TestInterruptedSwapRecovers(t *testing.T) {
	root, paths, update := fixture(t,
		map[string]string{"a.txt": "v1", "user.db": "precious"},
		map[string]string{"a.txt": "v2"},
	)
	defer os.RemoveAll(root)
	swapper := New(log.NewNopLogger())

	// stop right after the live directory was moved aside
	report, err := swapper.Prepare(paths.Live, update, nil)
	require.Nil(t, err)
	require.Nil(t, os.Rename(report.Live, report.Backup))
	assertMissing(t, paths.Live)
	assert.Equal(t, map[string]string{"a.txt": "v1", "user.db": "precious"}, readTree(t, paths.Backup))

	report, err = swapper.Apply(paths.Live, update, nil)
	require.Nil(t, err)
	assert.True(t, report.Recovered)
	assert.Equal(t, map[string]string{"a.txt": "v2", "user.db": "precious"}, readTree(t, paths.Live))
	assert.Equal(t, map[string]string{"a.txt": "v1", "user.db": "precious"}, readTree(t, paths.Backup))
	assertMissing(t, paths.Staging)
}

func TestPromoteFailureIsSwapPhase(t *testing.T) {
	root, paths, update := fixture(t,
		map[string]string{"a.txt": "v1"},
		map[string]string{"a.txt": "v2"},
	)
	defer os.RemoveAll(root)
	swapper := New(log.NewNopLogger())

	report, err := swapper.Prepare(paths.Live, update, nil)
	require.Nil(t, err)
	require.Nil(t, os.RemoveAll(report.Staging))

	err = swapper.Promote(report)
	require.NotNil(t, err)
	var swapErr *Error
	require.True(t, errors.As(err, &swapErr))
	assert.Equal(t, PhaseSwap, swapErr.Phase)
	// the old tree is safe in the backup
	assert.Equal(t, map[string]string{"a.txt": "v1"}, readTree(t, paths.Backup))
}

func TestLiveNotADirectory(t *testing.T) {
	root, paths, update := fixture(t, nil, map[string]string{"a.txt": "v2"})
	defer os.RemoveAll(root)
	require.Nil(t, ioutil.WriteFile(paths.Live, []byte("file"), 0644))

	_, err := New(log.NewNopLogger()).Apply(paths.Live, update, nil)
	require.NotNil(t, err)
	var swapErr *Error
	require.True(t, errors.As(err, &swapErr))
	assert.Equal(t, PhaseStage, swapErr.Phase)
}
