package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func TestDiscover_Empty(t *testing.T) {
	files, err := Discover(nil, DiscoverOptions{})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscover_ExplicitFilesAreKept(t *testing.T) {
	dir := t.TempDir()
	odd := touch(t, filepath.Join(dir, "meter.jfif"))

	files, err := Discover([]string{odd}, DiscoverOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{odd}, files)

	files, err = Discover([]string{odd}, DiscoverOptions{Exclude: []string{"*.jfif"}})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscover_Directory(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, filepath.Join(dir, "a.jpg"))
	b := touch(t, filepath.Join(dir, "B.PNG"))
	touch(t, filepath.Join(dir, "notes.txt"))
	nested := touch(t, filepath.Join(dir, "sub", "c.jpeg"))

	files, err := Discover([]string{dir}, DiscoverOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, files)

	files, err = Discover([]string{dir}, DiscoverOptions{Recursive: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b, nested}, files)

	files, err = Discover([]string{dir}, DiscoverOptions{Recursive: true, Exclude: []string{"b.*"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, nested}, files)

	files, err = Discover([]string{dir}, DiscoverOptions{Include: []string{"*.jpeg"}, Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{nested}, files)
}

func TestDiscover_MissingPath(t *testing.T) {
	_, err := Discover([]string{filepath.Join(t.TempDir(), "nope")}, DiscoverOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot access")
}
