package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlob(t *testing.T, dir, name string, extra byte) {
	blob := append(EmptyModule(), 0, 0, 0, extra)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+ShaderExt), blob, 0o644))
}

func TestLibraryLoadsBlobs(t *testing.T) {
	dir := t.TempDir()
	writeBlob(t, dir, "shadow.rgen", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rmiss.spv"), []byte("#version 460"), 0o644))

	lib, err := NewLibrary(&LibraryConfig{Dir: dir})
	require.NoError(t, err)

	data, err := lib.Load("shadow.rgen")
	require.NoError(t, err)
	assert.Len(t, data, 24)

	_, err = lib.Load("broken.rmiss")
	assert.Error(t, err)
	_, err = lib.Load("missing.rchit")
	assert.Error(t, err)
}

func TestLibraryAllowMissing(t *testing.T) {
	lib, err := NewLibrary(&LibraryConfig{Dir: filepath.Join(t.TempDir(), "none"), AllowMissing: true})
	require.NoError(t, err)
	data, err := lib.Load("ao.rgen")
	require.NoError(t, err)
	assert.Equal(t, EmptyModule(), data)

	_, err = NewLibrary(&LibraryConfig{Dir: filepath.Join(t.TempDir(), "none")})
	assert.Error(t, err)
	_, err = NewLibrary(&LibraryConfig{})
	assert.Error(t, err)
}

func TestWatcherReportsKnownShaders(t *testing.T) {
	dir := t.TempDir()
	writeBlob(t, dir, "ao.rgen", 1)
	w, err := NewWatcher(dir, []string{"ao.rgen", "shadow.rgen"})
	require.NoError(t, err)
	defer w.Close()

	writeBlob(t, dir, "ao.rgen", 2)
	writeBlob(t, dir, "shadow.rgen", 2)
	writeBlob(t, dir, "unrelated", 2)

	seen := map[string]bool{}
	require.Eventually(t, func() bool {
		for _, n := range w.Poll() {
			seen[n] = true
		}
		return seen["ao.rgen"] && seen["shadow.rgen"]
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, seen["unrelated"])
}

func TestWatcherCloseTwice(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
}
