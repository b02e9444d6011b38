package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeCopiesCurrentState(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "app", "conf"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "app", "conf", "settings.yaml"), []byte("a: 1"), 0o600))

	dest := t.TempDir()
	snapDir, errs := Take([]string{filepath.Join(src, "app")}, dest, time.Now())
	assert.Empty(t, errs)
	require.DirExists(t, snapDir)

	got, err := os.ReadFile(filepath.Join(snapDir, "app", "conf", "settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "a: 1", string(got))
}

func TestTakeMissingSourceIsNonFatal(t *testing.T) {
	dest := t.TempDir()
	snapDir, errs := Take([]string{filepath.Join(dest, "does-not-exist")}, dest, time.Now())
	assert.Len(t, errs, 1)
	assert.DirExists(t, snapDir)
}

func TestSwapAsideAndRollback(t *testing.T) {
	root := t.TempDir()
	deploy := filepath.Join(root, "deploy")
	require.NoError(t, os.MkdirAll(deploy, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(deploy, "state.json"), []byte("{}"), 0o600))

	aside, err := SwapAside(deploy, time.Now())
	require.NoError(t, err)
	assert.NoDirExists(t, deploy)
	assert.DirExists(t, aside)

	// Simulate a partial extraction, then roll back.
	require.NoError(t, os.MkdirAll(deploy, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(deploy, "partial.tmp"), []byte("x"), 0o600))

	require.NoError(t, Rollback(deploy, aside))
	assert.NoDirExists(t, aside)
	assert.FileExists(t, filepath.Join(deploy, "state.json"))
	assert.NoFileExists(t, filepath.Join(deploy, "partial.tmp"))
}

func TestRollbackMissingAside(t *testing.T) {
	root := t.TempDir()
	assert.Error(t, Rollback(filepath.Join(root, "deploy"), filepath.Join(root, "gone")))
	assert.NoError(t, Rollback(filepath.Join(root, "deploy"), ""))
}
