package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agedFile(t *testing.T, dir, name string, ageDays int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	mod := time.Now().AddDate(0, 0, -ageDays)
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func TestCleanupRemovesOnlyExpired(t *testing.T) {
	dir := t.TempDir()
	kept1 := agedFile(t, dir, "trading_full_a.tar.gz", 1)
	kept10 := agedFile(t, dir, "trading_full_b.tar.gz", 10)
	gone31 := agedFile(t, dir, "trading_full_c.tar.gz", 31)
	gone45 := agedFile(t, dir, "trading_full_d.tar.gz", 45)

	res, err := Cleanup(dir, nil, 30, 0, false, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Empty(t, res.Errors)

	assert.FileExists(t, kept1)
	assert.FileExists(t, kept10)
	assert.NoFileExists(t, gone31)
	assert.NoFileExists(t, gone45)
}

func TestCleanupPatternsIndependent(t *testing.T) {
	dir := t.TempDir()
	oldArchive := agedFile(t, dir, "trading_full_x.tar.zst.enc", 40)
	oldDump := agedFile(t, dir, "trading_db_x.dump", 40)
	oldLog := agedFile(t, dir, "backup.log", 40)
	unrelated := agedFile(t, dir, "notes.txt", 40)

	res, err := Cleanup(dir, nil, 30, 0, false, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)

	assert.NoFileExists(t, oldArchive)
	assert.NoFileExists(t, oldDump)
	assert.NoFileExists(t, oldLog)
	assert.FileExists(t, unrelated)
}

func TestCleanupReapsEmergencySnapshots(t *testing.T) {
	dir := t.TempDir()

	agedDir := func(name string, ageDays int) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(path, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(path, "cfg.yaml"), []byte("x"), 0o600))
		mod := time.Now().AddDate(0, 0, -ageDays)
		require.NoError(t, os.Chtimes(path, mod, mod))
		return path
	}
	oldSnap := agedDir("pre_restore_snapshot_20250101T000000Z", 45)
	newSnap := agedDir("pre_restore_snapshot_20260801T000000Z", 2)

	res, err := Cleanup(dir, nil, 30, 0, false, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	assert.NoDirExists(t, oldSnap)
	assert.DirExists(t, newSnap)
}

func TestCleanupKeepLastFloor(t *testing.T) {
	dir := t.TempDir()
	newest := agedFile(t, dir, "trading_full_newest.tar.gz", 35)
	older := agedFile(t, dir, "trading_full_older.tar.gz", 60)

	// Both are past the window, but the floor protects the most recent.
	res, err := Cleanup(dir, []string{"*.tar.gz"}, 30, 1, false, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.FileExists(t, newest)
	assert.NoFileExists(t, older)
}

func TestCleanupDryRun(t *testing.T) {
	dir := t.TempDir()
	old := agedFile(t, dir, "trading_full_old.tar.gz", 45)

	res, err := Cleanup(dir, nil, 30, 0, true, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.FileExists(t, old)
}

func TestCleanupRemovesSidecars(t *testing.T) {
	dir := t.TempDir()
	artifact := agedFile(t, dir, "trading_full_old.tar.gz", 45)
	sidecar := artifact + ".manifest.json"
	sum := artifact + ".sha256"
	require.NoError(t, os.WriteFile(sidecar, []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(sum, []byte("digest"), 0o600))

	_, err := Cleanup(dir, []string{"*.tar.gz"}, 30, 0, false, zerolog.Nop())
	require.NoError(t, err)
	assert.NoFileExists(t, artifact)
	assert.NoFileExists(t, sidecar)
	assert.NoFileExists(t, sum)
}

func TestCleanupRemovesDirectoryDumps(t *testing.T) {
	dir := t.TempDir()
	dumpDir := filepath.Join(dir, "trading_db_old.pgdir")
	require.NoError(t, os.MkdirAll(dumpDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dumpDir, "0001.dat"), []byte("x"), 0o600))
	mod := time.Now().AddDate(0, 0, -45)
	require.NoError(t, os.Chtimes(dumpDir, mod, mod))

	res, err := Cleanup(dir, []string{"*.pgdir"}, 30, 0, false, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.NoDirExists(t, dumpDir)
}
