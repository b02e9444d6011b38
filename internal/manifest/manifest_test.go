package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "trading_full_20260101T000000Z.tar.zst")
	require.NoError(t, os.WriteFile(artifact, []byte("bytes"), 0o600))

	m := New(KindFull, artifact, 5, "deadbeef", true, "1.0.0")
	m.IncludesDatabase = true
	m.DatabaseFormat = "custom"
	m.Warnings = []string{"offsite upload skipped"}
	require.NoError(t, m.Write())

	got, err := Read(artifact)
	require.NoError(t, err)
	assert.Equal(t, KindFull, got.Kind)
	assert.Equal(t, "deadbeef", got.Checksum)
	assert.True(t, got.Encrypted)
	assert.True(t, got.IncludesDatabase)
	assert.Equal(t, "custom", got.DatabaseFormat)
	assert.Equal(t, "5 B", got.SizeHuman)
	assert.Len(t, got.Warnings, 1)
}

func TestResolveLatestFromPointer(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "trading_full_20260101T000000Z.tar.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("x"), 0o600))

	require.NoError(t, WriteLatest(dir, &LatestPointer{
		Timestamp:  time.Now().UTC(),
		BackupFile: filepath.Base(artifact),
		BackupType: KindFull,
	}))

	resolved, err := ResolveLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, artifact, resolved)
}

func TestResolveLatestFallsBackToNewestFile(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "trading_full_20260101T000000Z.tar.gz")
	newer := filepath.Join(dir, "trading_full_20260201T000000Z.tar.zst.enc")
	require.NoError(t, os.WriteFile(older, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(newer, []byte("y"), 0o600))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(older, old, old))

	resolved, err := ResolveLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, newer, resolved)
}

func TestResolveLatestStalePointerFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteLatest(dir, &LatestPointer{BackupFile: "gone.tar.gz"}))

	existing := filepath.Join(dir, "trading_db_20260101T000000Z.dump")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o600))

	resolved, err := ResolveLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, existing, resolved)
}

func TestResolveLatestEmpty(t *testing.T) {
	_, err := ResolveLatest(t.TempDir())
	assert.ErrorIs(t, err, ErrNoBackups)
}
