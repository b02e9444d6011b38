package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for _, valid := range []string{"custom", "directory", "plain"} {
		f, err := ParseFormat(valid)
		require.NoError(t, err)
		assert.Equal(t, Format(valid), f)
	}

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCustom, f)

	_, err = ParseFormat("tarball")
	assert.Error(t, err)
}

func TestDescriptorMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "trading_db.dump")
	require.NoError(t, os.WriteFile(dumpPath, []byte("dump bytes"), 0o600))

	desc := &Descriptor{
		Format:    FormatCustom,
		DumpPath:  dumpPath,
		Checksum:  "abc123",
		SizeBytes: 10,
		Database:  "trading",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, desc.WriteMeta())

	got, err := ReadMeta(dumpPath)
	require.NoError(t, err)
	assert.Equal(t, desc.Format, got.Format)
	assert.Equal(t, desc.Checksum, got.Checksum)
	assert.Equal(t, desc.Database, got.Database)
}

func TestChecksumPathFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1;"), 0o600))

	sum, size, err := checksumPath(path)
	require.NoError(t, err)
	assert.Equal(t, int64(9), size)
	assert.Len(t, sum, 64)
}

func TestChecksumPathDirectoryIsStable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.dat"), []byte("aa"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002.dat"), []byte("bb"), 0o600))

	first, size, err := checksumPath(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	second, _, err := checksumPath(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Content changes must change the digest.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002.dat"), []byte("cc"), 0o600))
	third, _, err := checksumPath(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestDumpFileName(t *testing.T) {
	when := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "trading_db_20260304T050607Z.dump", DumpFileName("trading", FormatCustom, when))
	assert.Equal(t, "trading_db_20260304T050607Z.pgdir", DumpFileName("trading", FormatDirectory, when))
	assert.Equal(t, "trading_db_20260304T050607Z.sql", DumpFileName("trading", FormatPlain, when))
}
