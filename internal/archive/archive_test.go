package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-ops/tradevault/internal/checksum"
	"github.com/calder-ops/tradevault/internal/compress"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestBuildExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "app", "config.yaml"), "key: value\n")
	writeFile(t, filepath.Join(src, "app", "data", "state.json"), "{}")

	dest := filepath.Join(t.TempDir(), "backup.tar.zst")
	res, err := Build([]string{filepath.Join(src, "app")}, nil, dest, compress.TypeZstd, 0)
	require.NoError(t, err)
	assert.Greater(t, res.SizeBytes, int64(0))

	// The reported checksum must describe the final on-disk bytes.
	sum, err := checksum.File(dest)
	require.NoError(t, err)
	assert.Equal(t, sum, res.Checksum)

	out := t.TempDir()
	entries, err := Extract(dest, out)
	require.NoError(t, err)
	assert.Contains(t, entries, "app/config.yaml")
	assert.Contains(t, entries, "app/data/state.json")

	got, err := os.ReadFile(filepath.Join(out, "app", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "key: value\n", string(got))
}

func TestBuildAppliesExcludes(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "app", "main.py"), "print()")
	writeFile(t, filepath.Join(src, "app", "main.pyc"), "bytecode")
	writeFile(t, filepath.Join(src, "app", "__pycache__", "mod.pyc"), "bytecode")
	writeFile(t, filepath.Join(src, "app", ".git", "HEAD"), "ref")

	dest := filepath.Join(t.TempDir(), "backup.tar.gz")
	_, err := Build([]string{filepath.Join(src, "app")}, []string{"*.pyc", "__pycache__", ".git"}, dest, compress.TypeGzip, 0)
	require.NoError(t, err)

	out := t.TempDir()
	entries, err := Extract(dest, out)
	require.NoError(t, err)
	assert.Contains(t, entries, "app/main.py")
	assert.NotContains(t, entries, "app/main.pyc")
	assert.NotContains(t, entries, "app/__pycache__/mod.pyc")
	assert.NotContains(t, entries, "app/.git/HEAD")
}

func TestVerifyStructure(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "hello")

	dest := filepath.Join(t.TempDir(), "backup.tar.gz")
	_, err := Build([]string{filepath.Join(src, "a.txt")}, nil, dest, compress.TypeGzip, 0)
	require.NoError(t, err)
	assert.NoError(t, VerifyStructure(dest))

	garbage := filepath.Join(t.TempDir(), "garbage.tar.gz")
	require.NoError(t, os.WriteFile(garbage, []byte("not an archive"), 0o600))
	assert.Error(t, VerifyStructure(garbage))
}

func TestExtractRejectsTraversal(t *testing.T) {
	_, err := safeJoin("/tmp/dest", "../outside.txt")
	assert.Error(t, err)
	_, err = safeJoin("/tmp/dest", "/etc/passwd")
	assert.Error(t, err)
	p, err := safeJoin("/tmp/dest", "app/inner.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/dest", "app", "inner.txt"), p)
}

func TestCompressionFromPath(t *testing.T) {
	assert.Equal(t, compress.TypeGzip, CompressionFromPath("x.tar.gz"))
	assert.Equal(t, compress.TypeZstd, CompressionFromPath("x.tar.zst"))
	assert.Equal(t, compress.TypeZstd, CompressionFromPath("x.tar.zst.enc"))
	assert.Equal(t, compress.TypeNone, CompressionFromPath("x.tar"))
}
