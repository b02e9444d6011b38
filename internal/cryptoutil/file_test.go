package cryptoutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "artifact.tar.zst")
	payload := []byte("not actually an archive, but bytes are bytes")
	require.NoError(t, os.WriteFile(plain, payload, 0o600))

	encPath, err := EncryptFile(plain, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, plain+EncSuffix, encPath)

	// Plaintext must be gone after a successful encrypt.
	_, err = os.Stat(plain)
	assert.True(t, os.IsNotExist(err))

	out := filepath.Join(dir, "restored.tar.zst")
	require.NoError(t, DecryptFile(encPath, "correct horse", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(plain, []byte("secret"), 0o600))

	encPath, err := EncryptFile(plain, "right")
	require.NoError(t, err)

	out := filepath.Join(dir, "out.bin")
	err = DecryptFile(encPath, "wrong", out)
	require.Error(t, err)

	// Failed decrypt must not leave partial output behind.
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestVerifyHeader(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(plain, []byte("payload"), 0o600))

	encPath, err := EncryptFile(plain, "pw")
	require.NoError(t, err)
	assert.NoError(t, VerifyHeader(encPath))

	bogus := filepath.Join(dir, "bogus.enc")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not encrypted"), 0o600))
	assert.Error(t, VerifyHeader(bogus))
}

func TestVerifyStreamDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(plain, make([]byte, 4096), 0o600))

	encPath, err := EncryptFile(plain, "pw")
	require.NoError(t, err)
	require.NoError(t, VerifyStream(encPath, "pw"))

	data, err := os.ReadFile(encPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(encPath, data, 0o600))

	assert.Error(t, VerifyStream(encPath, "pw"))
}

func TestConfigRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	payload := []byte("backup:\n  directory: /srv/backups\n")

	cipher, err := EncryptConfig(payload, key)
	require.NoError(t, err)

	plain, err := DecryptConfig(cipher, key)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}
