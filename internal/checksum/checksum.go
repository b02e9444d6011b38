// Package checksum computes and verifies SHA-256 digests of backup artifacts.
// Sidecar files use the sha256sum text format ("<digest>  <filename>") so
// standard tooling can verify them independently.
package checksum

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const SidecarSuffix = ".sha256"

// File returns the hex-encoded SHA-256 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SidecarPath returns the sidecar file path for an artifact.
func SidecarPath(artifactPath string) string {
	return artifactPath + SidecarSuffix
}

// WriteSidecar writes the digest of artifactPath next to it.
func WriteSidecar(artifactPath, digest string) error {
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(artifactPath))
	return os.WriteFile(SidecarPath(artifactPath), []byte(line), 0o600)
}

// ReadSidecar returns the recorded digest for the named file, or an error if
// the sidecar is missing or malformed.
func ReadSidecar(artifactPath string) (string, error) {
	f, err := os.Open(SidecarPath(artifactPath))
	if err != nil {
		return "", err
	}
	defer f.Close()

	base := filepath.Base(artifactPath)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		if fields[1] == base || fields[1] == "*"+base {
			return fields[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no digest for %s in sidecar", base)
}

// Verify recomputes the digest of artifactPath and compares it against the
// sidecar. A missing sidecar is reported distinctly so callers can treat it
// as advisory.
func Verify(artifactPath string) error {
	want, err := ReadSidecar(artifactPath)
	if err != nil {
		return err
	}
	got, err := File(artifactPath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(want, got) {
		return fmt.Errorf("checksum mismatch for %s: recorded %s, computed %s", filepath.Base(artifactPath), want, got)
	}
	return nil
}
