package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LatestName is the single pointer manifest in the backup directory. The
// directory itself is the source of truth; this is only a fast path for
// "restore latest".
const LatestName = "latest_backup.json"

// ErrNoBackups is returned when neither a latest pointer nor any artifact
// exists in the backup directory.
var ErrNoBackups = errors.New("no backups found")

// LatestPointer records the most recent successful backup.
type LatestPointer struct {
	Timestamp       time.Time `json:"timestamp"`
	BackupFile      string    `json:"backup_file"`
	Size            int64     `json:"size"`
	DurationSeconds float64   `json:"duration_seconds"`
	BackupType      string    `json:"backup_type"`
	Encrypted       bool      `json:"encrypted"`
	Verified        bool      `json:"verified"`
}

// WriteLatest replaces the latest pointer in dir.
func WriteLatest(dir string, ptr *LatestPointer) error {
	payload, err := json.MarshalIndent(ptr, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, LatestName), payload, 0o600)
}

// ReadLatest loads the latest pointer from dir.
func ReadLatest(dir string) (*LatestPointer, error) {
	data, err := os.ReadFile(filepath.Join(dir, LatestName))
	if err != nil {
		return nil, err
	}
	var ptr LatestPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return nil, fmt.Errorf("parse latest pointer: %w", err)
	}
	return &ptr, nil
}

// ArtifactPatterns matches everything a backup run may leave in the backup
// directory: archives (optionally encrypted), database-only dumps, and
// plain SQL scripts.
var ArtifactPatterns = []string{
	"*.tar", "*.tar.gz", "*.tar.zst",
	"*.tar.enc", "*.tar.gz.enc", "*.tar.zst.enc",
	"*.dump", "*.dump.enc", "*.pgdir", "*.sql", "*.sql.enc",
}

// ResolveLatest returns the absolute path of the most recent artifact:
// from the latest pointer when it names an existing file, otherwise the
// most recently modified artifact in dir.
func ResolveLatest(dir string) (string, error) {
	if ptr, err := ReadLatest(dir); err == nil && ptr.BackupFile != "" {
		candidate := ptr.BackupFile
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(dir, candidate)
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan backup directory: %w", err)
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if !matchesArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, entry.Name())
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", ErrNoBackups
	}
	return newest, nil
}

func matchesArtifact(name string) bool {
	for _, pattern := range ArtifactPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
