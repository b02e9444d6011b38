// Package db dumps and restores the trading service's PostgreSQL database
// by driving pg_dump, pg_restore and psql as subprocesses. Only exit codes
// and stderr text cross the boundary; the wire protocol stays the tools'
// problem.
package db

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Format selects the pg_dump output format.
type Format string

const (
	// FormatCustom is a single compressed, seekable dump file.
	FormatCustom Format = "custom"
	// FormatDirectory is a directory of per-object dump files.
	FormatDirectory Format = "directory"
	// FormatPlain is a re-executable SQL script.
	FormatPlain Format = "plain"
)

// ParseFormat validates a configured dump format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCustom, FormatDirectory, FormatPlain:
		return Format(s), nil
	case "":
		return FormatCustom, nil
	default:
		return "", fmt.Errorf("unsupported dump format: %s", s)
	}
}

// MetaSuffix marks the JSON sidecar describing a dump, kept independent of
// the outer archive manifest so a database-only backup stays self-describing.
const MetaSuffix = ".meta.json"

// Descriptor records one produced dump. It is written at dump time and
// consumed (then discarded) by restore.
type Descriptor struct {
	Format    Format    `json:"format"`
	DumpPath  string    `json:"dump_path"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`
	Database  string    `json:"database"`
	CreatedAt time.Time `json:"created_at"`
}

// WriteMeta writes the descriptor sidecar next to the dump.
func (d *Descriptor) WriteMeta() error {
	payload, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.DumpPath+MetaSuffix, payload, 0o600)
}

// ReadMeta loads a descriptor sidecar for the dump at dumpPath.
func ReadMeta(dumpPath string) (*Descriptor, error) {
	data, err := os.ReadFile(dumpPath + MetaSuffix)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dump descriptor: %w", err)
	}
	return &d, nil
}

// checksumPath digests a dump file, or for directory dumps a digest over the
// sorted relative names and contents of every file in the tree.
func checksumPath(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	if !info.IsDir() {
		sum, err := fileDigest(path, nil)
		return sum, info.Size(), err
	}

	var files []string
	var total int64
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			files = append(files, p)
			total += fi.Size()
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		rel, err := filepath.Rel(path, f)
		if err != nil {
			return "", 0, err
		}
		io.WriteString(h, filepath.ToSlash(rel))
		if _, err := fileDigest(f, h); err != nil {
			return "", 0, err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

func fileDigest(path string, into io.Writer) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if into != nil {
		_, err := io.Copy(into, f)
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
