// Package manifest holds the canonical in-memory records describing backup
// artifacts. Every on-disk JSON sidecar (per-artifact manifest and the
// latest-backup pointer) is generated from and parsed into these types; no
// other code writes those files.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	KindFull         = "full"
	KindDatabaseOnly = "database_only"

	Suffix = ".manifest.json"
)

// Manifest describes one backup artifact. It is written only after the
// artifact is fully and durably on disk; its checksum always matches the
// file at ArtifactPath at write time.
type Manifest struct {
	Timestamp        time.Time `json:"timestamp"`
	Kind             string    `json:"kind"`
	ArtifactPath     string    `json:"artifact_path"`
	SizeBytes        int64     `json:"size_bytes"`
	SizeHuman        string    `json:"size_human"`
	Checksum         string    `json:"checksum"`
	Encrypted        bool      `json:"encrypted"`
	IncludesDatabase bool      `json:"includes_database"`
	DatabaseFormat   string    `json:"database_format,omitempty"`
	Warnings         []string  `json:"warnings,omitempty"`
	ToolVersion      string    `json:"tool_version"`
}

// New builds a manifest for a finished artifact.
func New(kind, artifactPath string, sizeBytes int64, sum string, encrypted bool, toolVersion string) *Manifest {
	return &Manifest{
		Timestamp:    time.Now().UTC(),
		Kind:         kind,
		ArtifactPath: artifactPath,
		SizeBytes:    sizeBytes,
		SizeHuman:    humanize.Bytes(uint64(sizeBytes)),
		Checksum:     sum,
		Encrypted:    encrypted,
		ToolVersion:  toolVersion,
	}
}

// Path returns the manifest sidecar path for an artifact.
func Path(artifactPath string) string {
	return artifactPath + Suffix
}

// Write persists the manifest next to its artifact.
func (m *Manifest) Write() error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(Path(m.ArtifactPath), payload, 0o600)
}

// Read loads the manifest sidecar for the artifact, if one exists.
func Read(artifactPath string) (*Manifest, error) {
	data, err := os.ReadFile(Path(artifactPath))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
