package app

import (
	"fmt"
	"time"

	"github.com/calder-ops/tradevault/internal/manifest"
)

const durationPrecision = 10 * time.Millisecond

// Status distinguishes "fully succeeded" from "succeeded with caveats" at
// the type level, so callers never have to infer it from boolean flags.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// BackupResult is the canonical outcome of one backup run.
type BackupResult struct {
	Status       Status
	Manifest     *manifest.Manifest
	ArtifactPath string
	Duration     time.Duration
	Verified     bool
	Warnings     []string
}

// warn records a non-fatal condition and degrades the status.
func (r *BackupResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	if r.Status == StatusSuccess {
		r.Status = StatusDegraded
	}
}

// RestoreReport is the canonical outcome of one restore run.
type RestoreReport struct {
	Status           Status
	Target           string
	DryRun           bool
	FilesRestored    bool
	DatabaseRestored bool
	SnapshotPath     string
	AsidePath        string
	Healthy          bool
	Duration         time.Duration
	Warnings         []string
}

func (r *RestoreReport) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	if r.Status == StatusSuccess {
		r.Status = StatusDegraded
	}
}
