package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/calder-ops/tradevault/internal/archive"
	"github.com/calder-ops/tradevault/internal/checksum"
	"github.com/calder-ops/tradevault/internal/cryptoutil"
	"github.com/calder-ops/tradevault/internal/health"
	"github.com/calder-ops/tradevault/internal/manifest"
	"github.com/calder-ops/tradevault/internal/retention"
)

// Verify checks an existing artifact without restoring it: checksum sidecar,
// structural readability, and (when encrypted and a passphrase is available)
// a full decryption pass.
func (a *App) Verify(target string) (*BackupResult, error) {
	res := &BackupResult{Status: StatusSuccess}

	artifactPath, err := a.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	res.ArtifactPath = artifactPath

	if m, err := manifest.Read(artifactPath); err == nil {
		res.Manifest = m
	}

	if err := checksum.Verify(artifactPath); err != nil {
		if os.IsNotExist(err) {
			res.warn("no checksum sidecar for %s", filepath.Base(artifactPath))
		} else {
			res.Status = StatusFailed
			return res, err
		}
	}

	switch {
	case cryptoutil.IsEncrypted(artifactPath):
		if err := cryptoutil.VerifyHeader(artifactPath); err != nil {
			res.Status = StatusFailed
			return res, err
		}
		pass, err := a.passphrase()
		if err != nil {
			res.warn("passphrase unavailable, decryption not verified: %v", err)
			break
		}
		if err := cryptoutil.VerifyStream(artifactPath, pass); err != nil {
			res.Status = StatusFailed
			return res, err
		}
	case isArchive(artifactPath):
		if err := archive.VerifyStructure(artifactPath); err != nil {
			res.Status = StatusFailed
			return res, err
		}
	}

	res.Verified = true
	return res, nil
}

// ListEntry is one row of the backup inventory.
type ListEntry struct {
	Name      string
	SizeBytes int64
	ModTime   time.Time
	Kind      string
	Encrypted bool
	Latest    bool
}

// List inventories the backup directory, newest first, annotating the
// artifact the latest pointer names.
func (a *App) List() ([]ListEntry, error) {
	dir := a.Cfg.Backup.Directory
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	latestName := ""
	if ptr, err := manifest.ReadLatest(dir); err == nil {
		latestName = ptr.BackupFile
	}

	var out []ListEntry
	for _, e := range entries {
		if !matchesAny(e.Name(), manifest.ArtifactPatterns) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		entry := ListEntry{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
			Encrypted: strings.HasSuffix(e.Name(), cryptoutil.EncSuffix),
			Latest:    e.Name() == latestName,
		}
		if m, err := manifest.Read(filepath.Join(dir, e.Name())); err == nil {
			entry.Kind = m.Kind
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// PrintList renders the inventory to stdout.
func (a *App) PrintList(entries []ListEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no backups found")
		return
	}
	headerColor.Fprintf(os.Stdout, "%d backup(s) in %s\n", len(entries), a.Cfg.Backup.Directory)
	for _, e := range entries {
		marker := " "
		if e.Latest {
			marker = "*"
		}
		kind := e.Kind
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(os.Stdout, "%s %-50s %10s  %s  %s\n",
			marker, e.Name, humanize.Bytes(uint64(e.SizeBytes)), e.ModTime.Format(time.RFC3339), kind)
	}
}

// Cleanup applies the retention policy on demand.
func (a *App) Cleanup(dryRun bool) (*retention.Result, error) {
	cfg := a.Cfg.Retention
	if cfg.MaxAgeDays <= 0 {
		return nil, fmt.Errorf("retention.max_age_days is not configured")
	}
	return retention.Cleanup(a.Cfg.Backup.Directory, cfg.Patterns, cfg.MaxAgeDays, cfg.KeepLast, dryRun, a.Log)
}

// Health runs the service health probe standalone.
func (a *App) Health(ctx context.Context) error {
	hc := a.Cfg.Health
	if hc.URL == "" {
		return fmt.Errorf("health.url is not configured")
	}
	return health.Probe(ctx, hc.URL, hc.Marker, hc.Timeout)
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return ok
		}
	}
	return false
}
