package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/calder-ops/tradevault/internal/archive"
	"github.com/calder-ops/tradevault/internal/checksum"
	"github.com/calder-ops/tradevault/internal/cryptoutil"
	"github.com/calder-ops/tradevault/internal/db"
	"github.com/calder-ops/tradevault/internal/health"
	"github.com/calder-ops/tradevault/internal/lock"
	"github.com/calder-ops/tradevault/internal/manifest"
	"github.com/calder-ops/tradevault/internal/notify"
	"github.com/calder-ops/tradevault/internal/snapshot"
)

// Restore brings the deployment back to the state captured in a backup
// artifact: resolve -> verify -> confirm -> snapshot -> stop service ->
// swap files -> restore database -> start service -> health check.
// The pre-restore snapshot and the swapped-aside deployment are both kept
// on disk so any restore can be undone by hand.
func (a *App) Restore(ctx context.Context, target string) (*RestoreReport, error) {
	start := time.Now()
	rep := &RestoreReport{Status: StatusSuccess, DryRun: a.Cfg.Restore.DryRun}

	var opErr error
	defer func() {
		event := notify.Event{
			Type:      "restore",
			Message:   fmt.Sprintf("restore of %s", rep.Target),
			Status:    string(rep.Status),
			Artifact:  rep.Target,
			StartedAt: start,
			EndedAt:   time.Now(),
			Duration:  time.Since(start).String(),
			Warnings:  rep.Warnings,
		}
		if opErr != nil {
			event.Status = string(StatusFailed)
			event.Error = opErr.Error()
		}
		a.notify(context.WithoutCancel(ctx), event)
	}()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		opErr = err
		return nil, err
	}
	defer guard.Release()

	artifactPath, err := a.resolveTarget(target)
	if err != nil {
		opErr = err
		return nil, err
	}
	rep.Target = artifactPath
	a.Log.Info().Str("artifact", artifactPath).Msg("restore target resolved")

	m, err := manifest.Read(artifactPath)
	if err != nil {
		if !os.IsNotExist(err) {
			rep.warn("manifest unreadable: %v", err)
		}
		m = nil
	}

	if err := a.verifyTarget(rep, artifactPath); err != nil {
		opErr = err
		rep.Status = StatusFailed
		return rep, err
	}

	if rep.DryRun {
		rep.Duration = time.Since(start)
		a.Log.Info().Msg("dry run: verification passed, no changes made")
		return rep, nil
	}

	if !a.Cfg.Restore.Force {
		if a.Confirm == nil {
			opErr = fmt.Errorf("restore is destructive; re-run with --force or confirm interactively")
			rep.Status = StatusFailed
			return rep, opErr
		}
		ok, err := a.Confirm(fmt.Sprintf("Restore from %s? This replaces the current deployment.", filepath.Base(artifactPath)))
		if err != nil {
			opErr = err
			rep.Status = StatusFailed
			return rep, err
		}
		if !ok {
			opErr = fmt.Errorf("restore aborted by operator")
			rep.Status = StatusFailed
			return rep, opErr
		}
	}

	a.stopForRestore(ctx, rep)
	defer a.startAfterRestore(context.WithoutCancel(ctx), rep)

	if snapDir, errs := snapshot.Take(a.Cfg.Restore.SnapshotDirs, a.Cfg.Backup.Directory, start); snapDir != "" {
		rep.SnapshotPath = snapDir
		for _, e := range errs {
			rep.warn("snapshot: %v", e)
		}
		a.Log.Info().Str("snapshot", snapDir).Msg("emergency snapshot taken")
	} else {
		for _, e := range errs {
			rep.warn("snapshot: %v", e)
		}
	}

	if cerr := ctx.Err(); cerr != nil {
		opErr = cerr
		rep.Status = StatusFailed
		return rep, cerr
	}

	workPath, cleanup, err := a.prepareArtifact(artifactPath)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		opErr = err
		rep.Status = StatusFailed
		return rep, err
	}

	if isArchive(workPath) {
		err = a.restoreArchive(ctx, rep, workPath)
	} else {
		err = a.restoreDatabaseOnly(ctx, rep, workPath, m)
	}
	if err != nil {
		opErr = err
		rep.Status = StatusFailed
		return rep, err
	}

	rep.Duration = time.Since(start)
	return rep, nil
}

// resolveTarget maps "latest" (or empty) to the newest artifact in the
// backup directory, otherwise treats the target as a path.
func (a *App) resolveTarget(target string) (string, error) {
	if target == "" || target == "latest" {
		return manifest.ResolveLatest(a.Cfg.Backup.Directory)
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("restore target %s: %w", target, err)
	}
	return target, nil
}

// verifyTarget checks the artifact before anything destructive happens. A
// checksum mismatch is advisory (the sidecar may be stale or missing); a
// structural failure is fatal because the artifact cannot be read back.
func (a *App) verifyTarget(rep *RestoreReport, artifactPath string) error {
	if err := checksum.Verify(artifactPath); err != nil {
		if os.IsNotExist(err) {
			rep.warn("no checksum sidecar for %s, skipping checksum verification", filepath.Base(artifactPath))
		} else {
			rep.warn("checksum verification: %v", err)
		}
	}

	switch {
	case cryptoutil.IsEncrypted(artifactPath):
		if err := cryptoutil.VerifyHeader(artifactPath); err != nil {
			return fmt.Errorf("encrypted artifact is structurally invalid: %w", err)
		}
	case isArchive(artifactPath):
		if err := archive.VerifyStructure(artifactPath); err != nil {
			return fmt.Errorf("archive is structurally invalid: %w", err)
		}
	default:
		info, err := os.Stat(artifactPath)
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Size() == 0 {
			return fmt.Errorf("artifact %s is empty", artifactPath)
		}
	}
	return nil
}

// prepareArtifact decrypts an encrypted artifact into a scratch file and
// returns the path restore should read from. The returned cleanup removes
// the decrypted copy.
func (a *App) prepareArtifact(artifactPath string) (string, func(), error) {
	if !cryptoutil.IsEncrypted(artifactPath) {
		return artifactPath, nil, nil
	}
	pass, err := a.passphrase()
	if err != nil {
		return "", nil, err
	}
	plainName := strings.TrimSuffix(filepath.Base(artifactPath), cryptoutil.EncSuffix)
	destPath := filepath.Join(filepath.Dir(artifactPath), ".restore-"+plainName)
	if err := cryptoutil.DecryptFile(artifactPath, pass, destPath); err != nil {
		return "", nil, fmt.Errorf("decrypt artifact: %w", err)
	}
	return destPath, func() { os.Remove(destPath) }, nil
}

// restoreArchive extracts the archive to a staging directory, swaps the live
// deployment aside, and moves the restored tree into place. A failure after
// the swap rolls the previous deployment back.
func (a *App) restoreArchive(ctx context.Context, rep *RestoreReport, workPath string) error {
	deployDir := a.Cfg.Restore.DeployDir
	if deployDir == "" {
		return fmt.Errorf("restore.deploy_dir is not configured")
	}

	staging, err := os.MkdirTemp(filepath.Dir(deployDir), ".restore-staging-*")
	if err != nil {
		return err
	}
	keepStaging := false
	defer func() {
		if !keepStaging {
			os.RemoveAll(staging)
		}
	}()

	if _, err := archive.Extract(workPath, staging); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	dumpPath := findDump(staging)

	// Last clean abort point: nothing destructive has happened yet.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("restore interrupted before deployment swap: %w", err)
	}

	asidePath, err := snapshot.SwapAside(deployDir, time.Now())
	if err != nil {
		return fmt.Errorf("swap deployment aside: %w", err)
	}
	rep.AsidePath = asidePath

	if err := moveContents(staging, deployDir, dumpPath); err != nil {
		rep.warn("rolling back to previous deployment: %v", err)
		if rbErr := snapshot.Rollback(deployDir, asidePath); rbErr != nil {
			rep.warn("rollback failed, previous deployment is at %s: %v", asidePath, rbErr)
		} else {
			rep.AsidePath = ""
		}
		return fmt.Errorf("place restored files: %w", err)
	}
	rep.FilesRestored = true
	a.Log.Info().Str("deploy_dir", deployDir).Msg("files restored")

	// An interrupt after the swap rolls the previous deployment back so
	// the host is never left half-restored.
	if cerr := ctx.Err(); cerr != nil {
		rep.warn("restore interrupted after deployment swap, rolling back")
		if rbErr := snapshot.Rollback(deployDir, asidePath); rbErr != nil {
			rep.warn("rollback failed, previous deployment is at %s: %v", asidePath, rbErr)
		} else {
			rep.AsidePath = ""
			rep.FilesRestored = false
		}
		return cerr
	}

	if a.Cfg.Restore.FilesOnly || dumpPath == "" {
		if dumpPath == "" && !a.Cfg.Restore.FilesOnly {
			a.Log.Info().Msg("no database dump in archive, files-only restore")
		}
		return nil
	}
	if !a.restoreDump(ctx, rep, dumpPath, "") {
		// Leave the staging directory in place so the dump survives for a
		// manual retry.
		keepStaging = true
	}
	return nil
}

// restoreDatabaseOnly feeds a standalone dump artifact straight to the
// database tools.
func (a *App) restoreDatabaseOnly(ctx context.Context, rep *RestoreReport, workPath string, m *manifest.Manifest) error {
	if a.Cfg.Restore.FilesOnly {
		return fmt.Errorf("target is a database dump but files_only is set")
	}
	formatHint := ""
	if m != nil {
		formatHint = m.DatabaseFormat
	}
	a.restoreDump(ctx, rep, workPath, formatHint)
	if !rep.DatabaseRestored {
		return fmt.Errorf("database restore failed")
	}
	return nil
}

// restoreDump runs the database restore. Failure degrades the run: the
// restored files are already in place and usable, and the dump remains on
// disk for a manual retry.
func (a *App) restoreDump(ctx context.Context, rep *RestoreReport, dumpPath, formatHint string) bool {
	format := resolveDumpFormat(dumpPath, formatHint)

	dumpCtx := ctx
	if a.Cfg.Database.ToolTimeout > 0 {
		var cancel context.CancelFunc
		dumpCtx, cancel = context.WithTimeout(ctx, a.Cfg.Database.ToolTimeout)
		defer cancel()
	}
	if err := a.DB.Restore(dumpCtx, a.Cfg.Database, format, dumpPath); err != nil {
		rep.warn("database restore failed, dump kept at %s: %v", dumpPath, err)
		return false
	}
	rep.DatabaseRestored = true
	a.Log.Info().Str("dump", dumpPath).Str("format", string(format)).Msg("database restored")
	return true
}

// resolveDumpFormat prefers the dump's own meta sidecar, then the manifest
// hint, then the filename extension.
func resolveDumpFormat(dumpPath, hint string) db.Format {
	if desc, err := db.ReadMeta(dumpPath); err == nil {
		return desc.Format
	}
	if f, err := db.ParseFormat(hint); err == nil && hint != "" {
		return f
	}
	switch {
	case strings.HasSuffix(dumpPath, ".sql"):
		return db.FormatPlain
	case strings.HasSuffix(dumpPath, ".pgdir"):
		return db.FormatDirectory
	default:
		return db.FormatCustom
	}
}

// findDump locates a database dump at the staging root via its meta sidecar.
func findDump(staging string) string {
	metas, err := filepath.Glob(filepath.Join(staging, "*"+db.MetaSuffix))
	if err != nil || len(metas) == 0 {
		return ""
	}
	dump := strings.TrimSuffix(metas[0], db.MetaSuffix)
	if _, err := os.Stat(dump); err != nil {
		return ""
	}
	return dump
}

// moveContents moves every top-level entry from staging into deployDir,
// except the database dump and its sidecar, which are restored separately
// rather than deployed as files. Archives are rooted at each source's base
// name, so when the sole file source was the deploy dir itself the staged
// tree carries one extra root component; that root is unwrapped so the
// restored layout matches what was backed up.
func moveContents(staging, deployDir, dumpPath string) error {
	if err := os.MkdirAll(deployDir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	skip := map[string]bool{}
	if dumpPath != "" {
		skip[filepath.Base(dumpPath)] = true
		skip[filepath.Base(dumpPath)+db.MetaSuffix] = true
	}

	var kept []os.DirEntry
	for _, e := range entries {
		if !skip[e.Name()] {
			kept = append(kept, e)
		}
	}

	src := staging
	if len(kept) == 1 && kept[0].IsDir() && kept[0].Name() == filepath.Base(deployDir) {
		src = filepath.Join(staging, kept[0].Name())
		if kept, err = os.ReadDir(src); err != nil {
			return err
		}
	}

	for _, e := range kept {
		if err := os.Rename(filepath.Join(src, e.Name()), filepath.Join(deployDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) stopForRestore(ctx context.Context, rep *RestoreReport) {
	if a.Cfg.Service.Name == "" || a.Svc == nil {
		return
	}
	if err := a.Svc.Stop(ctx, a.Cfg.Service.Name); err != nil {
		rep.warn("service stop failed, restoring under a running service: %v", err)
		return
	}
	a.Log.Info().Str("service", a.Cfg.Service.Name).Msg("service stopped for restore")
}

// startAfterRestore restarts the service and runs the post-restore health
// check. Both are advisory: a restore that put the right bytes on disk has
// succeeded even if the service needs operator attention.
func (a *App) startAfterRestore(ctx context.Context, rep *RestoreReport) {
	if a.Cfg.Service.Name == "" || a.Svc == nil {
		rep.Healthy = a.probeHealth(ctx, rep)
		return
	}
	if err := a.Svc.Start(ctx, a.Cfg.Service.Name); err != nil {
		rep.warn("service start failed: %v", err)
		return
	}
	a.Log.Info().Str("service", a.Cfg.Service.Name).Msg("service started")

	active, err := a.Svc.IsActive(ctx, a.Cfg.Service.Name)
	if err != nil {
		rep.warn("service state unknown: %v", err)
	} else if !active {
		rep.warn("service %s is not active after restore", a.Cfg.Service.Name)
	}
	rep.Healthy = active && a.probeHealth(ctx, rep)
}

func (a *App) probeHealth(ctx context.Context, rep *RestoreReport) bool {
	hc := a.Cfg.Health
	if hc.URL == "" {
		return true
	}
	if err := health.Probe(ctx, hc.URL, hc.Marker, hc.Timeout); err != nil {
		rep.warn("health check failed: %v", err)
		return false
	}
	a.Log.Info().Str("url", hc.URL).Msg("health check passed")
	return true
}
