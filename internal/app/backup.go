package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calder-ops/tradevault/internal/archive"
	"github.com/calder-ops/tradevault/internal/checksum"
	"github.com/calder-ops/tradevault/internal/cryptoutil"
	"github.com/calder-ops/tradevault/internal/db"
	"github.com/calder-ops/tradevault/internal/lock"
	"github.com/calder-ops/tradevault/internal/manifest"
	"github.com/calder-ops/tradevault/internal/notify"
	"github.com/calder-ops/tradevault/internal/retention"
	"github.com/calder-ops/tradevault/internal/util"
	"github.com/calder-ops/tradevault/internal/version"
)

// Backup runs one backup cycle:
// preflight -> [stop service] -> dump -> archive -> encrypt -> checksum ->
// manifest -> offsite -> retention -> [start service].
// A failed database dump degrades the result to a file-only backup; archive
// build failures and a failed post-write verification are fatal.
func (a *App) Backup(ctx context.Context) (*BackupResult, error) {
	start := time.Now()
	res := &BackupResult{Status: StatusSuccess}

	var opErr error
	defer func() {
		event := notify.Event{
			Type:      "backup",
			Message:   fmt.Sprintf("backup of %s", a.Cfg.Backup.Prefix),
			Status:    string(res.Status),
			Artifact:  res.ArtifactPath,
			StartedAt: start,
			EndedAt:   time.Now(),
			Duration:  time.Since(start).String(),
			Warnings:  res.Warnings,
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

	ok, err := util.InWindow(time.Now(), a.Cfg.Schedule.WindowStart, a.Cfg.Schedule.WindowEnd, a.Cfg.Schedule.Timezone)
	if err != nil {
		opErr = err
		return nil, err
	}
	if !ok {
		opErr = fmt.Errorf("current time is outside the configured backup window")
		return nil, opErr
	}

	backupDir := a.Cfg.Backup.Directory
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		opErr = fmt.Errorf("create backup directory: %w", err)
		return nil, opErr
	}
	if err := util.EnsureFreeSpace(backupDir, a.Cfg.Backup.MinFreeBytes); err != nil {
		opErr = err
		return nil, err
	}

	stopped := a.maybeStopService(ctx, res)
	if stopped {
		defer a.startService(context.WithoutCancel(ctx), res)
	}

	now := time.Now()
	desc := a.dumpDatabase(ctx, res, backupDir, now)

	if a.Cfg.Backup.DatabaseOnly {
		if desc == nil {
			opErr = fmt.Errorf("database-only backup requested but the dump failed")
			res.Status = StatusFailed
			return res, opErr
		}
		if err := a.finishDatabaseOnly(ctx, res, desc, start); err != nil {
			opErr = err
			return res, err
		}
	} else {
		if err := a.finishFull(ctx, res, desc, backupDir, now, start); err != nil {
			opErr = err
			return res, err
		}
	}

	a.runRetention(res, backupDir)
	res.Duration = time.Since(start)
	return res, nil
}

// dumpDatabase runs the dump step. Failure is degraded success: a stale but
// complete file backup beats no backup at all.
func (a *App) dumpDatabase(ctx context.Context, res *BackupResult, backupDir string, now time.Time) *db.Descriptor {
	if !a.Cfg.Database.Enabled {
		return nil
	}
	format, err := db.ParseFormat(a.Cfg.Database.DumpFormat)
	if err != nil {
		res.warn("database dump skipped: %v", err)
		return nil
	}

	dumpCtx := ctx
	if a.Cfg.Database.ToolTimeout > 0 {
		var cancel context.CancelFunc
		dumpCtx, cancel = context.WithTimeout(ctx, a.Cfg.Database.ToolTimeout)
		defer cancel()
	}

	if err := a.DB.Validate(dumpCtx, a.Cfg.Database); err != nil {
		res.warn("database dump skipped: %v", err)
		return nil
	}

	destPath := filepath.Join(backupDir, db.DumpFileName(a.Cfg.Backup.Prefix, format, now))
	desc, err := a.DB.Dump(dumpCtx, a.Cfg.Database, format, destPath)
	if err != nil {
		res.warn("database dump failed, continuing with file-only backup: %v", err)
		return nil
	}
	a.Log.Info().Str("dump", desc.DumpPath).Str("format", string(desc.Format)).Int64("size", desc.SizeBytes).Msg("database dump complete")
	return desc
}

// finishFull builds, encrypts and records a full archive artifact.
func (a *App) finishFull(ctx context.Context, res *BackupResult, desc *db.Descriptor, backupDir string, now, start time.Time) error {
	compression := a.Cfg.Backup.Compression
	artifactPath := filepath.Join(backupDir, util.ArtifactName(a.Cfg.Backup.Prefix, manifest.KindFull, now, archive.Extension(compression)))

	fileList := append([]string{}, a.Cfg.Backup.Sources...)
	if desc != nil {
		fileList = append(fileList, desc.DumpPath, desc.DumpPath+db.MetaSuffix)
	}
	if len(fileList) == 0 {
		res.Status = StatusFailed
		return fmt.Errorf("nothing to back up: no sources configured and no database dump")
	}

	built, err := archive.Build(fileList, a.Cfg.Backup.Excludes, artifactPath, compression, a.Cfg.Backup.CompressionLevel)
	if err != nil {
		res.Status = StatusFailed
		return fmt.Errorf("archive build failed: %w", err)
	}
	a.Log.Info().Str("artifact", artifactPath).Int64("size", built.SizeBytes).Msg("archive written")

	// The standalone dump is embedded in the archive now; the loose copy
	// and its sidecar are no longer needed.
	if desc != nil {
		os.Remove(desc.DumpPath + db.MetaSuffix)
		os.RemoveAll(desc.DumpPath)
	}

	encrypted := a.encryptArtifact(res, &artifactPath)

	sum, err := checksum.File(artifactPath)
	if err != nil {
		res.Status = StatusFailed
		return fmt.Errorf("checksum artifact: %w", err)
	}
	info, err := os.Stat(artifactPath)
	if err != nil {
		res.Status = StatusFailed
		return err
	}
	if err := checksum.WriteSidecar(artifactPath, sum); err != nil {
		res.warn("checksum sidecar not written: %v", err)
	}

	if a.Cfg.Backup.Verify {
		if err := a.verifyArtifact(artifactPath, encrypted); err != nil {
			res.Status = StatusFailed
			return fmt.Errorf("post-write verification failed, artifact must not be trusted: %w", err)
		}
		res.Verified = true
	}

	m := manifest.New(manifest.KindFull, artifactPath, info.Size(), sum, encrypted, version.Version)
	if desc != nil {
		m.IncludesDatabase = true
		m.DatabaseFormat = string(desc.Format)
	}
	m.Warnings = res.Warnings
	if err := m.Write(); err != nil {
		res.Status = StatusFailed
		return fmt.Errorf("write manifest: %w", err)
	}
	res.Manifest = m
	res.ArtifactPath = artifactPath

	a.writeLatest(res, m, start)
	a.replicate(ctx, res, artifactPath)
	return nil
}

// finishDatabaseOnly wraps the dump descriptor directly: no archive step.
func (a *App) finishDatabaseOnly(ctx context.Context, res *BackupResult, desc *db.Descriptor, start time.Time) error {
	artifactPath := desc.DumpPath
	encrypted := false

	// Directory-format dumps are trees, not single files; stream
	// encryption does not apply to them.
	if a.Cfg.Backup.Encryption && desc.Format == db.FormatDirectory {
		res.warn("encryption skipped: directory-format dumps cannot be stream-encrypted")
	} else {
		encrypted = a.encryptArtifact(res, &artifactPath)
	}

	sum := desc.Checksum
	size := desc.SizeBytes
	if encrypted {
		var err error
		sum, err = checksum.File(artifactPath)
		if err != nil {
			res.Status = StatusFailed
			return fmt.Errorf("checksum artifact: %w", err)
		}
		info, err := os.Stat(artifactPath)
		if err != nil {
			res.Status = StatusFailed
			return err
		}
		size = info.Size()
	}
	if desc.Format != db.FormatDirectory {
		if err := checksum.WriteSidecar(artifactPath, sum); err != nil {
			res.warn("checksum sidecar not written: %v", err)
		}
	}

	if a.Cfg.Backup.Verify && encrypted {
		pass, err := a.passphrase()
		if err == nil {
			err = cryptoutil.VerifyStream(artifactPath, pass)
		}
		if err != nil {
			res.Status = StatusFailed
			return fmt.Errorf("post-write verification failed, artifact must not be trusted: %w", err)
		}
		res.Verified = true
	}

	m := manifest.New(manifest.KindDatabaseOnly, artifactPath, size, sum, encrypted, version.Version)
	m.IncludesDatabase = true
	m.DatabaseFormat = string(desc.Format)
	m.Warnings = res.Warnings
	if err := m.Write(); err != nil {
		res.Status = StatusFailed
		return fmt.Errorf("write manifest: %w", err)
	}
	res.Manifest = m
	res.ArtifactPath = artifactPath

	a.writeLatest(res, m, start)
	a.replicate(ctx, res, artifactPath)
	return nil
}

// encryptArtifact encrypts in place when configured. Encryption failure
// never deletes the only safe copy: the plaintext artifact is preserved and
// the run degrades with an explicit warning.
func (a *App) encryptArtifact(res *BackupResult, artifactPath *string) bool {
	if !a.Cfg.Backup.Encryption {
		return false
	}
	pass, err := a.passphrase()
	if err != nil {
		res.warn("encryption skipped, artifact left unencrypted: %v", err)
		return false
	}
	encPath, err := cryptoutil.EncryptFile(*artifactPath, pass)
	if err != nil {
		res.warn("encryption failed, artifact left unencrypted: %v", err)
		return false
	}
	*artifactPath = encPath
	return true
}

// verifyArtifact re-reads the just-written artifact, decrypting if needed,
// and test-extracts it into a scratch directory.
func (a *App) verifyArtifact(artifactPath string, encrypted bool) error {
	candidate := artifactPath
	if encrypted {
		pass, err := a.passphrase()
		if err != nil {
			return err
		}
		tmp, err := os.CreateTemp(filepath.Dir(artifactPath), ".verify-*")
		if err != nil {
			return err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := cryptoutil.DecryptFile(artifactPath, pass, tmp.Name()); err != nil {
			return err
		}
		// Extraction below needs the compression suffix visible.
		withExt := tmp.Name() + archive.Extension(archive.CompressionFromPath(artifactPath))
		if err := os.Rename(tmp.Name(), withExt); err != nil {
			return err
		}
		defer os.Remove(withExt)
		candidate = withExt
	}

	scratch, err := os.MkdirTemp(filepath.Dir(artifactPath), ".verify-extract-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	if _, err := archive.Extract(candidate, scratch); err != nil {
		return err
	}
	return nil
}

func (a *App) writeLatest(res *BackupResult, m *manifest.Manifest, start time.Time) {
	ptr := &manifest.LatestPointer{
		Timestamp:       m.Timestamp,
		BackupFile:      filepath.Base(m.ArtifactPath),
		Size:            m.SizeBytes,
		DurationSeconds: time.Since(start).Seconds(),
		BackupType:      m.Kind,
		Encrypted:       m.Encrypted,
		Verified:        res.Verified,
	}
	if err := manifest.WriteLatest(a.Cfg.Backup.Directory, ptr); err != nil {
		res.warn("latest pointer not updated: %v", err)
	}
}

func (a *App) replicate(ctx context.Context, res *BackupResult, artifactPath string) {
	if a.Offsite == nil {
		return
	}
	err := a.Offsite.UploadAll(ctx,
		artifactPath,
		manifest.Path(artifactPath),
		checksum.SidecarPath(artifactPath),
	)
	if err != nil {
		res.warn("offsite replication failed: %v", err)
		return
	}
	a.Log.Info().Str("artifact", artifactPath).Msg("offsite replication complete")
}

// runRetention runs strictly after the new artifact and manifest are
// durably written; individual deletion errors are advisory.
func (a *App) runRetention(res *BackupResult, backupDir string) {
	cfg := a.Cfg.Retention
	if cfg.MaxAgeDays <= 0 {
		return
	}
	cleaned, err := retention.Cleanup(backupDir, cfg.Patterns, cfg.MaxAgeDays, cfg.KeepLast, false, a.Log)
	if err != nil {
		res.warn("retention cleanup failed: %v", err)
		return
	}
	for _, e := range cleaned.Errors {
		res.warn("retention: %s", e)
	}
	a.Log.Info().Int("deleted", cleaned.Deleted).Int64("freed_bytes", cleaned.FreedBytes).Msg("retention cleanup complete")
}

func (a *App) maybeStopService(ctx context.Context, res *BackupResult) bool {
	if !a.Cfg.Service.StopDuringBackup || a.Cfg.Service.Name == "" || a.Svc == nil {
		return false
	}
	if err := a.Svc.Stop(ctx, a.Cfg.Service.Name); err != nil {
		res.warn("service stop failed, backing up live files: %v", err)
		return false
	}
	a.Log.Info().Str("service", a.Cfg.Service.Name).Msg("service stopped for backup")
	return true
}

func (a *App) startService(ctx context.Context, res *BackupResult) {
	if err := a.Svc.Start(ctx, a.Cfg.Service.Name); err != nil {
		res.warn("service restart failed: %v", err)
		return
	}
	a.Log.Info().Str("service", a.Cfg.Service.Name).Msg("service restarted")
}
