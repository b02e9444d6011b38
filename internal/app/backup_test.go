package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/calder-ops/tradevault/internal/config"
	"github.com/calder-ops/tradevault/internal/db"
	"github.com/calder-ops/tradevault/internal/lock"
	"github.com/calder-ops/tradevault/internal/manifest"
)

type fakeDB struct {
	validateErr error
	dumpErr     error
	restored    []string
	restoreErr  error
}

func (f *fakeDB) Validate(ctx context.Context, cfg config.DatabaseConfig) error {
	return f.validateErr
}

func (f *fakeDB) Dump(ctx context.Context, cfg config.DatabaseConfig, format db.Format, destPath string) (*db.Descriptor, error) {
	if f.dumpErr != nil {
		return nil, f.dumpErr
	}
	if err := os.WriteFile(destPath, []byte("-- dump --\n"), 0o600); err != nil {
		return nil, err
	}
	desc := &db.Descriptor{Format: format, DumpPath: destPath, SizeBytes: 11, Database: cfg.Database}
	if err := desc.WriteMeta(); err != nil {
		return nil, err
	}
	return desc, nil
}

func (f *fakeDB) Restore(ctx context.Context, cfg config.DatabaseConfig, format db.Format, dumpPath string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, dumpPath)
	return nil
}

type fakeSvc struct {
	stops, starts int
	active        bool
}

func (f *fakeSvc) Stop(ctx context.Context, name string) error  { f.stops++; return nil }
func (f *fakeSvc) Start(ctx context.Context, name string) error { f.starts++; return nil }
func (f *fakeSvc) IsActive(ctx context.Context, name string) (bool, error) {
	return f.active, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	srcDir := filepath.Join(root, "deploy")
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "conf", "b.txt"), []byte("bravo"), 0o644))

	cfg := &config.Config{}
	cfg.Global.LockFile = filepath.Join(root, "tvault.lock")
	cfg.Backup.Directory = filepath.Join(root, "backups")
	cfg.Backup.Prefix = "trading"
	cfg.Backup.Sources = []string{srcDir}
	cfg.Backup.Compression = "gzip"
	cfg.Backup.Verify = true
	cfg.Restore.DeployDir = srcDir
	cfg.Restore.SnapshotDirs = []string{srcDir}
	cfg.Restore.Force = true
	return cfg
}

func newTestApp(cfg *config.Config, database Database) *App {
	return New(cfg, database, nil, zerolog.Nop(), nil, nil)
}

func TestBackupFilesOnly(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(cfg, &fakeDB{})

	res, err := a.Backup(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.True(t, res.Verified)
	require.Empty(t, res.Warnings)

	require.FileExists(t, res.ArtifactPath)
	require.True(t, strings.HasSuffix(res.ArtifactPath, ".tar.gz"))
	require.FileExists(t, res.ArtifactPath+".sha256")
	require.FileExists(t, res.ArtifactPath+manifest.Suffix)

	ptr, err := manifest.ReadLatest(cfg.Backup.Directory)
	require.NoError(t, err)
	require.Equal(t, filepath.Base(res.ArtifactPath), ptr.BackupFile)
	require.True(t, ptr.Verified)

	require.NotNil(t, res.Manifest)
	require.False(t, res.Manifest.IncludesDatabase)
}

func TestBackupIncludesDatabaseDump(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = true
	cfg.Database.Database = "trading"
	a := newTestApp(cfg, &fakeDB{})

	res, err := a.Backup(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.True(t, res.Manifest.IncludesDatabase)

	// The loose dump is folded into the archive and removed.
	loose, err := filepath.Glob(filepath.Join(cfg.Backup.Directory, "*.dump"))
	require.NoError(t, err)
	require.Empty(t, loose)
}

func TestBackupDegradesWhenDumpFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = true
	a := newTestApp(cfg, &fakeDB{dumpErr: os.ErrPermission})

	res, err := a.Backup(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusDegraded, res.Status)
	require.NotEmpty(t, res.Warnings)
	require.False(t, res.Manifest.IncludesDatabase)
	require.FileExists(t, res.ArtifactPath)
}

func TestBackupDatabaseOnlyFailsWithoutDump(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = true
	cfg.Backup.DatabaseOnly = true
	a := newTestApp(cfg, &fakeDB{dumpErr: os.ErrPermission})

	res, err := a.Backup(context.Background())
	require.Error(t, err)
	require.Equal(t, StatusFailed, res.Status)
}

func TestBackupEncrypted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Encryption = true
	cfg.Backup.Passphrase = "correct horse"
	a := newTestApp(cfg, &fakeDB{})

	res, err := a.Backup(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.True(t, strings.HasSuffix(res.ArtifactPath, ".enc"))
	require.True(t, res.Manifest.Encrypted)
	require.True(t, res.Verified)

	// The plaintext archive must be gone.
	plain := strings.TrimSuffix(res.ArtifactPath, ".enc")
	require.NoFileExists(t, plain)
}

func TestBackupStopsAndRestartsService(t *testing.T) {
	cfg := testConfig(t)
	cfg.Service.Name = "trading"
	cfg.Service.StopDuringBackup = true
	svc := &fakeSvc{active: true}
	a := New(cfg, &fakeDB{}, svc, zerolog.Nop(), nil, nil)

	_, err := a.Backup(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, svc.stops)
	require.Equal(t, 1, svc.starts)
}

func TestBackupHonorsWindow(t *testing.T) {
	cfg := testConfig(t)
	// A one-minute window that cannot contain both boundaries of "now".
	cfg.Schedule.WindowStart = "00:00"
	cfg.Schedule.WindowEnd = "00:00"
	a := newTestApp(cfg, &fakeDB{})

	// Either now is exactly 00:00 (window hit) or the run is refused.
	if _, err := a.Backup(context.Background()); err != nil {
		require.Contains(t, err.Error(), "window")
	}
}

func TestBackupRefusesConcurrentRuns(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(cfg, &fakeDB{})

	guard, err := lock.Acquire(cfg.Global.LockFile)
	require.NoError(t, err)
	defer guard.Release()

	_, err = a.Backup(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "already in progress")
}
