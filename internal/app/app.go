// Package app sequences the backup and restore orchestrations. Each entry
// point runs start-to-finish under an advisory lock with no internal
// parallelism; every collaborator that touches the outside world (database
// tools, service manager, prompts) is injected so tests can substitute
// stubs.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/calder-ops/tradevault/internal/config"
	"github.com/calder-ops/tradevault/internal/cryptoutil"
	"github.com/calder-ops/tradevault/internal/db"
	"github.com/calder-ops/tradevault/internal/notify"
	"github.com/calder-ops/tradevault/internal/offsite"
	"github.com/calder-ops/tradevault/internal/service"
)

// Database is the dump/restore surface the orchestrators need.
// *db.Postgres is the production implementation.
type Database interface {
	Validate(ctx context.Context, cfg config.DatabaseConfig) error
	Dump(ctx context.Context, cfg config.DatabaseConfig, format db.Format, destPath string) (*db.Descriptor, error)
	Restore(ctx context.Context, cfg config.DatabaseConfig, format db.Format, dumpPath string) error
}

type App struct {
	Cfg      *config.Config
	DB       Database
	Svc      service.Manager
	Log      zerolog.Logger
	Notifier notify.Notifier
	Offsite  *offsite.Replicator

	// Confirm asks the operator to approve a destructive step. nil means
	// non-interactive: confirmation is refused unless --force is set.
	Confirm func(prompt string) (bool, error)
	// Passphrase supplies the encryption passphrase when the config does
	// not carry one (interactive prompt in the CLI).
	Passphrase func() (string, error)
}

func New(cfg *config.Config, database Database, svc service.Manager, log zerolog.Logger, notifier notify.Notifier, rep *offsite.Replicator) *App {
	return &App{Cfg: cfg, DB: database, Svc: svc, Log: log, Notifier: notifier, Offsite: rep}
}

// passphrase resolves the artifact passphrase from config or the injected
// prompt.
func (a *App) passphrase() (string, error) {
	if a.Cfg.Backup.Passphrase != "" {
		return a.Cfg.Backup.Passphrase, nil
	}
	if a.Passphrase != nil {
		return a.Passphrase()
	}
	return "", fmt.Errorf("no passphrase configured and no prompt available")
}

func (a *App) notify(ctx context.Context, event notify.Event) {
	if a.Notifier == nil {
		return
	}
	if err := a.Notifier.Notify(ctx, event); err != nil {
		a.Log.Warn().Err(err).Msg("notification delivery failed")
	}
}

var (
	headerColor = color.New(color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	failColor   = color.New(color.FgRed)
)

func statusColor(s Status) *color.Color {
	switch s {
	case StatusSuccess:
		return okColor
	case StatusDegraded:
		return warnColor
	default:
		return failColor
	}
}

// PrintBackupSummary writes the end-of-run summary to stdout. It is printed
// for every outcome so an operator can always locate the last good artifact.
func (a *App) PrintBackupSummary(res *BackupResult) {
	headerColor.Fprintln(os.Stdout, "== backup summary ==")
	fmt.Fprintf(os.Stdout, "status:    %s\n", statusColor(res.Status).Sprint(res.Status))
	if res.Manifest != nil {
		fmt.Fprintf(os.Stdout, "artifact:  %s\n", res.Manifest.ArtifactPath)
		fmt.Fprintf(os.Stdout, "kind:      %s\n", res.Manifest.Kind)
		fmt.Fprintf(os.Stdout, "size:      %s\n", res.Manifest.SizeHuman)
		fmt.Fprintf(os.Stdout, "checksum:  %s\n", res.Manifest.Checksum)
		fmt.Fprintf(os.Stdout, "encrypted: %v\n", res.Manifest.Encrypted)
		fmt.Fprintf(os.Stdout, "database:  %v\n", res.Manifest.IncludesDatabase)
	}
	fmt.Fprintf(os.Stdout, "verified:  %v\n", res.Verified)
	fmt.Fprintf(os.Stdout, "duration:  %s\n", res.Duration.Round(durationPrecision))
	printWarnings(res.Warnings)
}

// PrintRestoreSummary writes the restore summary to stdout, including where
// the emergency snapshot and the swapped-aside deployment live.
func (a *App) PrintRestoreSummary(rep *RestoreReport) {
	headerColor.Fprintln(os.Stdout, "== restore summary ==")
	fmt.Fprintf(os.Stdout, "status:            %s\n", statusColor(rep.Status).Sprint(rep.Status))
	fmt.Fprintf(os.Stdout, "target:            %s\n", rep.Target)
	if rep.DryRun {
		fmt.Fprintln(os.Stdout, "dry run:           no changes made")
		return
	}
	fmt.Fprintf(os.Stdout, "files restored:    %v\n", rep.FilesRestored)
	fmt.Fprintf(os.Stdout, "database restored: %v\n", rep.DatabaseRestored)
	if rep.SnapshotPath != "" {
		fmt.Fprintf(os.Stdout, "emergency snapshot: %s\n", rep.SnapshotPath)
	}
	if rep.AsidePath != "" {
		fmt.Fprintf(os.Stdout, "previous deploy:   %s\n", rep.AsidePath)
	}
	fmt.Fprintf(os.Stdout, "healthy:           %v\n", rep.Healthy)
	fmt.Fprintf(os.Stdout, "duration:          %s\n", rep.Duration.Round(durationPrecision))
	printWarnings(rep.Warnings)
}

func printWarnings(warnings []string) {
	if len(warnings) == 0 {
		return
	}
	warnColor.Fprintf(os.Stdout, "warnings (%d):\n", len(warnings))
	for _, w := range warnings {
		fmt.Fprintf(os.Stdout, "  - %s\n", w)
	}
}

// isArchive reports whether the artifact is a file archive as opposed to a
// bare database dump. Only the file name decides; directory names carry no
// weight.
func isArchive(path string) bool {
	name := strings.TrimSuffix(filepath.Base(path), cryptoutil.EncSuffix)
	for _, ext := range []string{".tar", ".tar.gz", ".tar.zst", ".tgz"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
