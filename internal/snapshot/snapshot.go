// Package snapshot implements the safety nets around a destructive restore:
// a best-effort emergency copy of current state, and the rename-aside swap
// of the deployment directory that keeps the prior state recoverable even if
// extraction fails midway.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/calder-ops/tradevault/internal/util"
)

// Take copies each source directory into a timestamped snapshot directory
// under destRoot and returns the snapshot path. It is a cheap, unverified
// safety net distinct from the formal backup system; per-directory failures
// are collected but do not abort.
func Take(dirs []string, destRoot string, when time.Time) (string, []error) {
	snapDir := filepath.Join(destRoot, util.SnapshotName(when))
	if err := os.MkdirAll(snapDir, 0o750); err != nil {
		return "", []error{fmt.Errorf("create snapshot dir: %w", err)}
	}

	var errs []error
	for _, src := range dirs {
		if _, err := os.Stat(src); err != nil {
			errs = append(errs, fmt.Errorf("snapshot source %s: %w", src, err))
			continue
		}
		dst := filepath.Join(snapDir, filepath.Base(src))
		if err := copyTree(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", src, err))
		}
	}
	return snapDir, errs
}

// SwapAside renames the deployment directory out of the way and returns the
// aside path. The directory is renamed, never deleted, so the prior state
// survives a failed extraction.
func SwapAside(deployDir string, when time.Time) (string, error) {
	aside := fmt.Sprintf("%s.pre-restore-%s", deployDir, when.UTC().Format(util.TimestampFormat))
	if err := os.Rename(deployDir, aside); err != nil {
		return "", fmt.Errorf("swap deployment dir aside: %w", err)
	}
	return aside, nil
}

// Rollback undoes SwapAside: any partially restored directory is removed and
// the aside copy renamed back into place.
func Rollback(deployDir, asidePath string) error {
	if asidePath == "" {
		return nil
	}
	if _, err := os.Stat(asidePath); err != nil {
		return fmt.Errorf("rollback source missing: %w", err)
	}
	if err := os.RemoveAll(deployDir); err != nil {
		return fmt.Errorf("remove partial restore: %w", err)
	}
	if err := os.Rename(asidePath, deployDir); err != nil {
		return fmt.Errorf("restore prior deployment dir: %w", err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
