// Package retention deletes backup artifacts, database dumps and log files
// older than the configured window. It must only run after the current
// cycle's artifact and manifest are durably written, so cleanup can never
// leave a zero-backup window behind.
package retention

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/calder-ops/tradevault/internal/checksum"
	"github.com/calder-ops/tradevault/internal/db"
	"github.com/calder-ops/tradevault/internal/manifest"
)

// DefaultPatterns covers full archives (optionally encrypted), database-only
// dumps, emergency snapshots taken before restores, and operational logs.
// Each pattern is evaluated independently against the same age threshold.
var DefaultPatterns = append(append([]string{}, manifest.ArtifactPatterns...),
	"pre_restore_snapshot_*", "*.log")

// Result reports one cleanup pass. Individual file errors are advisory and
// never abort the pass.
type Result struct {
	Deleted    int
	FreedBytes int64
	Errors     []string
}

// Cleanup removes files in dir matching any pattern and older than
// maxAgeDays. keepLast exempts the N most recent matches of each pattern
// regardless of age; 0 disables the floor. dryRun reports what would be
// deleted without touching anything.
func Cleanup(dir string, patterns []string, maxAgeDays, keepLast int, dryRun bool, log zerolog.Logger) (*Result, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, pattern := range patterns {
		candidates := matchEntries(dir, entries, pattern)

		// Newest first, so the keepLast floor protects the most recent.
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].mod.After(candidates[j].mod)
		})

		for i, c := range candidates {
			if keepLast > 0 && i < keepLast {
				continue
			}
			if !c.mod.Before(cutoff) {
				continue
			}
			if dryRun {
				log.Info().Str("file", c.path).Msg("retention would delete")
				result.Deleted++
				result.FreedBytes += c.size
				continue
			}
			if err := remove(c.path); err != nil {
				result.Errors = append(result.Errors, err.Error())
				log.Warn().Err(err).Str("file", c.path).Msg("retention delete failed")
				continue
			}
			removeSidecars(c.path)
			log.Info().Str("file", c.path).Int("age_days", int(time.Since(c.mod).Hours()/24)).Msg("retention deleted")
			result.Deleted++
			result.FreedBytes += c.size
		}
	}
	return result, nil
}

type candidate struct {
	path string
	mod  time.Time
	size int64
}

func matchEntries(dir string, entries []os.DirEntry, pattern string) []candidate {
	var out []candidate
	for _, entry := range entries {
		if ok, _ := filepath.Match(pattern, entry.Name()); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, candidate{
			path: filepath.Join(dir, entry.Name()),
			mod:  info.ModTime(),
			size: info.Size(),
		})
	}
	return out
}

func remove(path string) error {
	// Directory-format dumps are whole directories.
	return os.RemoveAll(path)
}

// removeSidecars drops the manifest, checksum and dump descriptor files that
// travel with an artifact. Missing sidecars are fine.
func removeSidecars(artifactPath string) {
	os.Remove(manifest.Path(artifactPath))
	os.Remove(checksum.SidecarPath(artifactPath))
	os.Remove(artifactPath + db.MetaSuffix)
}
