package util

import (
	"fmt"
	"path/filepath"
	"time"
)

// TimestampFormat is the compact UTC stamp used in artifact names.
const TimestampFormat = "20060102T150405Z"

// ArtifactName builds a backup artifact filename:
// <prefix>_<kind>_<stamp><ext>, e.g. trading_full_20260826T120000Z.tar.zst.
func ArtifactName(prefix, kind string, when time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s%s", prefix, kind, when.UTC().Format(TimestampFormat), ext)
}

// ArtifactPath joins the backup directory and an artifact name.
func ArtifactPath(dir, name string) string {
	return filepath.Join(dir, name)
}

// SnapshotName builds the timestamped directory name for an emergency
// snapshot taken before a destructive restore step.
func SnapshotName(when time.Time) string {
	return fmt.Sprintf("pre_restore_snapshot_%s", when.UTC().Format(TimestampFormat))
}
