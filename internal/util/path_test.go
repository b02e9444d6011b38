package util

import (
	"strings"
	"testing"
	"time"
)

func TestArtifactName(t *testing.T) {
	when := time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)
	name := ArtifactName("trading", "full", when, ".tar.zst")
	if name != "trading_full_20260102T103000Z.tar.zst" {
		t.Fatalf("unexpected name: %s", name)
	}
}

func TestSnapshotName(t *testing.T) {
	when := time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)
	name := SnapshotName(when)
	if !strings.HasPrefix(name, "pre_restore_snapshot_") {
		t.Fatalf("unexpected prefix: %s", name)
	}
	if !strings.Contains(name, "20260102T103000Z") {
		t.Fatalf("missing timestamp: %s", name)
	}
}
