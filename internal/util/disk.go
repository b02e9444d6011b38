package util

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeBytes reports the bytes available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// EnsureFreeSpace fails when the destination filesystem has less than min
// bytes available. Backups abort before writing anything rather than leaving
// partial artifacts behind.
func EnsureFreeSpace(path string, min uint64) error {
	if min == 0 {
		return nil
	}
	free, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if free < min {
		return fmt.Errorf("insufficient disk space at %s: %d bytes free, %d required", path, free, min)
	}
	return nil
}
