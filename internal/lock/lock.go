package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Guard is an advisory filesystem lock held for the duration of a backup or
// restore. Two concurrent runs would race on the backup directory and the
// latest-pointer manifest, so acquisition is try-once with a clear error.
type Guard struct {
	file *flock.Flock
}

// Acquire obtains the lock or fails immediately if another operation holds it.
func Acquire(path string) (*Guard, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "tvault.lock")
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another backup or restore is already in progress (lock: %s)", path)
	}
	return &Guard{file: lock}, nil
}

// Release frees the lock.
func (g *Guard) Release() error {
	if g == nil || g.file == nil {
		return nil
	}
	return g.file.Unlock()
}
