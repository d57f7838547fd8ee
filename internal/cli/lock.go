package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockFile serializes stall processes sharing one data directory. The
// ledger snapshot is read at start and written at exit, so two commands
// must never overlap.
const lockFile = "stall.lock"

var errDataDirBusy = errors.New("data directory is in use by another stall process")

// lockTimeout bounds how long a command waits for the data directory.
var lockTimeout = 30 * time.Second

const lockRetry = 25 * time.Millisecond

// lockDataDir creates dataDir if needed and takes its exclusive lock.
func lockDataDir(ctx context.Context, dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	fl := flock.New(filepath.Join(dataDir, lockFile))

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errDataDirBusy, dataDir)
	}
	return fl, nil
}
