// Package lockfile claims per-instrument process locks so two trader
// processes can never drive the same coin.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is a held file lock for one instrument.
type Lock struct {
	coin  string
	flock *flock.Flock
}

// Acquire takes a non-blocking exclusive lock on dir/perpcore-<coin>.lock.
// Failure means another process already trades the coin; the error names it.
func Acquire(dir, coin string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: create lock dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("perpcore-%s.lock", coin))
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lockfile: try lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lockfile: %s is already claimed by another process (lock %s)", coin, path)
	}
	return &Lock{coin: coin, flock: fl}, nil
}

// Coin returns the instrument this lock claims.
func (l *Lock) Coin() string {
	return l.coin
}

// Release drops the lock. Safe to call on an already released lock.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("lockfile: unlock %s: %w", l.coin, err)
	}
	return nil
}
