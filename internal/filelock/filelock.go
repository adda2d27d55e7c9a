// Package filelock is an advisory per-file lock shared by processor hooks
// running in different worker processes. Holding the lock for a path is
// represented by a marker file "<path>.lock.<owner>" next to it.
package filelock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// DefaultOwner is used when no owner is given.
const DefaultOwner = "main"

// ErrLocked is returned when another owner still holds the path after the
// last attempt.
var ErrLocked = errors.New("file locked by another owner")

// Options tunes Acquire.
type Options struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultOptions retries ten times, waiting 500-1000ms between attempts.
func DefaultOptions() Options {
	return Options{Attempts: 10, MinDelay: 500 * time.Millisecond, MaxDelay: time.Second}
}

// MarkerPath returns the marker that records owner holding path.
func MarkerPath(path, owner string) string {
	return path + ".lock." + owner
}

// guardDir holds the flock guard files, keeping them out of the tree whose
// files are being locked.
var guardDir = filepath.Join(os.TempDir(), "rulerunner-filelock")

func guardPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(guardDir, 0o755); err != nil {
		return "", fmt.Errorf("create guard directory: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(guardDir, hex.EncodeToString(sum[:12])+".lock"), nil
}

// Holders lists the owners currently holding path.
func Holders(path string) ([]string, error) {
	prefix := filepath.Base(path) + ".lock."
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	var owners []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
			continue
		}
		owners = append(owners, strings.TrimPrefix(name, prefix))
	}
	sort.Strings(owners)
	return owners, nil
}

// Acquire takes the lock on path for owner. Acquiring a lock owner already
// holds succeeds without changes.
func Acquire(ctx context.Context, path, owner string, opts Options) error {
	if owner == "" {
		owner = DefaultOwner
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		ok, err := tryAcquire(path, owner)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt == opts.Attempts-1 {
			break
		}
		timer := time.NewTimer(jitter(opts.MinDelay, opts.MaxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	holders, _ := Holders(path)
	return fmt.Errorf("%w: %s held by %s", ErrLocked, path, strings.Join(holders, ", "))
}

// tryAcquire checks for other owners and creates the marker while holding an
// OS lock on the guard file, so the check and the create are one step.
func tryAcquire(path, owner string) (bool, error) {
	guardFile, err := guardPath(path)
	if err != nil {
		return false, err
	}
	guard := flock.New(guardFile)
	if err := guard.Lock(); err != nil {
		return false, fmt.Errorf("lock guard for %s: %w", path, err)
	}
	defer guard.Unlock()

	holders, err := Holders(path)
	if err != nil {
		return false, err
	}
	for _, holder := range holders {
		if holder != owner {
			return false, nil
		}
	}
	if len(holders) > 0 {
		return true, nil
	}

	file, err := os.OpenFile(MarkerPath(path, owner), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return true, nil
		}
		return false, fmt.Errorf("create lock marker: %w", err)
	}
	_, werr := file.WriteString(owner)
	if cerr := file.Close(); werr == nil {
		werr = cerr
	}
	return true, werr
}

// Release drops owner's hold on path. Releasing a lock that is not held is
// not an error.
func Release(path, owner string) error {
	if owner == "" {
		owner = DefaultOwner
	}
	if err := os.Remove(MarkerPath(path, owner)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
