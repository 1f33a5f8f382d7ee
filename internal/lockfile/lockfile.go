// Package lockfile implements a cross-process advisory lock based on a
// sibling marker file. It is designed for single-host or cooperative-host
// deployments: acquisition is bounded by a timeout, and a marker older than
// the timeout is presumed stale and reclaimed.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Sentinel errors for lock operations.
var (
	// ErrLockTimeout indicates the lock could not be acquired within the
	// configured timeout, even after a stale-marker reclaim attempt.
	ErrLockTimeout = errors.New("lockfile: acquisition timed out")

	// ErrNotHeld indicates Release was called on a lock that is not held.
	ErrNotHeld = errors.New("lockfile: not held")
)

// DefaultTimeout bounds acquisition waits when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// pollInterval is how often acquisition re-attempts while waiting.
const pollInterval = 100 * time.Millisecond

// Config holds lock construction parameters.
type Config struct {
	// Path is the marker file location (conventionally "<resource>.lock").
	Path string

	// Timeout bounds the acquisition wait and doubles as the staleness
	// threshold for existing markers. Zero means DefaultTimeout.
	Timeout time.Duration

	// Holder identifies this process in the marker file. Empty defaults
	// to "pid:<pid>".
	Holder string

	// OnReclaim, if set, is invoked after a stale marker has been forcibly
	// cleared, with the age of the reclaimed marker. Callers use this to
	// record the reclaim as a system-level issue for operator review.
	OnReclaim func(age time.Duration)

	// Now is injectable for testing. Nil means time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Holder == "" {
		c.Holder = fmt.Sprintf("pid:%d", os.Getpid())
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Lock is a timeout-bounded exclusive lock backed by a marker file.
// At most one live holder exists for a given path at any instant; the
// zero value is not usable; construct with New.
type Lock struct {
	cfg  Config
	held bool
}

// New creates a Lock for cfg.Path. The lock is not acquired yet.
func New(cfg Config) *Lock {
	return &Lock{cfg: cfg.withDefaults()}
}

// Acquire obtains the lock, waiting up to the configured timeout.
//
// Protocol: attempt an exclusive create of the marker file; on contention,
// poll until the deadline. If at any point the existing marker's age exceeds
// the timeout it is presumed stale: the marker is forcibly removed, the
// reclaim is reported via OnReclaim, and acquisition is retried once more
// before giving up. Failure surfaces ErrLockTimeout; the caller must treat
// a lost append as worse than a visibly failed run.
func (l *Lock) Acquire(ctx context.Context) error {
	if l.held {
		return fmt.Errorf("lockfile: %s already held", l.cfg.Path)
	}

	deadline := l.cfg.Now().Add(l.cfg.Timeout)
	reclaimed := false

	for {
		ok, err := l.tryCreate()
		if err != nil {
			return err
		}
		if ok {
			l.held = true
			return nil
		}

		// Contended. A marker older than the timeout is presumed stale
		// (holder crashed without releasing); clear it and retry once.
		if !reclaimed {
			age, ok := l.markerAge()
			if ok && age > l.cfg.Timeout {
				if err := os.Remove(l.cfg.Path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("lockfile: clearing stale marker %s: %w", l.cfg.Path, err)
				}
				reclaimed = true
				if l.cfg.OnReclaim != nil {
					l.cfg.OnReclaim(age)
				}
				continue
			}
		}

		if !l.cfg.Now().Before(deadline) {
			return fmt.Errorf("%w: %s after %s (holder may be stuck; inspect the marker file)",
				ErrLockTimeout, l.cfg.Path, l.cfg.Timeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("lockfile: waiting for %s: %w", l.cfg.Path, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// Release removes the marker file. Safe to call on every exit path;
// returns ErrNotHeld if the lock was never acquired.
func (l *Lock) Release() error {
	if !l.held {
		return ErrNotHeld
	}
	l.held = false
	if err := os.Remove(l.cfg.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: releasing %s: %w", l.cfg.Path, err)
	}
	return nil
}

// tryCreate attempts an exclusive create of the marker. Returns (true, nil)
// on success and (false, nil) when the marker already exists.
func (l *Lock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("lockfile: creating %s: %w", l.cfg.Path, err)
	}
	defer f.Close()

	// Marker content records holder identity and acquisition time for
	// operator inspection; correctness relies only on the file's existence.
	fmt.Fprintf(f, "%s\n%s\n", l.cfg.Holder, l.cfg.Now().UTC().Format(time.RFC3339))
	return true, nil
}

// markerAge returns the age of the existing marker, or ok=false if the
// marker vanished between the create attempt and the stat.
func (l *Lock) markerAge() (time.Duration, bool) {
	fi, err := os.Stat(l.cfg.Path)
	if err != nil {
		return 0, false
	}
	return l.cfg.Now().Sub(fi.ModTime()), true
}
