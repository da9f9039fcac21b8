package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fulmenhq/reface/pkg/logger"
)

// ErrLockContention is wrapped by every *LockContentionError.
var ErrLockContention = errors.New("ledger lock contention")

// LockContentionError reports a lock that could not be taken within the timeout.
type LockContentionError struct {
	Path     string
	Waited   time.Duration
	Attempts int
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("lock %s still held after %s (%d attempts)", e.Path, e.Waited.Round(time.Millisecond), e.Attempts)
}

func (e *LockContentionError) Unwrap() error { return ErrLockContention }

// LockOptions bound how long Acquire waits.
type LockOptions struct {
	Timeout    time.Duration
	Poll       time.Duration
	StaleAfter time.Duration
}

// DefaultLockOptions are used for zero fields.
var DefaultLockOptions = LockOptions{
	Timeout:    10 * time.Second,
	Poll:       50 * time.Millisecond,
	StaleAfter: 2 * time.Minute,
}

func (o LockOptions) withDefaults() LockOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultLockOptions.Timeout
	}
	if o.Poll <= 0 {
		o.Poll = DefaultLockOptions.Poll
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultLockOptions.StaleAfter
	}
	return o
}

// LockInfo is written into the lock file.
type LockInfo struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
	Host      string    `json:"host"`
}

// Lock is an exclusive lock file plus the in-process mutex for the same path.
type Lock struct {
	path string
	mu   *sync.Mutex
	once sync.Once
	err  error
}

// processLocks serializes goroutines of this process before they touch the lock file.
var processLocks sync.Map // abs path -> *sync.Mutex

func processMutex(path string) *sync.Mutex {
	m, _ := processLocks.LoadOrStore(path, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Acquire creates path exclusively, polling until opts.Timeout. A lock file older
// than opts.StaleAfter whose owner is gone is removed once.
func Acquire(ctx context.Context, path string, opts LockOptions) (*Lock, error) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve lock path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	mu := processMutex(abs)
	start := time.Now()
	deadline := start.Add(opts.Timeout)
	attempts := 0
	haveMutex := false
	staleRemoved := false

	for {
		attempts++
		if !haveMutex {
			haveMutex = mu.TryLock()
		}
		if haveMutex {
			ok, err := createLockFile(abs)
			if err != nil {
				mu.Unlock()
				return nil, err
			}
			if ok {
				return &Lock{path: abs, mu: mu}, nil
			}
			if !staleRemoved && isStale(abs, opts.StaleAfter) {
				staleRemoved = true
				logger.Warn("removing stale lock", logger.String("path", abs))
				if err := os.Remove(abs); err == nil || errors.Is(err, os.ErrNotExist) {
					continue
				}
			}
		}

		if time.Now().After(deadline) {
			if haveMutex {
				mu.Unlock()
			}
			return nil, &LockContentionError{Path: abs, Waited: time.Since(start), Attempts: attempts}
		}
		select {
		case <-ctx.Done():
			if haveMutex {
				mu.Unlock()
			}
			return nil, ctx.Err()
		case <-time.After(opts.Poll):
		}
	}
}

func createLockFile(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304 -- lock path derived from ledger root
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create lock %s: %w", path, err)
	}
	host, _ := os.Hostname()
	info, _ := json.Marshal(LockInfo{PID: os.Getpid(), CreatedAt: time.Now().UTC(), Host: host})
	_, werr := f.Write(info)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("write lock %s: %w", path, errors.Join(werr, cerr))
	}
	return true, nil
}

// isStale reports a lock older than staleAfter whose owning process is gone.
func isStale(path string, staleAfter time.Duration) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	if time.Since(st.ModTime()) < staleAfter {
		return false
	}
	var info LockInfo
	data, err := os.ReadFile(path) // #nosec G304 -- lock path derived from ledger root
	if err != nil || json.Unmarshal(data, &info) != nil {
		return true
	}
	host, _ := os.Hostname()
	if info.Host != "" && info.Host != host {
		return true
	}
	return !pidAlive(info.PID)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// Path is the lock file location.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.err = fmt.Errorf("release lock %s: %w", l.path, err)
		}
		l.mu.Unlock()
	})
	return l.err
}

// WithLock runs fn while holding the lock at path. The lock is released on every exit path.
func WithLock(ctx context.Context, path string, opts LockOptions, fn func() error) (err error) {
	l, err := Acquire(ctx, path, opts)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}
