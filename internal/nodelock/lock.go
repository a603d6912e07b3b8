// Package nodelock implements the single advisory process-wide lock
// held for the lifetime of one coordinator command, per the Node Lock
// component. It is acquired locally first and, for mutating cluster
// operations, on every reachable peer via the mcvirt-obtainLock remote
// action (see internal/cluster).
package nodelock

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mcvirt/mcvirt/internal/mcerrors"
)

// DefaultTimeout is the default lock-acquire timeout described in the
// concurrency model (§5): 2 seconds.
const DefaultTimeout = 2 * time.Second

// pollInterval is how often Acquire retries flock while waiting out
// the timeout.
const pollInterval = 50 * time.Millisecond

// Lock is a single advisory file lock under a known path.
type Lock struct {
	path string
	log  *logrus.Logger

	mu   sync.Mutex
	file *os.File
	held bool
}

// New constructs a Lock bound to path. The containing directory is
// created lazily on first Acquire.
func New(path string, log *logrus.Logger) *Lock {
	return &Lock{path: path, log: log}
}

// Acquire obtains the lock, retrying flock(LOCK_EX|LOCK_NB) until
// timeout elapses. It fails immediately with AlreadyRunning if another
// holder exists and the timeout has been exhausted.
func (l *Lock) Acquire(timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return mcerrors.NewAlreadyRunning(os.Getpid())
	}

	if err := ensureDir(l.path); err != nil {
		return err
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			file.Close()
			return mcerrors.NewAlreadyRunning(-1)
		}
		time.Sleep(pollInterval)
	}

	l.file = file
	l.held = true
	if l.log != nil {
		l.log.WithField("path", l.path).Debug("node lock acquired")
	}
	return nil
}

// Release releases the lock if held. Releasing a lock that is not held
// is a no-op, so Release is always safe to call on every exit path
// (including error paths), per the scoped-acquisition design note.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil
	l.held = false
	if l.log != nil {
		l.log.WithField("path", l.path).Debug("node lock released")
	}
	return err
}

// Held reports whether this process currently holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
