// Package lockfile keeps two connector processes from running at once.
// The lock is a file holding "<pid> <start time>"; a lock left behind by a
// process that is no longer alive is taken over with a warning.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"build-bridge/src/logger"
	"build-bridge/src/provider"
)

// DefaultName is the lock file created in the working directory.
const DefaultName = "LOCK.tmp"

// ErrLocked is returned when the lock file appears between removing a stale
// lock and creating ours.
var ErrLocked = errors.New("another connector process holds the lock")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started string
}

func (h Holder) String() string {
	return fmt.Sprintf("%d %s", h.PID, h.Started)
}

// Lock is a process lock backed by a file.
type Lock struct {
	path  string
	log   logger.Logger
	alive func(pid int) bool
	held  bool
}

// New returns an unheld lock at path.
func New(path string, log logger.Logger) *Lock {
	return &Lock{path: path, log: log, alive: Alive}
}

// Acquire takes the lock. A live holder fails with a ConfigurationError and
// a stale or unreadable lock file is replaced.
func (l *Lock) Acquire() error {
	if _, err := os.Stat(l.path); err == nil {
		l.log.Warn("A %s file exists", l.path)
		holder, err := ReadHolder(l.path)
		switch {
		case err != nil:
			l.log.Warn("Lock file %s is unusable (%v), proceeding with this run", l.path, err)
		case holder.PID != os.Getpid() && l.alive(holder.PID):
			l.log.Error("Another connector process [%s] is still running, unable to proceed", holder)
			return &provider.ConfigurationError{
				Message: "simultaneous processes for this connector are prohibited",
				Items:   []string{holder.String()},
				Hint:    fmt.Sprintf("Wait for process %d to finish, or remove %s if it is not a connector", holder.PID, l.path),
			}
		default:
			l.log.Warn("A prior connector process (%s) did not clean up the lock file on termination, proceeding with this run", holder)
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unable to remove lock file %s: %w", l.path, err)
		}
	}

	fh, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s was created concurrently", ErrLocked, l.path)
		}
		return fmt.Errorf("unable to create lock file %s: %w", l.path, err)
	}
	defer fh.Close()

	entry := Holder{PID: os.Getpid(), Started: time.Now().UTC().Format("2006-01-02 15:04:05 Z")}
	if _, err := fmt.Fprintln(fh, entry); err != nil {
		return fmt.Errorf("unable to write lock file %s: %w", l.path, err)
	}
	l.held = true
	return nil
}

// Release removes the lock file if this Lock holds it.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove lock file %s: %w", l.path, err)
	}
	return nil
}

// ReadHolder parses the lock file at path.
func ReadHolder(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return Holder{}, fmt.Errorf("lock file %s has no content", path)
	}
	pidText, started, _ := strings.Cut(content, " ")
	pid, err := strconv.Atoi(pidText)
	if err != nil {
		return Holder{}, fmt.Errorf("lock file %s purported pid %q is not an integer value", path, pidText)
	}
	return Holder{PID: pid, Started: strings.TrimSpace(started)}, nil
}
