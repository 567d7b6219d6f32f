// Package lockfile guards a RuleNotify output directory with an exclusive flock so two
// watch processes never write match reports into the same place.
//
// The lock is released by the kernel when the process exits, so a crashed holder never
// blocks the next run; only the informational lock file may be left behind.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the guarded directory.
const LockFileName = ".rulenotify.lock"

// Info is the holder description written into the lock file.
type Info struct {
	PID     int
	Owner   string // e.g. "watch"
	Started time.Time
}

func (i Info) encode() string {
	return fmt.Sprintf("pid=%d\nowner=%s\nstarted=%s\n", i.PID, i.Owner, i.Started.UTC().Format(time.RFC3339))
}

// parseInfo reads the key=value lines of a lock file. Unknown keys are ignored.
func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "owner":
			info.Owner = value
		case "started":
			info.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}

// Lock is a held directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on dir, creating the directory if needed. It
// fails immediately with a *LockError when another process holds the lock.
func AcquireLock(dir, owner string) (*Lock, error) {
	lockPath := filepath.Join(dir, LockFileName)
	slog.Debug("lockfile.AcquireLock", "lock_path", lockPath, "owner", owner)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// O_TRUNC is deliberately absent: a failed attempt must not wipe the holder's info.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("lockfile.AcquireLock: directory is locked", "lock_path", lockPath, "holder", holder, "error", err)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	info := Info{PID: os.Getpid(), Owner: owner, Started: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Acquired directory lock", "lock_path", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile: sync failed", "error", err, "path", file.Name())
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var firstErr error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		firstErr = fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = fmt.Errorf("failed to remove %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close %s: %w", l.path, err)
	}
	l.file = nil
	slog.Info("Released directory lock", "lock_path", l.path)
	return firstErr
}

// LockError reports a directory already locked by another process.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("directory is locked by another RuleNotify process (lock file %s", e.LockPath)
	if e.Holder != "" {
		msg += ", holder " + e.Holder
	}
	return msg + "); remove the lock file only if that process is gone"
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarizes the lock file's holder for error messages.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	info := parseInfo(string(data))
	if info.PID <= 0 {
		return ""
	}
	state := "not running"
	if isProcessRunning(info.PID) {
		state = "running"
	}
	desc := fmt.Sprintf("pid %d (%s)", info.PID, state)
	if info.Owner != "" {
		desc += " " + info.Owner
	}
	return desc
}

// isProcessRunning sends signal 0, which checks for existence without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
