// Package lock provides host-wide advisory locks keyed by operation and target.
//
// Deployments take "deploy-<app>", backups take "backup-<tag>" and restores take
// "restore-<tag>", so two invocations never act on the same target at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var ErrLocked = errors.New("another operation holds the lock")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

type Lock struct {
	name string
	file *os.File
}

// Key returns the lock name for an operation on a target, e.g. "deploy-api".
func Key(operation, target string) string {
	return unsafeChars.ReplaceAllString(operation+"-"+target, "_")
}

// Acquire takes an exclusive, non-blocking advisory lock on dir/<key>.lock.
// It fails with ErrLocked when another process holds the same key.
func Acquire(dir, key string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := filepath.Join(dir, key+".lock")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		holder := readHolder(file)
		_ = file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if holder != "" {
				return nil, fmt.Errorf("%w: %s (held by pid %s)", ErrLocked, key, holder)
			}
			return nil, fmt.Errorf("%w: %s", ErrLocked, key)
		}
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	// Record the holder for operators; the lock itself is the flock.
	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	log.Debugf("Acquired lock %q", path)

	return &Lock{name: key, file: file}, nil
}

func readHolder(file *os.File) string {
	buf := make([]byte, 32)
	n, _ := file.ReadAt(buf, 0)
	return strings.TrimSpace(string(buf[:n]))
}

// Release drops the lock. The lock file is left in place; removing it would race with new acquirers.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.name, err)
	}
	return closeErr
}
