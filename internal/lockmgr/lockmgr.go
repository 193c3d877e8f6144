// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package lockmgr implements named process locks (spec §4.H) backed by
// flock(2) on one file per lock name. Registry file mutations are guarded by
// these same named locks; the package has no separate semaphore primitive.
// It is built on golang.org/x/sys/unix, the same package the teacher stack already uses
// for low-level interface flags (internal/ctlplane/network_manager.go).
package lockmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"tsim.dev/tsim/internal/errs"
)

// Manager owns a lock directory and in-process bookkeeping for held locks.
type Manager struct {
	dir string

	mu  sync.Mutex
	fds map[string]int // name -> open fd, while held by this process
}

// New creates a Manager rooted at dir (created if absent).
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrapf(err, errs.KindInternal, "creating lock dir %s", dir)
	}
	return &Manager{dir: dir, fds: make(map[string]int)}, nil
}

func (m *Manager) pathFor(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

// Acquire blocks (polling at retry intervals) until the named lock is held,
// ctx is cancelled, or timeout elapses, whichever comes first. A zero
// timeout waits unbounded except for ctx cancellation.
func (m *Manager) Acquire(ctx context.Context, name string, timeout time.Duration, retry time.Duration) error {
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	path := m.pathFor(name)

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0644)
		if err != nil {
			return errs.Wrapf(err, errs.KindInternal, "opening lock file %s", path)
		}
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			m.mu.Lock()
			m.fds[name] = fd
			m.mu.Unlock()
			return nil
		}
		unix.Close(fd)
		if err != unix.EWOULDBLOCK {
			return errs.Wrapf(err, errs.KindInternal, "flock %s", path)
		}

		if hasDeadline && time.Now().After(deadline) {
			return errs.Errorf(errs.KindLockTimeout, "timed out acquiring lock %q after %s", name, timeout)
		}
		select {
		case <-ctx.Done():
			return errs.Wrapf(ctx.Err(), errs.KindLockTimeout, "acquiring lock %q", name)
		case <-time.After(retry):
		}
	}
}

// Release releases a previously-acquired named lock. A no-op if not held.
func (m *Manager) Release(name string) error {
	m.mu.Lock()
	fd, ok := m.fds[name]
	if ok {
		delete(m.fds, name)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
		unix.Close(fd)
		return errs.Wrapf(err, errs.KindInternal, "unlocking %q", name)
	}
	return unix.Close(fd)
}

// WithLock acquires name, runs fn, and releases it on every exit path
// (including a panic propagating out of fn), per spec §5's "Resource
// cleanup" guarantee.
func (m *Manager) WithLock(ctx context.Context, name string, timeout time.Duration, fn func() error) error {
	if err := m.Acquire(ctx, name, timeout, 0); err != nil {
		return err
	}
	defer m.Release(name)
	return fn()
}

// AcquireOrdered locks a set of names atomically with respect to deadlock:
// names are sorted canonically and acquired strictly in that order (spec
// §4.H "Multi-lock acquisition"). On any failure, every lock acquired in
// this call is released before returning the error.
func (m *Manager) AcquireOrdered(ctx context.Context, names []string, timeout time.Duration) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	acquired := make([]string, 0, len(sorted))
	for _, name := range sorted {
		if err := m.Acquire(ctx, name, timeout, 0); err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				_ = m.Release(acquired[i])
			}
			return fmt.Errorf("acquiring %q in ordered set %v: %w", name, sorted, err)
		}
		acquired = append(acquired, name)
	}
	return nil
}

// ReleaseAll releases every name in names, in reverse canonical (sorted)
// order, best-effort (used alongside AcquireOrdered).
func (m *Manager) ReleaseAll(names []string) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		_ = m.Release(sorted[i])
	}
}
