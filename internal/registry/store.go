// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package registry implements the durable shared-memory maps from spec §4.B:
// hosts, host leases, neighbor leases, router locks, and the active job
// record. Every file lives under a configurable shared-memory directory
// (default /dev/shm/tsim/, spec §6) and is mutated only via atomic
// write-to-temp + rename + fsync, guarded by a named lock standing in for
// the POSIX semaphore the spec describes (see DESIGN.md).
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/lockmgr"
)

// jsonStore is a single JSON-file-backed map, guarded by one named lock.
type jsonStore struct {
	path   string
	lockName string
	locks  *lockmgr.Manager
}

func newJSONStore(dir, filename string, locks *lockmgr.Manager) *jsonStore {
	return &jsonStore{
		path:     filepath.Join(dir, filename),
		lockName: "registry-" + filename,
		locks:    locks,
	}
}

// read decodes the current file contents into v. A missing file is treated
// as "empty" (v left at its zero value), never an error — first use of a
// registry file legitimately finds nothing.
func (s *jsonStore) read(v any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrapf(err, errs.KindInternal, "reading registry file %s", s.path)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		// One retry under the store's lock, which the caller already holds.
		retry, rerr := os.ReadFile(s.path)
		if rerr != nil || json.Unmarshal(retry, v) != nil {
			return s.recoverFromCorruption(err)
		}
	}
	return nil
}

// recoverFromCorruption finishes spec §7's RegistryCorruption policy once
// read's single retry has also failed: it quarantines the file and surfaces
// the error.
func (s *jsonStore) recoverFromCorruption(parseErr error) error {
	quarantinePath := s.path + ".corrupt"
	if err := os.Rename(s.path, quarantinePath); err != nil && !os.IsNotExist(err) {
		return errs.Wrapf(parseErr, errs.KindRegistryCorruption,
			"parsing %s failed and quarantine rename also failed: %v", s.path, err)
	}
	return errs.Wrapf(parseErr, errs.KindRegistryCorruption,
		"parsing %s failed; original quarantined at %s", s.path, quarantinePath)
}

// write serializes v and durably replaces the file: write-to-temp in the
// same directory, fsync, then rename (spec §6).
func (s *jsonStore) write(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.KindInternal, "marshaling registry file")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errs.Wrapf(err, errs.KindInternal, "creating registry dir for %s", s.path)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errs.Wrapf(err, errs.KindInternal, "opening temp file %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrapf(err, errs.KindInternal, "writing temp file %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrapf(err, errs.KindInternal, "fsyncing temp file %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrapf(err, errs.KindInternal, "closing temp file %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errs.Wrapf(err, errs.KindInternal, "renaming %s into place", s.path)
	}
	return nil
}

// update reads the current value, lets fn mutate it, and writes it back,
// all under the store's named lock — the read-modify-write critical
// section the spec's named semaphore protects.
func (s *jsonStore) update(v any, fn func() error) error {
	return s.locks.WithLock(bgCtx(), s.lockName, 0, func() error {
		if err := s.read(v); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return s.write(v)
	})
}

// view reads the current value for a caller that only needs a snapshot.
// Per spec §5, readers may proceed optimistically without the lock and
// retry on parse error; view still takes the lock for simplicity and
// because registry files are small, but never blocks a concurrent writer
// for long since writes are single fsync+rename.
func (s *jsonStore) view(v any) error {
	return s.locks.WithLock(bgCtx(), s.lockName, 0, func() error {
		return s.read(v)
	})
}
