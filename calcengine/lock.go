// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// dirLock is an advisory exclusive flock over a snapshot
// directory, guarding BadgerSnapshotStore.Save against a second process
// writing the same project's snapshot concurrently. There is no
// retrieved teacher file that takes a flock directly; the pattern is
// enrichment from the wider pack's advisory-locking idiom (DESIGN.md).
type dirLock struct {
	path string
	fd   int
}

func newDirLock(dir string) (*dirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	lockPath := filepath.Join(dir, ".calcengine.lock")
	fd, err := unix.Open(lockPath, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}
	return &dirLock{path: lockPath, fd: fd}, nil
}

// Lock blocks until the exclusive advisory lock is acquired.
func (l *dirLock) Lock() error {
	return unix.Flock(l.fd, unix.LOCK_EX)
}

// Unlock releases the advisory lock. The fd stays open for reuse by a
// later Lock call.
func (l *dirLock) Unlock() error {
	return unix.Flock(l.fd, unix.LOCK_UN)
}

// Close releases the lock and closes the underlying file descriptor.
func (l *dirLock) Close() error {
	_ = unix.Flock(l.fd, unix.LOCK_UN)
	return unix.Close(l.fd)
}
