package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seqlab/run-uploader/internal/constants"
	"github.com/seqlab/run-uploader/internal/uploaderr"
)

// errLockHeld is returned by tryLock when another holder owns the lock.
var errLockHeld = errors.New("lock is held by another process")

// Lock is an exclusive advisory lock on a run directory.
type Lock struct {
	f *os.File
}

// Lock acquires the run lock without waiting. A run being uploaded by
// another process yields a run_locked error.
func (s *Store) Lock() (*Lock, error) {
	path := filepath.Join(s.dir, constants.LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, constants.StateFilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := tryLock(f); err != nil {
		f.Close()
		if errors.Is(err, errLockHeld) {
			return nil, uploaderr.New(uploaderr.KindRunLocked, "%s is being uploaded by another process", s.dir)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Unlock releases the lock. It is safe to call more than once.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// IsLocked reports whether the run in dir is currently locked by an upload.
// A run that was never locked has no lock file and is reported unlocked;
// no lock file is created.
func IsLocked(dir string) bool {
	f, err := os.OpenFile(filepath.Join(dir, constants.LockFileName), os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()
	if err := tryLock(f); err != nil {
		return errors.Is(err, errLockHeld)
	}
	unlock(f)
	return false
}
