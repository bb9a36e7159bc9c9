package db

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the named workspace lock.
var ErrLocked = errors.New("workspace lock held by another process")

// Lock is an advisory, process-wide lock file under the workspace.
type Lock struct {
	path string
	fl   *flock.Flock
}

// LockPath returns the lock file path for name.
func LockPath(workspace, name string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, name+".lock")
}

// TryLock acquires the named lock without blocking.
func TryLock(workspace, name string) (*Lock, error) {
	if _, err := EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	path := LockPath(workspace, name)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
