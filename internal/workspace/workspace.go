// Package workspace owns the data directory of a dupwatch process.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/dupwatch/internal/utils"
)

const (
	logsDir  = "logs"
	lockFile = "dupwatch.lock"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

type Workspace struct {
	Root    string
	LogsDir string

	flock *flock.Flock
}

func NewWorkspace(dataDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", dataDir, err)
	}

	return &Workspace{
		Root:    root,
		LogsDir: filepath.Join(root, logsDir),
		flock:   flock.New(filepath.Join(root, lockFile)),
	}, nil
}

// Lock takes the workspace lock so a second watcher cannot share the
// catalog.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.Root); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.Root, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// only the holder removes the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and creates its directories.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	if err := utils.EnsureDir(w.LogsDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.LogsDir, err)
	}

	slog.Info("workspace", "root", w.Root)
	return nil
}

func (w *Workspace) LockPath() string {
	return w.flock.Path()
}
