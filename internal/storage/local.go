package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// framesDirName is the workspace subdirectory for sampled frames.
const framesDirName = "frames"

// LocalStorage implements Provider using local disk.
// Each workspace is a fresh directory created under a configurable root.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// The tempDir parameter specifies the root for workspaces.
// If tempDir is empty, os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "slack-video-frames")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the workspace root path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// Acquire creates a uniquely named workspace directory with an empty
// frames subdirectory.
func (s *LocalStorage) Acquire(ctx context.Context, id string) (Workspace, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir, err := os.MkdirTemp(s.tempDir, sanitize(id)+"_*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	frames := filepath.Join(dir, framesDirName)
	if err := os.Mkdir(frames, 0750); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("create frames directory: %w", err)
	}

	return &TempWorkspace{dir: dir, framesDir: frames}, nil
}

// sanitize keeps only characters that are safe in a directory name.
func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "event"
	}
	return string(out)
}

// TempWorkspace is a Workspace backed by a directory on local disk.
type TempWorkspace struct {
	dir       string
	framesDir string

	once sync.Once
	err  error
}

// Dir returns the root directory of the workspace.
func (w *TempWorkspace) Dir() string {
	return w.dir
}

// FramesDir returns the subdirectory that receives sampled frames.
func (w *TempWorkspace) FramesDir() string {
	return w.framesDir
}

// Cleanup removes the workspace directory tree. Only the first call does work.
func (w *TempWorkspace) Cleanup() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil {
			w.err = fmt.Errorf("remove workspace %s: %w", w.dir, err)
		}
	})
	return w.err
}

// Compile-time checks.
var (
	_ Provider  = (*LocalStorage)(nil)
	_ Workspace = (*TempWorkspace)(nil)
)
