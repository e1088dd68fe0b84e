// Package storage provides per-event workspaces on local disk and an
// optional S3 archive for sampled frames.
package storage

import (
	"context"
	"io"
)

// Workspace is an isolated temporary directory owned by one event.
type Workspace interface {
	// Dir returns the root directory of the workspace.
	Dir() string

	// FramesDir returns the subdirectory that receives sampled frames.
	FramesDir() string

	// Cleanup removes the workspace and everything in it.
	// It is idempotent: calls after the first are no-ops.
	Cleanup() error
}

// Provider creates workspaces.
type Provider interface {
	// Acquire creates a new, empty workspace. The id is used as a hint
	// for the directory name; uniqueness does not depend on it.
	Acquire(ctx context.Context, id string) (Workspace, error)
}

// Archiver persists frames outside the workspace.
type Archiver interface {
	// Archive uploads data under key and returns its URL.
	Archive(ctx context.Context, key string, data io.Reader) (url string, err error)
}
