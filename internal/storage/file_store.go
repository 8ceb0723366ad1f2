package storage

import (
	"context"
	"errors"
)

var ErrFileNotFound = errors.New("file not found")

// FileStore persists image files. Save must be atomic: a reader either sees
// the complete file at the returned path or nothing.
type FileStore interface {
	Save(ctx context.Context, data []byte, folder, name string) (string, error)

	Read(ctx context.Context, path string) ([]byte, error)

	Exists(ctx context.Context, path string) (bool, error)
}
