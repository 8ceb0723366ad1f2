package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const savedFileMode = 0o644

// LocalFileStore writes files to the local filesystem. Folders are used as
// given, so relative folders resolve against the working directory.
type LocalFileStore struct{}

var _ FileStore = (*LocalFileStore)(nil)

func NewLocalFileStore() *LocalFileStore {
	return &LocalFileStore{}
}

func (s *LocalFileStore) Save(ctx context.Context, data []byte, folder, name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid file name '%s'", name)
	}

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", folder, err)
	}

	tmp, err := os.CreateTemp(folder, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file in %s: %w", folder, err)
	}

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file %s/%s: %w", folder, name, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync file %s/%s: %w", folder, name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file %s/%s: %w", folder, name, err)
	}
	if err := os.Chmod(tmp.Name(), savedFileMode); err != nil {
		return "", fmt.Errorf("failed to set permissions on %s/%s: %w", folder, name, err)
	}

	path := filepath.Join(folder, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move file into place at %s: %w", path, err)
	}
	committed = true

	return path, nil
}

func (s *LocalFileStore) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}

func (s *LocalFileStore) Exists(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}
