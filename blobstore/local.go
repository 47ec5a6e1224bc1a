package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local is a filesystem-backed Store. Keys become file paths below the root
// directory; the first two characters of the final path element are used as
// a fan-out subdirectory so content-hash keys do not pile millions of files
// into one directory.
//
// Writes go to a temp file in the same directory followed by rename, so a
// crash never leaves a half-written blob under its final name.
type Local struct {
	root string
}

// Compile-time check.
var _ Store = (*Local)(nil)

// NewLocal creates a local blob store rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Local{root: dir}, nil
}

func (l *Local) path(key string) string {
	dir, name := filepath.Split(filepath.FromSlash(key))
	if len(name) > 2 {
		dir = filepath.Join(dir, name[:2])
	}
	return filepath.Join(l.root, dir, name)
}

// Put implements Store.
func (l *Local) Put(_ context.Context, key string, data []byte) error {
	target := l.path(key)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), target)
}

// Get implements Store.
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Has implements Store.
func (l *Local) Has(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete implements Store.
func (l *Local) Delete(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List implements Store.
func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}

		// Undo the fan-out subdirectory.
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if n := len(parts); n >= 2 && parts[n-2] == parts[n-1][:min(2, len(parts[n-1]))] {
			parts = append(parts[:n-2], parts[n-1])
		}
		key := strings.Join(parts, "/")

		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}
