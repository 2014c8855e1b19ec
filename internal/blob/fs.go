package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

var _ Store = (*FSStore)(nil)

// FSStore is a filesystem-backed store used by tests and local development.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, err
	}

	return &FSStore{root: root}, nil
}

func (f *FSStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	full := filepath.Join(f.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), os.ModePerm); err != nil {
		return err
	}

	return os.WriteFile(full, data, 0o644)
}

func (f *FSStore) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}

	return data, err
}

func (f *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	base := filepath.Join(f.root, filepath.FromSlash(prefix))
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})

	return paths, err
}

func (f *FSStore) DeletePrefix(ctx context.Context, prefix string) error {
	return os.RemoveAll(filepath.Join(f.root, filepath.FromSlash(strings.TrimSuffix(prefix, "/"))))
}

func (f *FSStore) ListPrefixes(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, err
	}

	var prefixes []string
	for _, entry := range entries {
		if entry.IsDir() {
			prefixes = append(prefixes, entry.Name())
		}
	}

	return prefixes, nil
}
