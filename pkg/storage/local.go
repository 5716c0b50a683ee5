package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalConfig holds configuration for local storage.
type LocalConfig struct {
	BasePath  string `mapstructure:"base_path"`
	URLPrefix string `mapstructure:"url_prefix"` // e.g. "/static"
}

// LocalStorage serves assets from a directory that the HTTP router also
// exposes under URLPrefix.
type LocalStorage struct {
	root      string
	urlPrefix string
}

func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	root, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	return &LocalStorage{
		root:      root,
		urlPrefix: "/" + strings.Trim(cfg.URLPrefix, "/"),
	}, nil
}

// Root is the directory assets are read from.
func (s *LocalStorage) Root() string {
	return s.root
}

// resolve maps a slash separated key onto the filesystem. Keys that climb
// out of the root are rejected.
func (s *LocalStorage) resolve(key string) (string, error) {
	key = strings.Trim(key, "/")
	if key == "" {
		return s.root, nil
	}
	if !fs.ValidPath(key) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStorage) List(ctx context.Context, dir string) ([]Object, error) {
	full, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return []Object{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, Object{
			Key:      path.Join(strings.Trim(dir, "/"), e.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return objects, nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

// URL returns the router path for key. ttl does not apply to local files.
func (s *LocalStorage) URL(ctx context.Context, key string, _ time.Duration) (string, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	return path.Join(s.urlPrefix, key), nil
}
