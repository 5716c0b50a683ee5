package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotExist is returned by URL when no object is stored under the key.
var ErrNotExist = errors.New("object does not exist")

// Object describes one stored file. Key is slash separated and relative to
// the store root.
type Object struct {
	Key      string
	Size     int64
	Modified time.Time
}

// Storage is a read-only view of a static asset store.
type Storage interface {
	// List returns the objects directly under dir.
	List(ctx context.Context, dir string) ([]Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns an address clients can fetch key from. Backends that sign
	// URLs make them valid for ttl.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config selects and configures a storage backend.
type Config struct {
	Driver string      `mapstructure:"driver"` // "local", "s3"
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}
