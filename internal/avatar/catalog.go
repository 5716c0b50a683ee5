package avatar

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/weiawesome/roomchat/pkg/storage"
)

// ErrNotFound is returned when the requested avatar is not in the catalog.
var ErrNotFound = errors.New("avatar not found")

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
}

// Avatar is one selectable avatar image.
type Avatar struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Catalog lists the avatar images kept under a storage prefix.
type Catalog struct {
	storage storage.Storage
	prefix  string
	expires time.Duration
}

func NewCatalog(st storage.Storage, prefix string, expires time.Duration) *Catalog {
	return &Catalog{
		storage: st,
		prefix:  strings.Trim(prefix, "/"),
		expires: expires,
	}
}

// List returns every image under the prefix, sorted by name. A missing
// prefix yields an empty list.
func (c *Catalog) List(ctx context.Context) ([]Avatar, error) {
	files, err := c.storage.List(ctx, c.prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list avatars: %w", err)
	}

	avatars := make([]Avatar, 0, len(files))
	for _, f := range files {
		name := path.Base(f.Key)
		if !imageExts[strings.ToLower(path.Ext(name))] {
			continue
		}
		url, err := c.storage.URL(ctx, f.Key, c.expires)
		if err != nil {
			return nil, fmt.Errorf("failed to get avatar url: %w", err)
		}
		avatars = append(avatars, Avatar{Name: name, URL: url})
	}

	sort.Slice(avatars, func(i, j int) bool { return avatars[i].Name < avatars[j].Name })
	return avatars, nil
}

// URL resolves a single avatar name.
func (c *Catalog) URL(ctx context.Context, name string) (string, error) {
	if name == "" || name != path.Base(name) {
		return "", ErrNotFound
	}
	key := path.Join(c.prefix, name)

	ok, err := c.storage.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to check avatar: %w", err)
	}
	if !ok {
		return "", ErrNotFound
	}
	return c.storage.URL(ctx, key, c.expires)
}
