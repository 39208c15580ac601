package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"showcased/internal/errors"
)

// Cache namespaces. The indexing engine writes only under ingest/, the
// lifecycle manager only under render/<showcaseID>/. Disjoint namespaces are
// the collision guard; there is no runtime lock.
const (
	NamespaceIngest = "ingest"
	NamespaceRender = "render"
)

// Cache is the on-disk byte store for attachment and rendered-image data.
// Keys are slash-separated relative paths under the base directory.
type Cache struct {
	baseDir string
}

func NewCache(baseDir string) *Cache {
	return &Cache{baseDir: baseDir}
}

// IngestKey names a downloaded attachment by message and attachment id, so
// re-indexing the same message resolves to the same file.
func IngestKey(messageID, attachmentID, ext string) string {
	return path.Join(NamespaceIngest, fmt.Sprintf("%s_%s.%s", messageID, attachmentID, ext))
}

// AvatarKey names a cached author avatar. One per author.
func AvatarKey(authorID string) string {
	return path.Join(NamespaceIngest, "avatars", authorID+".png")
}

// RenderKey names a rendered composite. Scoped under the showcase so cascade
// delete is a single namespace clear.
func RenderKey(showcaseID, messageID, ext string) string {
	return path.Join(NamespaceRender, showcaseID, fmt.Sprintf("%s_%s.%s", showcaseID, messageID, ext))
}

// RenderNamespace is the per-showcase prefix holding its rendered images.
func RenderNamespace(showcaseID string) string {
	return path.Join(NamespaceRender, showcaseID)
}

func (c *Cache) resolve(key string) (string, error) {
	clean := path.Clean(key)
	if clean == "." || clean == "/" || strings.HasPrefix(clean, "..") || path.IsAbs(clean) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid cache key: %q", key))
	}
	return filepath.Join(c.baseDir, filepath.FromSlash(clean)), nil
}

// Put writes bytes under key, overwriting any existing entry. The write goes
// through a temp file and rename so a crash cannot leave a torn entry. Safe
// to call concurrently for distinct keys.
func (c *Cache) Put(key string, data []byte) error {
	target, err := c.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.NewCacheWrite(key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return errors.NewCacheWrite(key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.NewCacheWrite(key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.NewCacheWrite(key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return errors.NewCacheWrite(key, err)
	}
	return nil
}

// Get returns the bytes stored under key.
func (c *Cache) Get(key string) ([]byte, error) {
	target, err := c.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound("cache entry", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	return data, nil
}

func (c *Cache) Exists(key string) bool {
	target, err := c.resolve(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(target)
	return err == nil && !info.IsDir()
}

// Remove deletes the entry under key. Removing a missing entry is a no-op.
func (c *Cache) Remove(key string) error {
	target, err := c.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry %s: %w", key, err)
	}
	return nil
}

// Usage reports total bytes and file count across the whole cache.
type Usage struct {
	TotalBytes int64
	ItemCount  int
}

func (c *Cache) Usage() (Usage, error) {
	return c.UsageUnder("")
}

// UsageUnder reports usage below a namespace prefix ("" for everything).
// O(n) directory walk; fine at this scale.
func (c *Cache) UsageUnder(prefix string) (Usage, error) {
	root := c.baseDir
	if prefix != "" {
		resolved, err := c.resolve(prefix)
		if err != nil {
			return Usage{}, err
		}
		root = resolved
	}

	var u Usage
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		u.TotalBytes += info.Size()
		u.ItemCount++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return Usage{}, fmt.Errorf("scan cache: %w", err)
	}
	return u, nil
}

// ClearNamespace deletes every entry under prefix. Clearing a namespace that
// holds nothing is not an error.
func (c *Cache) ClearNamespace(prefix string) error {
	target, err := c.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("clear namespace %s: %w", prefix, err)
	}
	return nil
}

// PurgeAll deletes the entire cache. Destructive reset path only.
func (c *Cache) PurgeAll() error {
	if err := os.RemoveAll(c.baseDir); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	return nil
}
