package cache

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/stacktodo/stacktodo-go/internal/api"
	"github.com/stacktodo/stacktodo-go/internal/core"
)

// FilesystemBackend stores one JSON file per post.
// Directory layout: <root>/<id>.json, where root is usually
// ~/.stacktodo/cache/<source-key>.
type FilesystemBackend struct {
	root      string
	writeLock sync.Mutex
}

// NewFilesystemBackend creates a new filesystem-based cache backend.
func NewFilesystemBackend(root string) *FilesystemBackend {
	if root == "" {
		root = core.CacheRoot()
	}
	return &FilesystemBackend{root: root}
}

// NewSourceFilesystemBackend creates a filesystem backend namespaced to source
// under root.
func NewSourceFilesystemBackend(root string, source Source) *FilesystemBackend {
	if root == "" {
		root = core.CacheRoot()
	}
	return NewFilesystemBackend(filepath.Join(root, source.Key()))
}

// Path returns the filesystem path for the given post id.
func (b *FilesystemBackend) Path(id string) string {
	return filepath.Join(b.root, url.PathEscape(id)+".json")
}

// Read returns the cached post for id or nil if absent.
func (b *FilesystemBackend) Read(id string) (*api.Post, error) {
	path := b.Path(id)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var post api.Post
	if err := json.Unmarshal(data, &post); err != nil {
		// Corrupt file, remove it
		_ = os.Remove(path)
		return nil, nil
	}
	return &post, nil
}

// Write persists the post atomically.
func (b *FilesystemBackend) Write(post *api.Post) error {
	if post.ID == "" {
		return errors.New("cannot cache a post without an id")
	}

	data, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode post")
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	if err := os.MkdirAll(b.root, 0755); err != nil {
		return errors.WithStack(err)
	}

	// Write to temp file first, then rename (atomic)
	path := b.Path(post.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(os.Rename(tmpPath, path))
}

// Delete removes the file for id.
func (b *FilesystemBackend) Delete(id string) error {
	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	err := os.Remove(b.Path(id))
	if err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// Clear removes every cached post file under the root.
func (b *FilesystemBackend) Clear() error {
	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	files, err := os.ReadDir(b.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithStack(err)
	}

	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !(strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.tmp")) {
			continue
		}
		if err := os.Remove(filepath.Join(b.root, name)); err != nil && !os.IsNotExist(err) {
			return errors.WithStack(err)
		}
	}
	return nil
}
