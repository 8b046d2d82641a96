package cache

import (
	"sync"

	"github.com/stacktodo/stacktodo-go/internal/api"
)

// MemoryBackend is an in-memory cache backend. It stores the posts it is
// given, so a hit returns the exact object last written.
type MemoryBackend struct {
	entries map[string]*api.Post
	mu      sync.RWMutex
}

// NewMemoryBackend creates a new in-memory cache backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*api.Post),
	}
}

// Read returns the cached post for id or nil if absent.
func (b *MemoryBackend) Read(id string) (*api.Post, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entries[id], nil
}

// Write stores the post.
func (b *MemoryBackend) Write(post *api.Post) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[post.ID] = post
	return nil
}

// Delete removes the entry for id.
func (b *MemoryBackend) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, id)
	return nil
}

// Clear removes all entries.
func (b *MemoryBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*api.Post)
	return nil
}

// Len returns the number of cached posts.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Seed adds entries directly (for testing).
func (b *MemoryBackend) Seed(posts ...*api.Post) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, post := range posts {
		b.entries[post.ID] = post
	}
}
