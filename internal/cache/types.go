// Package cache provides the post index and body cache for a stacktodo blog.
//
// # Overview
//
// A PostIndexCache owns two pieces of state for one blog source:
//
//   - the index: the ordered list of post heads (id, url, position) returned
//     by the publish endpoint, either loaded or unloaded;
//   - the body cache: fully loaded posts keyed by id, filled lazily by
//     PostForID and emptied only by explicit invalidation.
//
// # Pagination
//
// Callers page forward with a cursor, the id of the last post they have seen.
// NextPostHeadsForRange starts one past the cursor; an absent or unknown
// cursor starts from the beginning rather than failing.
//
// Postset fetches a page of bodies concurrently. The first failure ends the
// page with that failure and partial results are discarded. No new request is
// started after that. Requests still in flight are not cancelled; their
// results are dropped.
//
// # Invalidation
//
// InvalidateIndex only unloads the index. Cached bodies remain and keep the
// Index they were fetched with, which may be stale relative to a reloaded
// index. Callers that need both must also call InvalidatePosts.
package cache

import (
	"github.com/stacktodo/stacktodo-go/internal/api"
)

// Backend is the interface for body cache storage backends.
// The default implementation is MemoryBackend.
type Backend interface {
	// Read returns the cached post for id, or nil if absent.
	Read(id string) (*api.Post, error)

	// Write stores post under post.ID, replacing any previous entry.
	Write(post *api.Post) error

	// Delete removes the entry for id. Deleting an absent entry is a no-op.
	Delete(id string) error

	// Clear removes every entry.
	Clear() error
}
