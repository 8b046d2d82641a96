package cache

import (
	"context"
	"sort"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stacktodo/stacktodo-go/internal/api"
	"golang.org/x/sync/errgroup"
)

// fetchResult is the outcome of one body fetch in a Postset fan-out.
type fetchResult struct {
	id   string
	post *api.Post
	err  error
}

// Postset fetches the page of posts following lastID (see
// NextPostHeadsForRange), keyed by id.
//
// An empty page returns an empty map and no error, so callers can tell "no
// more posts" from a failure. Otherwise every body is fetched concurrently,
// bounded by the configured concurrency. The first failure is returned as
// soon as it is observed and no partial result is delivered. Fetches that
// have not started by then are never started. Fetches still in flight are not
// cancelled; they run to completion and are discarded, though successful ones
// still populate the body cache.
//
// The map is unordered. Use SortedPosts to order by index.
func (c *PostIndexCache) Postset(ctx context.Context, lastID string, count int) (map[string]*api.Post, error) {
	heads, ok := c.NextPostHeadsForRange(lastID, count)
	if !ok {
		return nil, ErrIndexNotLoaded
	}
	if len(heads) == 0 {
		return map[string]*api.Post{}, nil
	}

	// Buffered so stragglers never block once the join has returned.
	results := make(chan fetchResult, len(heads))
	pending := mapset.NewThreadUnsafeSetWithSize[string](len(heads))

	// stop is set once the join has a result to return, failed or not.
	var stop atomic.Bool
	defer stop.Store(true)

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for _, h := range heads {
		pending.Add(h.ID)
	}

	go func() {
		for _, h := range heads {
			id := h.ID
			g.Go(func() error {
				if stop.Load() {
					return nil
				}
				post, err := c.PostForID(ctx, id)
				if err != nil {
					stop.Store(true)
				}
				results <- fetchResult{id: id, post: post, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}()

	posts := make(map[string]*api.Post, len(heads))
	for pending.Cardinality() > 0 {
		select {
		case r := <-results:
			if r.err != nil {
				c.logger.Debug("postset failed", "id", r.id, "error", r.err)
				return nil, r.err
			}
			pending.Remove(r.id)
			posts[r.id] = r.post
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.logger.Debug("postset loaded", "after", lastID, "count", len(posts))
	return posts, nil
}

// SortedPosts returns the posts of a Postset ordered by index.
func SortedPosts(posts map[string]*api.Post) []*api.Post {
	result := make([]*api.Post, 0, len(posts))
	for _, p := range posts {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result
}
