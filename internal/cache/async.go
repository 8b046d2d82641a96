package cache

import (
	"context"

	"github.com/stacktodo/stacktodo-go/internal/api"
)

// Result is the outcome of an asynchronous operation: a value or an error.
type Result[T any] struct {
	Value T
	Err   error
}

// Async runs fn on a new goroutine and delivers its result on the returned
// channel. The channel is buffered and receives exactly one value, so the
// result is always delivered after Async returns, even when fn does no I/O.
func Async[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		v, err := fn()
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

// LoadAsync is the asynchronous form of Load.
func (c *PostIndexCache) LoadAsync(ctx context.Context) <-chan Result[struct{}] {
	return Async(func() (struct{}, error) {
		return struct{}{}, c.Load(ctx)
	})
}

// PostForIDAsync is the asynchronous form of PostForID. Cache hits are
// delivered the same way as fetches.
func (c *PostIndexCache) PostForIDAsync(ctx context.Context, id string) <-chan Result[*api.Post] {
	return Async(func() (*api.Post, error) {
		return c.PostForID(ctx, id)
	})
}

// PostForIndexAsync is the asynchronous form of PostForIndex.
func (c *PostIndexCache) PostForIndexAsync(ctx context.Context, position int) <-chan Result[*api.Post] {
	return Async(func() (*api.Post, error) {
		return c.PostForIndex(ctx, position)
	})
}

// PostsetAsync is the asynchronous form of Postset.
func (c *PostIndexCache) PostsetAsync(ctx context.Context, lastID string, count int) <-chan Result[map[string]*api.Post] {
	return Async(func() (map[string]*api.Post, error) {
		return c.Postset(ctx, lastID, count)
	})
}
