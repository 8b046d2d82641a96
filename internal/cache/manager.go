package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stacktodo/stacktodo-go/internal/api"
	"github.com/stacktodo/stacktodo-go/internal/core"
)

// ErrIndexNotLoaded is returned when an id or position cannot be resolved
// because the index is unloaded or does not contain it.
var ErrIndexNotLoaded = &api.Error{Status: -1, Code: "IndexNotLoadedError"}

// ErrJSONParse is returned when a post body is not valid JSON.
var ErrJSONParse = api.ErrJSONParse

// PostIndexCache maintains the ordered post index and a lazily populated body
// cache for one blog source.
//
// The index and the body cache are only mutated by this type. No lock is held
// across network calls: a Load that completes after InvalidateIndex reloads
// the index (last write wins), and a fetch that completes after
// InvalidatePost caches its result.
type PostIndexCache struct {
	publish     *api.PublishAPI
	indexURL    string
	source      Source
	backend     Backend
	logger      *slog.Logger
	sanitizer   *bluemonday.Policy
	concurrency int
	now         func() time.Time

	mu     sync.RWMutex
	index  []api.PostHead
	loaded bool
}

// Option configures a PostIndexCache.
type Option func(*PostIndexCache)

// WithBackend sets the body cache backend. Defaults to a MemoryBackend.
func WithBackend(backend Backend) Option {
	return func(c *PostIndexCache) { c.backend = backend }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *PostIndexCache) { c.logger = logger }
}

// WithIndexURL overrides the publish index endpoint.
func WithIndexURL(indexURL string) Option {
	return func(c *PostIndexCache) { c.indexURL = indexURL }
}

// WithConcurrency caps the number of bodies a Postset fetches at once.
func WithConcurrency(n int) Option {
	return func(c *PostIndexCache) { c.concurrency = n }
}

// WithSanitizer sets the policy applied to post HTML before caching. A nil
// policy keeps the HTML as served. Defaults to DefaultSanitizer().
func WithSanitizer(policy *bluemonday.Policy) Option {
	return func(c *PostIndexCache) { c.sanitizer = policy }
}

// slackStyles are the inline CSS properties Slack-rendered posts rely on.
var slackStyles = []string{
	"color", "background-color", "font-weight", "font-style", "text-decoration",
}

// DefaultSanitizer returns the UGC policy extended to keep class attributes
// (mention, channel and emoji spans) and the inline styles in slackStyles.
// Scripts, event handlers and other CSS are still removed.
func DefaultSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).Globally()
	p.AllowStyles(slackStyles...).Globally()
	return p
}

// WithClock sets the time source for cache-busting timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *PostIndexCache) { c.now = now }
}

// NewPostIndexCache creates an unloaded cache for source, fetching through
// transport.
func NewPostIndexCache(transport api.Transport, source Source, opts ...Option) *PostIndexCache {
	c := &PostIndexCache{
		source:      source,
		backend:     NewMemoryBackend(),
		logger:      slog.Default(),
		sanitizer:   DefaultSanitizer(),
		concurrency: core.MaxConcurrentFetches,
		now:         time.Now,
		indexURL:    core.JoinURL(core.APIBaseURL, core.PublishIndexPath),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	c.publish = api.NewPublishAPI(transport, c.indexURL)
	c.logger = c.logger.With("source", source.Key())
	return c
}

// Source returns the blog source this cache reads.
func (c *PostIndexCache) Source() Source {
	return c.source
}

// Loaded reports whether the index has been fetched since the last
// invalidation.
func (c *PostIndexCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Count returns the number of heads in the index. ok is false when the index
// is unloaded.
func (c *PostIndexCache) Count() (n int, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return 0, false
	}
	return len(c.index), true
}

// Heads returns a copy of the index, or nil when unloaded.
func (c *PostIndexCache) Heads() []api.PostHead {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil
	}
	return append([]api.PostHead{}, c.index...)
}

// PostHeadForID finds the head with the given id.
func (c *PostIndexCache) PostHeadForID(id string) (api.PostHead, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.positionOf(id)
	if i < 0 {
		return api.PostHead{}, false
	}
	return c.index[i], true
}

// PostHeadForIndex returns the head at position.
func (c *PostIndexCache) PostHeadForIndex(position int) (api.PostHead, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || position < 0 || position >= len(c.index) {
		return api.PostHead{}, false
	}
	return c.index[position], true
}

// IsPostIDLast reports whether id is the last head in the index.
func (c *PostIndexCache) IsPostIDLast(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || len(c.index) == 0 {
		return false
	}
	return c.index[len(c.index)-1].ID == id
}

// NextPostHeadsForRange returns up to count heads following lastID. An empty
// or unknown lastID starts from the first head. ok is false when the index is
// unloaded.
func (c *PostIndexCache) NextPostHeadsForRange(lastID string, count int) (heads []api.PostHead, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return nil, false
	}

	n := len(c.index)
	start := 0
	if lastID != "" {
		if i := c.positionOf(lastID); i >= 0 {
			start = i + 1
		}
	}
	start = clamp(start, 0, n)
	end := clamp(start+count, 0, n)
	if end <= start {
		return []api.PostHead{}, true
	}
	return append([]api.PostHead{}, c.index[start:end]...), true
}

// positionOf returns the position of id, or -1. Callers hold mu.
func (c *PostIndexCache) positionOf(id string) int {
	if !c.loaded {
		return -1
	}
	for i, h := range c.index {
		if h.ID == id {
			return i
		}
	}
	return -1
}

// Load fetches the index and replaces the current one. On failure the current
// index, loaded or not, is left untouched.
func (c *PostIndexCache) Load(ctx context.Context) error {
	c.logger.Debug("loading index", "url", c.publish.IndexURL())

	heads, err := c.publish.FetchIndex(ctx, c.source.Query())
	if err != nil {
		c.logger.Debug("index load failed", "error", err)
		return err
	}

	heads = c.dedupe(heads)

	c.mu.Lock()
	c.index = heads
	c.loaded = true
	c.mu.Unlock()

	c.logger.Debug("index loaded", "count", len(heads))
	return nil
}

// dedupe drops repeated ids, keeping the first occurrence, and renumbers the
// surviving heads.
func (c *PostIndexCache) dedupe(heads []api.PostHead) []api.PostHead {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(heads))
	result := make([]api.PostHead, 0, len(heads))
	for _, h := range heads {
		if !seen.Add(h.ID) {
			c.logger.Warn("dropping duplicate post id from index", "id", h.ID)
			continue
		}
		h.Index = len(result)
		result = append(result, h)
	}
	return result
}

// PostForID returns the post with the given id, from the body cache when
// present. On a miss the id must be in the loaded index; the body is fetched,
// sanitized, decorated with the head fields and cached. Failures are never
// cached.
func (c *PostIndexCache) PostForID(ctx context.Context, id string) (*api.Post, error) {
	if cached := c.cachedPost(id); cached != nil {
		return cached, nil
	}

	head, ok := c.PostHeadForID(id)
	if !ok {
		return nil, ErrIndexNotLoaded
	}
	return c.fetchPost(ctx, head)
}

// PostForIndex resolves position to a head and returns its post. A position
// outside the loaded index returns ErrIndexNotLoaded.
func (c *PostIndexCache) PostForIndex(ctx context.Context, position int) (*api.Post, error) {
	head, ok := c.PostHeadForIndex(position)
	if !ok {
		return nil, ErrIndexNotLoaded
	}
	if cached := c.cachedPost(head.ID); cached != nil {
		return cached, nil
	}
	return c.fetchPost(ctx, head)
}

// cachedPost reads id from the backend. Read errors count as a miss.
func (c *PostIndexCache) cachedPost(id string) *api.Post {
	if id == "" {
		return nil
	}
	cached, err := c.backend.Read(id)
	if err != nil {
		c.logger.Warn("cache read failed", "id", id, "error", err)
		return nil
	}
	if cached != nil {
		c.logger.Debug("cache hit", "id", id)
	}
	return cached
}

// fetchPost fetches, sanitizes and caches the body for head.
func (c *PostIndexCache) fetchPost(ctx context.Context, head api.PostHead) (*api.Post, error) {
	c.logger.Debug("fetching post", "id", head.ID, "url", head.URL)
	post, err := c.publish.FetchPost(ctx, head, c.now())
	if err != nil {
		return nil, err
	}

	if c.sanitizer != nil {
		post.HTML = c.sanitizer.Sanitize(post.HTML)
	}

	if err := c.backend.Write(post); err != nil {
		c.logger.Warn("failed to write cache", "id", head.ID, "error", err)
	}
	return post, nil
}

// InvalidatePost removes one post from the body cache. Removing an absent
// post is a no-op.
func (c *PostIndexCache) InvalidatePost(id string) error {
	return c.backend.Delete(id)
}

// InvalidatePosts empties the body cache.
func (c *PostIndexCache) InvalidatePosts() error {
	return c.backend.Clear()
}

// InvalidateIndex unloads the index. The body cache is left as is.
func (c *PostIndexCache) InvalidateIndex() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = nil
	c.loaded = false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
