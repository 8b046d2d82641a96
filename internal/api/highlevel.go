package api

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// PublishAPI provides a typed convenience layer over the publish endpoints.
type PublishAPI struct {
	transport Transport
	indexURL  string
}

// NewPublishAPI creates a typed client for the publish index at indexURL.
func NewPublishAPI(transport Transport, indexURL string) *PublishAPI {
	return &PublishAPI{
		transport: transport,
		indexURL:  indexURL,
	}
}

// IndexURL returns the index endpoint this client reads from.
func (a *PublishAPI) IndexURL() string {
	return a.indexURL
}

// FetchIndex fetches the post index for the given source query and assigns
// each head its position. The returned slice is never nil.
func (a *PublishAPI) FetchIndex(ctx context.Context, query map[string]string) ([]PostHead, error) {
	body, err := a.transport.Get(ctx, a.indexURL, query)
	if err != nil {
		return nil, err
	}

	var resp IndexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrJSONParse
	}

	heads := make([]PostHead, len(resp.Posts))
	for i, h := range resp.Posts {
		heads[i] = PostHead{ID: h.ID, URL: h.URL, Index: i}
	}
	return heads, nil
}

// FetchPost fetches the body for head, adding a cache-busting ts parameter
// taken from now, and merges the head fields into the result.
func (a *PublishAPI) FetchPost(ctx context.Context, head PostHead, now time.Time) (*Post, error) {
	body, err := a.transport.Get(ctx, head.URL, map[string]string{
		"ts": strconv.FormatInt(now.UnixMilli(), 10),
	})
	if err != nil {
		return nil, err
	}

	post, err := DecodePostBody(body)
	if err != nil {
		return nil, err
	}
	post.ID = head.ID
	post.URL = head.URL
	post.Index = head.Index
	return post, nil
}

// DecodePostBody parses a post body. Keys outside the known body fields are
// kept in Extra. Anything that is not a JSON object yields ErrJSONParse.
func DecodePostBody(body []byte) (*Post, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, ErrJSONParse
	}

	var pb postBody
	if err := json.Unmarshal(body, &pb); err != nil {
		return nil, ErrJSONParse
	}

	post := &Post{
		HTML:   pb.HTML,
		Title:  pb.Title,
		TS:     pb.TS,
		Author: pb.Author,
	}
	for k, v := range raw {
		if knownBodyKeys[k] {
			continue
		}
		if post.Extra == nil {
			post.Extra = make(map[string]interface{})
		}
		post.Extra[k] = v
	}
	return post, nil
}
