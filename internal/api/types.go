// Package api provides the HTTP transport and wire types for the stacktodo API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
)

// PostHead is the index metadata for a single post.
// Index is the zero-based position assigned when the index was loaded and is
// only meaningful relative to that index.
type PostHead struct {
	ID    string `json:"id" msgpack:"id"`
	URL   string `json:"url" msgpack:"url"`
	Index int    `json:"index" msgpack:"index"`
}

// Author identifies the Slack user who wrote a post.
type Author struct {
	Icon     string `json:"icon" msgpack:"icon"`
	Username string `json:"username" msgpack:"username"`
}

// Timestamp is a Slack message timestamp. The service sends it either as a
// string ("1437518100.000005") or as a bare number; both decode to the same text.
type Timestamp string

// UnmarshalJSON satisfies the json.Unmarshaler interface.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*ts = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*ts = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*ts = Timestamp(n.String())
	return nil
}

// Post is a fully loaded post: the head fields merged with the body fetched
// from the head's URL. A cached Post is never mutated.
type Post struct {
	ID     string                 `json:"id" msgpack:"id"`
	URL    string                 `json:"url" msgpack:"url"`
	Index  int                    `json:"index" msgpack:"index"`
	HTML   string                 `json:"html" msgpack:"html"`
	Title  string                 `json:"title" msgpack:"title"`
	TS     Timestamp              `json:"ts" msgpack:"ts"`
	Author Author                 `json:"author" msgpack:"author"`
	Extra  map[string]interface{} `json:"extra,omitempty" msgpack:"extra,omitempty"`
}

// IndexResponse is the body returned by the publish index endpoint.
type IndexResponse struct {
	Posts []PostHead `json:"posts"`
}

// postBody is the body returned by a post URL. It carries no id or index;
// those come from the head.
type postBody struct {
	HTML   string    `json:"html"`
	Title  string    `json:"title"`
	TS     Timestamp `json:"ts"`
	Author Author    `json:"author"`
}

var knownBodyKeys = map[string]bool{
	"html": true, "title": true, "ts": true, "author": true,
	"id": true, "url": true, "index": true,
}

// Transport is the interface for making API requests.
// Implementations return the raw response body for 2xx responses and an
// *Error for everything else.
type Transport interface {
	Get(ctx context.Context, rawURL string, params map[string]string) ([]byte, error)
	PostJSON(ctx context.Context, rawURL string, payload interface{}) ([]byte, error)
}
