package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testIndexURL = "https://stacktodo.test/api/tool/publish/posts"

func TestFetchIndexAssignsPositions(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Handle(testIndexURL, `{"posts":[
		{"id":"a","url":"https://posts.test/a","index":7,"channel":"general"},
		{"id":"b","url":"https://posts.test/b"}
	]}`)

	publish := NewPublishAPI(transport, testIndexURL)
	heads, err := publish.FetchIndex(context.Background(), map[string]string{"id": "task"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(heads) != 2 {
		t.Fatalf("Expected 2 heads, got %d", len(heads))
	}
	for i, h := range heads {
		if h.Index != i {
			t.Errorf("Expected head %s at index %d, got %d", h.ID, i, h.Index)
		}
	}

	reqs := transport.Requests()
	if len(reqs) != 1 || reqs[0].Params["id"] != "task" {
		t.Errorf("Expected one request with id=task, got %+v", reqs)
	}
}

func TestFetchIndexEmptyAndInvalid(t *testing.T) {
	transport := NewInMemoryTransport()
	publish := NewPublishAPI(transport, testIndexURL)

	transport.Handle(testIndexURL, `{}`)
	heads, err := publish.FetchIndex(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if heads == nil || len(heads) != 0 {
		t.Errorf("Expected empty non-nil index, got %v", heads)
	}

	transport.Handle(testIndexURL, `<html>`)
	if _, err := publish.FetchIndex(context.Background(), nil); !errors.Is(err, ErrJSONParse) {
		t.Errorf("Expected ErrJSONParse, got %v", err)
	}
}

func TestFetchPostMergesHead(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Handle("https://posts.test/a", `{
		"html":"<p>hi</p>","title":"Hello","ts":1437518100.000005,
		"author":{"icon":"https://img.test/u.png","username":"ada"},
		"reactions":3
	}`)

	publish := NewPublishAPI(transport, testIndexURL)
	now := time.UnixMilli(1700000000123)
	post, err := publish.FetchPost(context.Background(), PostHead{ID: "a", URL: "https://posts.test/a", Index: 4}, now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if post.ID != "a" || post.Index != 4 || post.URL != "https://posts.test/a" {
		t.Errorf("Expected head fields to be merged, got %+v", post)
	}
	if post.Title != "Hello" || post.Author.Username != "ada" {
		t.Errorf("Unexpected body fields %+v", post)
	}
	if post.TS != "1437518100.000005" {
		t.Errorf("Expected numeric ts to keep its text, got %q", post.TS)
	}
	if post.Extra["reactions"] != float64(3) {
		t.Errorf("Expected unknown keys in Extra, got %v", post.Extra)
	}

	reqs := transport.Requests()
	if reqs[0].Params["ts"] != "1700000000123" {
		t.Errorf("Expected cache-busting ts param, got %v", reqs[0].Params)
	}
}

func TestDecodePostBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		wantTS  Timestamp
	}{
		{name: "string ts", body: `{"ts":"1437518100.000005"}`, wantTS: "1437518100.000005"},
		{name: "null ts", body: `{"ts":null}`},
		{name: "not json", body: `oops`, wantErr: true},
		{name: "null body", body: `null`, wantErr: true},
		{name: "array body", body: `[]`, wantErr: true},
		{name: "wrong author shape", body: `{"author":"ada"}`, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			post, err := DecodePostBody([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrJSONParse) {
					t.Fatalf("Expected ErrJSONParse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if post.TS != tt.wantTS {
				t.Errorf("Expected ts %q, got %q", tt.wantTS, post.TS)
			}
		})
	}
}
