package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(retries int) *Client {
	c := NewClient(2*time.Second, retries, nil)
	c.backoff = time.Millisecond
	return c
}

func TestClientGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "task 1" {
			t.Errorf("Expected id 'task 1', got %q", got)
		}
		if got := r.URL.Query().Get("keep"); got != "yes" {
			t.Errorf("Expected existing query to be kept, got %q", got)
		}
		w.Write([]byte(`{"posts":[]}`))
	}))
	defer server.Close()

	body, err := newTestClient(0).Get(context.Background(), server.URL+"/index?keep=yes", map[string]string{"id": "task 1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if string(body) != `{"posts":[]}` {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantCode   string
		wantOK     bool
	}{
		{name: "plain 404", status: 404, body: "not found", wantStatus: 404},
		{name: "error code", status: 400, body: `{"error":"InvalidEmailError"}`, wantStatus: 400, wantCode: "InvalidEmailError"},
		{name: "envelope status wins", status: 200, body: `{"http_status":404,"error":"UnknownTeamError"}`, wantStatus: 404, wantCode: "UnknownTeamError"},
		{name: "envelope success", status: 500, body: `{"http_status":200,"state":"InvitedUserState"}`, wantOK: true},
		{name: "non-string error", status: 500, body: `{"error":{"nested":true}}`, wantStatus: 500},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(0).Get(context.Background(), server.URL, nil)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected an error")
			}

			status, code := StatusOf(err)
			if status != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, status)
			}
			if code != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, code)
			}
		})
	}
}

func TestClientRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if _, err := newTestClient(2).Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestClientNoRetryByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(0).Get(context.Background(), server.URL, nil)
	if status, _ := StatusOf(err); status != 500 {
		t.Errorf("Expected status 500, got %d (%v)", status, err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected a single attempt, got %d", got)
	}
}

func TestClientPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"team":"stacktodo"`) {
			t.Errorf("Unexpected payload %s", body)
		}
		w.Write([]byte(`{"state":"InvitedUserState"}`))
	}))
	defer server.Close()

	body, err := newTestClient(0).PostJSON(context.Background(), server.URL, map[string]string{"team": "stacktodo"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(string(body), "InvitedUserState") {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(0).Get(context.Background(), url, nil)
	if err == nil {
		t.Fatal("Expected an error for a closed server")
	}
	if status, _ := StatusOf(err); status != 0 {
		t.Errorf("Expected status 0 for a transport failure, got %d", status)
	}
}

func TestClientContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(0).Get(ctx, server.URL, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestErrorIs(t *testing.T) {
	err := &Error{Status: -1, Code: "JSONParseError"}
	if !errors.Is(err, ErrJSONParse) {
		t.Error("Expected errors.Is to match by code")
	}
	if errors.Is(&Error{Status: 500}, ErrJSONParse) {
		t.Error("Did not expect a code-less error to match ErrJSONParse")
	}
	if !errors.Is(&Error{Status: 404, Message: "x"}, &Error{Status: 404}) {
		t.Error("Expected code-less targets to match by status")
	}
}
