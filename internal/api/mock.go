package api

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryTransport is a lightweight simulation of the stacktodo API.
// Responses are registered per URL (query ignored) and every call is recorded
// so tests can assert on the requests made.
type InMemoryTransport struct {
	mu         sync.Mutex
	routes     map[string]Response
	RequestLog []RequestLogEntry
}

// Response is a canned reply for one route. When Gate is set the reply is
// held until the channel is closed, which lets tests order concurrent fetches.
type Response struct {
	Body []byte
	Err  error
	Gate <-chan struct{}
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Method  string
	URL     string
	Params  map[string]string
	Payload interface{}
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		routes:     make(map[string]Response),
		RequestLog: make([]RequestLogEntry, 0),
	}
}

// Handle registers a raw body for rawURL.
func (t *InMemoryTransport) Handle(rawURL string, body string) {
	t.Respond(rawURL, Response{Body: []byte(body)})
}

// HandleJSON registers v, encoded as JSON, for rawURL.
func (t *InMemoryTransport) HandleJSON(rawURL string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	t.Respond(rawURL, Response{Body: data})
}

// Fail registers an API failure for rawURL.
func (t *InMemoryTransport) Fail(rawURL string, status int, code string) {
	t.Respond(rawURL, Response{Err: &Error{Status: status, Code: code}})
}

// Respond registers an arbitrary response for rawURL.
func (t *InMemoryTransport) Respond(rawURL string, resp Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[routeKey(rawURL)] = resp
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.RequestLog)
}

// RequestsTo returns the number of requests made to rawURL, ignoring the query.
func (t *InMemoryTransport) RequestsTo(rawURL string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := routeKey(rawURL)
	n := 0
	for _, entry := range t.RequestLog {
		if routeKey(entry.URL) == key {
			n++
		}
	}
	return n
}

// Requests returns a copy of the request log.
func (t *InMemoryTransport) Requests() []RequestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RequestLogEntry(nil), t.RequestLog...)
}

// Reset clears all routes and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = make(map[string]Response)
	t.RequestLog = make([]RequestLogEntry, 0)
}

// Get simulates a GET request.
func (t *InMemoryTransport) Get(ctx context.Context, rawURL string, params map[string]string) ([]byte, error) {
	return t.serve(ctx, RequestLogEntry{Method: "GET", URL: rawURL, Params: copyParams(params)})
}

// PostJSON simulates a POST request with a JSON payload.
func (t *InMemoryTransport) PostJSON(ctx context.Context, rawURL string, payload interface{}) ([]byte, error) {
	return t.serve(ctx, RequestLogEntry{Method: "POST", URL: rawURL, Payload: payload})
}

func (t *InMemoryTransport) serve(ctx context.Context, entry RequestLogEntry) ([]byte, error) {
	t.mu.Lock()
	// Track the call for assertions in unit tests
	t.RequestLog = append(t.RequestLog, entry)
	resp, ok := t.routes[routeKey(entry.URL)]
	t.mu.Unlock()

	if !ok {
		return nil, &Error{Status: 404, Message: "no route for " + entry.URL}
	}

	if resp.Gate != nil {
		select {
		case <-resp.Gate:
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Body, nil
}

// routeKey strips the query and fragment from rawURL.
func routeKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// copyParams creates a copy of the params map.
func copyParams(params map[string]string) map[string]string {
	result := make(map[string]string)
	for k, v := range params {
		result[k] = v
	}
	return result
}
