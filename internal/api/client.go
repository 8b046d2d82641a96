package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// maxErrorBody bounds how much of a failed response is kept in Error.Message.
const maxErrorBody = 512

// Client is the HTTP wrapper around the stacktodo REST API.
type Client struct {
	httpClient *http.Client
	retries    int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient creates a new API client. retries is the number of extra attempts
// made for 5xx and 429 responses; zero disables retrying.
func NewClient(timeout time.Duration, retries int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
		backoff: time.Second,
		logger:  logger,
	}
}

// Get performs a GET request. params are merged into any query already
// present on rawURL.
func (c *Client) Get(ctx context.Context, rawURL string, params map[string]string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url %q", rawURL)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	return c.do(ctx, http.MethodGet, u.String(), nil)
}

// PostJSON performs a POST request with payload encoded as JSON.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode payload")
	}

	return c.do(ctx, http.MethodPost, rawURL, body)
}

// do sends the request, retrying on HTTP 5xx or 429 responses with
// exponential back-off when retries are enabled.
func (c *Client) do(ctx context.Context, method, urlStr string, payload []byte) ([]byte, error) {
	c.logger.Debug("request", "method", method, "url", urlStr)

	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.WithStack(ctx.Err())
			}
			lastErr = &Error{Status: 0, Message: err.Error()}
			if attempt < c.retries {
				wait := c.backoff << attempt
				c.logger.Debug("connection error; retrying", "attempt", attempt+1, "wait", wait, "error", err)
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read response body")
		}

		status, code := resolveStatus(resp.StatusCode, body)
		c.logger.Debug("response", "url", urlStr, "status", status, "bytes", len(body))

		if status >= 200 && status <= 299 {
			return body, nil
		}

		lastErr = &Error{Status: status, Code: code, Message: truncate(string(body), maxErrorBody)}

		if (status >= 500 || status == http.StatusTooManyRequests) && attempt < c.retries {
			wait := c.backoff << attempt
			if status == http.StatusTooManyRequests {
				if ra := resp.Header.Get("Retry-After"); ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						wait = time.Duration(secs) * time.Second
					}
				}
			}
			c.logger.Debug(fmt.Sprintf("attempt %d failed (HTTP %d); retrying", attempt+1, status), "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		return nil, lastErr
	}

	return nil, lastErr
}

// resolveStatus applies the stacktodo envelope: a JSON body may carry its own
// http_status, which wins over the transport status, and an error identifier.
func resolveStatus(httpStatus int, body []byte) (int, string) {
	var envelope struct {
		HTTPStatus *int        `json:"http_status"`
		Error      interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return httpStatus, ""
	}

	status := httpStatus
	if envelope.HTTPStatus != nil {
		status = *envelope.HTTPStatus
	}
	code, _ := envelope.Error.(string)
	return status, code
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
