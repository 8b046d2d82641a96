package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stacktodo/stacktodo-go/internal/api"
	"github.com/stacktodo/stacktodo-go/internal/core"
)

// runCLI executes the root command against transport and returns stdout.
func runCLI(t *testing.T, transport api.Transport, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	err := runCLITo(t, &out, transport, args...)
	return out.String(), err
}

// runCLITo is runCLI with stdout sent to out.
func runCLITo(t *testing.T, out io.Writer, transport api.Transport, args ...string) error {
	t.Helper()

	verbose, quiet, raw = false, true, false
	cacheBackend, baseURL = "", ""
	retries, timeout = 0, 30*time.Second
	afterID, pageCount, postID, postIndex = "", core.PageSize, "", -1

	saved := newTransport
	newTransport = func(core.Config) api.Transport { return transport }
	t.Cleanup(func() { newTransport = saved })

	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--quiet", "--base-url", testBaseURL}, args...))
	return rootCmd.Execute()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("stdout closed")
}

func TestIndexCommand(t *testing.T) {
	transport := api.NewInMemoryTransport()
	seedBlog(transport, "a", "b")

	out, err := runCLI(t, transport, "--cache", "memory", "index", "task-1")
	if err != nil {
		t.Fatalf("index failed: %v", err)
	}
	want := "0\ta\t" + postURL("a") + "\n1\tb\t" + postURL("b") + "\n"
	if out != want {
		t.Errorf("Expected %q, got %q", want, out)
	}

	params := transport.Requests()[0].Params
	if params["id"] != "task-1" {
		t.Errorf("Expected id=task-1, got %v", params)
	}
}

func TestPageCommand(t *testing.T) {
	transport := api.NewInMemoryTransport()
	seedBlog(transport, "a", "b", "c")

	out, err := runCLI(t, transport, "--cache", "memory", "--raw", "page", "stacktodo", "blog", "--after", "a", "--count", "5")
	if err != nil {
		t.Fatalf("page failed: %v", err)
	}

	var posts []api.Post
	if err := json.Unmarshal([]byte(out), &posts); err != nil {
		t.Fatalf("Expected a JSON array, got %q", out)
	}
	if len(posts) != 2 || posts[0].ID != "b" || posts[1].ID != "c" {
		t.Errorf("Expected posts b, c in order, got %+v", posts)
	}

	params := transport.Requests()[0].Params
	if params["team"] != "stacktodo" || params["reference"] != "blog" {
		t.Errorf("Expected team/reference params, got %v", params)
	}
}

func TestPageCommandFailure(t *testing.T) {
	transport := api.NewInMemoryTransport()
	seedBlog(transport, "a", "b")
	transport.Fail(postURL("a"), 500, "boom")

	_, err := runCLI(t, transport, "--cache", "memory", "page", "task-1")
	if status, code := api.StatusOf(err); status != 500 || code != "boom" {
		t.Errorf("Expected (500, boom), got (%d, %q)", status, code)
	}
}

func TestPostCommandUsesFilesystemCache(t *testing.T) {
	t.Setenv(core.CacheDirEnvVar, t.TempDir())

	transport := api.NewInMemoryTransport()
	seedBlog(transport, "a", "b")

	out, err := runCLI(t, transport, "--cache", "fs", "post", "task-1", "--index", "1")
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if !strings.Contains(out, "## Post b") || !strings.Contains(out, "Body b") {
		t.Errorf("Unexpected output %q", out)
	}

	transport.Reset()
	out, err = runCLI(t, transport, "--cache", "fs", "post", "task-1", "--id", "b")
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if !strings.Contains(out, "## Post b") {
		t.Errorf("Unexpected output %q", out)
	}
	if n := transport.RequestsMade(); n != 0 {
		t.Errorf("Expected the post to come from disk, got %d requests", n)
	}

	if _, err := runCLI(t, transport, "--cache", "fs", "invalidate", "task-1"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, err := runCLI(t, transport, "--cache", "fs", "post", "task-1", "--id", "b"); err == nil {
		t.Error("Expected a failure once the cache is cleared and the index is gone")
	}
}

func TestPostCommandRequiresOneSelector(t *testing.T) {
	transport := api.NewInMemoryTransport()

	if _, err := runCLI(t, transport, "post", "task-1"); err == nil {
		t.Error("Expected an error without --id or --index")
	}
	if _, err := runCLI(t, transport, "post", "task-1", "--id", "a", "--index", "0"); err == nil {
		t.Error("Expected an error with both --id and --index")
	}
}

func TestUnknownCacheBackend(t *testing.T) {
	_, err := runCLI(t, api.NewInMemoryTransport(), "--cache", "tape", "index", "task-1")
	if err == nil || !strings.Contains(err.Error(), "unknown cache backend") {
		t.Errorf("Expected an unknown backend error, got %v", err)
	}
}

func TestInviteCommand(t *testing.T) {
	transport := api.NewInMemoryTransport()
	transport.HandleJSON(testBaseURL+"/tool/invite/join", map[string]string{"state": "InvitedUserState"})

	out, err := runCLI(t, transport, "invite", "stacktodo", "someone@example.com", "name=Someone")
	if err != nil {
		t.Fatalf("invite failed: %v", err)
	}
	if !strings.Contains(out, "invited into the team") {
		t.Errorf("Unexpected output %q", out)
	}

	payload := transport.Requests()[0].Payload.(map[string]string)
	if payload["name"] != "Someone" || payload["team"] != "stacktodo" {
		t.Errorf("Unexpected payload %v", payload)
	}

	_, err = runCLI(t, transport, "invite", "stacktodo", "nope")
	if err == nil || !strings.Contains(err.Error(), "doesn't quite look right") {
		t.Errorf("Expected the humanized invalid email message, got %v", err)
	}
}

func TestInviteCommandRawFailure(t *testing.T) {
	transport := api.NewInMemoryTransport()

	out, err := runCLI(t, transport, "--raw", "invite", "stacktodo", "nope")
	if err == nil || !strings.Contains(err.Error(), "doesn't quite look right") {
		t.Errorf("Expected the humanized invalid email message, got %v", err)
	}
	var payload map[string]string
	if jerr := json.Unmarshal([]byte(out), &payload); jerr != nil || payload["error"] == "" {
		t.Errorf("Expected a JSON error code, got %q", out)
	}

	err = runCLITo(t, failingWriter{}, transport, "--raw", "invite", "stacktodo", "nope")
	if err == nil || !strings.Contains(err.Error(), "stdout closed") {
		t.Errorf("Expected the write failure to be returned, got %v", err)
	}
}

func TestFormCommand(t *testing.T) {
	transport := api.NewInMemoryTransport()
	transport.HandleJSON(testBaseURL+"/tool/form/submit", map[string]string{})

	if _, err := runCLI(t, transport, "form", "form-1", "message=hello"); err != nil {
		t.Fatalf("form failed: %v", err)
	}
	if n := transport.RequestsTo(testBaseURL + "/tool/form/submit"); n != 1 {
		t.Errorf("Expected 1 submission, got %d", n)
	}

	_, err := runCLI(t, transport, "form", "form-1")
	if err == nil || !strings.Contains(err.Error(), "forgot to complete the form") {
		t.Errorf("Expected the humanized empty form message, got %v", err)
	}

	if _, err := runCLI(t, transport, "form", "form-1", "novalue"); err == nil {
		t.Error("Expected an error for a malformed field")
	}
}
