// Package output provides output formatting utilities for the stacktodo CLI.
package output

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/stacktodo/stacktodo-go/internal/api"
)

var plainText = bluemonday.StrictPolicy()

// StreamJSON writes posts as a compact JSON array, one element per post. A
// post that cannot be encoded is left out so the array stays valid, and the
// first such error is returned once the array is closed.
func StreamJSON(w io.Writer, posts []*api.Post) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}

	var encodeErr error
	written := 0
	for _, post := range posts {
		data, err := json.Marshal(post)
		if err != nil {
			if encodeErr == nil {
				encodeErr = fmt.Errorf("error encoding post %s: %w", post.ID, err)
			}
			continue
		}
		if written > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		written++
	}

	if _, err := io.WriteString(w, "]\n"); err != nil {
		return err
	}
	return encodeErr
}

// PrintJSON prints a single item as formatted JSON.
func PrintJSON(w io.Writer, item interface{}) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// PrintHeads prints one line per head: position, id and url.
func PrintHeads(w io.Writer, heads []api.PostHead) {
	for _, h := range heads {
		fmt.Fprintf(w, "%d\t%s\t%s\n", h.Index, h.ID, h.URL)
	}
}

// PrintPosts prints each post as a title line, a byline and its body as
// plain text, separated by blank lines.
func PrintPosts(w io.Writer, posts []*api.Post) {
	for i, post := range posts {
		if i > 0 {
			fmt.Fprintln(w)
		}
		PrintPost(w, post)
	}
}

// PrintPost prints a single post. See PrintPosts.
func PrintPost(w io.Writer, post *api.Post) {
	title := post.Title
	if title == "" {
		title = post.ID
	}
	fmt.Fprintf(w, "## %s\n", title)

	byline := []string{fmt.Sprintf("#%d", post.Index)}
	if post.Author.Username != "" {
		byline = append(byline, "@"+post.Author.Username)
	}
	if post.TS != "" {
		byline = append(byline, string(post.TS))
	}
	fmt.Fprintln(w, strings.Join(byline, " "))

	if text := HTMLToText(post.HTML); text != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, text)
	}
}

// HTMLToText strips all markup from s, keeping line breaks between block
// elements.
func HTMLToText(s string) string {
	r := strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "</p>\n", "</div>", "</div>\n", "</li>", "</li>\n")
	text := html.UnescapeString(plainText.Sanitize(r.Replace(s)))

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
