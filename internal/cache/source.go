package cache

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ErrInitialization is returned when a Source is built from the wrong number
// of arguments.
var ErrInitialization = errors.New("InitializationError: incorrect params")

// Source identifies a blog on stacktodo, either by task id or by a
// (team, reference) pair.
type Source struct {
	TaskID    string
	Team      string
	Reference string
}

// NewSource builds a Source from one argument (a task id) or two (team and
// reference). Any other count, or an empty argument, is a configuration error.
func NewSource(args ...string) (Source, error) {
	for i, arg := range args {
		if arg == "" {
			return Source{}, errors.Wrapf(ErrInitialization, "argument %d is empty", i+1)
		}
	}

	switch len(args) {
	case 1:
		return Source{TaskID: args[0]}, nil
	case 2:
		return Source{Team: args[0], Reference: args[1]}, nil
	default:
		return Source{}, errors.Wrapf(ErrInitialization, "expected 1 or 2 arguments, got %d", len(args))
	}
}

// Query returns the index query parameters for the source.
func (s Source) Query() map[string]string {
	if s.byTeam() {
		return map[string]string{"team": s.Team, "reference": s.Reference}
	}
	return map[string]string{"id": s.TaskID}
}

func (s Source) byTeam() bool {
	return s.Team != "" || s.Reference != ""
}

// Key returns a filesystem- and key-safe name for the source, used to
// namespace persistent backends. Distinct sources always have distinct keys:
// each part is escaped so it never contains '-', ':' or glob characters, and
// the parts are joined with '-'.
func (s Source) Key() string {
	if s.byTeam() {
		return "team-" + escapeKeyPart(s.Team) + "-" + escapeKeyPart(s.Reference)
	}
	return "id-" + escapeKeyPart(s.TaskID)
}

func escapeKeyPart(part string) string {
	return strings.ReplaceAll(url.QueryEscape(part), "-", "%2D")
}
