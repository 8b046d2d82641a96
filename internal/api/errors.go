package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is the failure reported by the stacktodo API or by the client on its
// behalf. Status is the HTTP status, 0 for transport failures and -1 for
// failures detected locally. Code is the service's error identifier, if any.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Status > 0:
		return fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
	case e.Code != "":
		return e.Code
	case e.Message != "":
		return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("API error (HTTP %d)", e.Status)
	}
}

// Is matches by Code when the target has one, otherwise by Status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Status == e.Status
}

// ErrJSONParse is returned when a successful response body is not valid JSON
// of the expected shape.
var ErrJSONParse = &Error{Status: -1, Code: "JSONParseError"}

// StatusOf extracts the (status, code) pair from err. Errors that did not
// come from the API, such as context cancellation, yield (0, "").
func StatusOf(err error) (int, string) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status, apiErr.Code
	}
	return 0, ""
}
