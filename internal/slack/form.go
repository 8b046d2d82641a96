package slack

import (
	"context"

	"github.com/stacktodo/stacktodo-go/internal/api"
	"github.com/stacktodo/stacktodo-go/internal/core"
)

// FormError identifies why a form could not be submitted.
type FormError string

// Form errors.
const (
	EmptyFormError   FormError = "EmptyFormError"
	UnknownFormError FormError = "UnknownFormError"
	FormUnknownError FormError = FormError(UnknownError)
)

var humanizedFormErrors = map[FormError]string{
	EmptyFormError:   "Looks like you forgot to complete the form. Can you check it and try again?",
	UnknownFormError: "We couldn't find the form channel you're trying to send to :-(",
	FormUnknownError: unknownErrorMessage,
}

// Form submits values to a stacktodo form, which posts them into a Slack
// channel.
type Form struct {
	ID string

	transport api.Transport
	url       string
}

// NewForm creates a client for the form record id.
func NewForm(transport api.Transport, baseURL, id string) *Form {
	if baseURL == "" {
		baseURL = core.APIBaseURL
	}
	return &Form{
		ID:        id,
		transport: transport,
		url:       core.JoinURL(baseURL, core.FormSubmitPath),
	}
}

// PreValidate returns EmptyFormError when there is nothing to send, "" otherwise.
func (f *Form) PreValidate(values map[string]string) FormError {
	if len(values) == 0 {
		return EmptyFormError
	}
	return ""
}

type submitRequest struct {
	ID   string            `json:"id"`
	Form map[string]string `json:"form"`
}

// Submit sends values to the form. Failures are *api.Error values whose Code
// is a FormError, or whatever code the server reported.
func (f *Form) Submit(ctx context.Context, values map[string]string) error {
	if verr := f.PreValidate(values); verr != "" {
		return &api.Error{Status: -1, Code: string(verr)}
	}

	_, err := f.transport.PostJSON(ctx, f.url, submitRequest{ID: f.ID, Form: values})
	if err != nil {
		return classify(err, string(UnknownFormError), string(FormUnknownError))
	}
	return nil
}

// HumanizeError returns the user-facing message for code.
func (f *Form) HumanizeError(code FormError) string {
	if msg, ok := humanizedFormErrors[code]; ok {
		return msg
	}
	return unknownErrorMessage
}
