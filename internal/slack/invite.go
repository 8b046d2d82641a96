// Package slack provides clients for the stacktodo Slack team-invite and
// feedback-form tools.
package slack

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/stacktodo/stacktodo-go/internal/api"
	"github.com/stacktodo/stacktodo-go/internal/core"
)

// InviteError identifies why an invite could not be completed.
type InviteError string

// Invite errors. The server may also report codes outside this set.
const (
	MissingEmailError InviteError = "MissingEmailError"
	InvalidEmailError InviteError = "InvalidEmailError"
	UnknownTeamError  InviteError = "UnknownTeamError"
	UnknownError      InviteError = "UnknownError"
)

// InviteState is the outcome of a successful join.
type InviteState string

// Invite states.
const (
	RequestedAuthState InviteState = "RequestedAuthState"
	InvitedUserState   InviteState = "InvitedUserState"
)

// minEmailLength is the shortest address PreValidate accepts.
const minEmailLength = 7

const unknownErrorMessage = "Something went wrong and we're not quite sure what. We'll look into it as soon as possible!"

var humanizedInviteErrors = map[InviteError]string{
	MissingEmailError: "Your email is looking awfully blank, if you fill it in we can get you started",
	InvalidEmailError: "Your email doesn't quite look right. Can you check it and try again?",
	UnknownTeamError:  "We couldn't find the team you're trying to join :-(",
	UnknownError:      unknownErrorMessage,
}

var humanizedInviteStates = map[InviteState]string{
	RequestedAuthState: "Awesome your email address has been sent for approval. You should receive an invitation email from slack once you've been approved",
	InvitedUserState:   "Awesome you've been invited into the team. Check your inbox for the invitation email from slack!",
}

// Invite joins users to a Slack team through stacktodo.
type Invite struct {
	Team string

	transport api.Transport
	url       string
}

// NewInvite creates an invite client for team. baseURL is the API root; empty
// means core.APIBaseURL.
func NewInvite(transport api.Transport, baseURL, team string) *Invite {
	if baseURL == "" {
		baseURL = core.APIBaseURL
	}
	return &Invite{
		Team:      team,
		transport: transport,
		url:       core.JoinURL(baseURL, core.InviteJoinPath),
	}
}

// PreValidate checks email locally. It returns "" when the address looks
// usable.
func (i *Invite) PreValidate(email string) InviteError {
	switch {
	case email == "":
		return MissingEmailError
	case !strings.Contains(email, "@") || len(email) < minEmailLength:
		return InvalidEmailError
	default:
		return ""
	}
}

type joinResponse struct {
	State InviteState `json:"state"`
}

// Join asks stacktodo to invite email to the team. extra is sent alongside the
// email and team fields, which take precedence over any extra keys of the
// same name.
//
// Failures are *api.Error values whose Code is an InviteError, or whatever
// code the server reported.
func (i *Invite) Join(ctx context.Context, email string, extra map[string]string) (InviteState, error) {
	if verr := i.PreValidate(email); verr != "" {
		return "", &api.Error{Status: -1, Code: string(verr)}
	}

	payload := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		payload[k] = v
	}
	payload["email"] = email
	payload["team"] = i.Team

	body, err := i.transport.PostJSON(ctx, i.url, payload)
	if err != nil {
		return "", classify(err, string(UnknownTeamError), string(UnknownError))
	}

	var resp joinResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.WithStack(api.ErrJSONParse)
	}
	return resp.State, nil
}

// HumanizeError returns the user-facing message for code.
func (i *Invite) HumanizeError(code InviteError) string {
	if msg, ok := humanizedInviteErrors[code]; ok {
		return msg
	}
	return unknownErrorMessage
}

// HumanizeStatus returns the user-facing message for state.
func (i *Invite) HumanizeStatus(state InviteState) string {
	if msg, ok := humanizedInviteStates[state]; ok {
		return msg
	}
	return unknownErrorMessage
}

// classify fills in the error code of an API failure that carries none: 404
// maps to notFound, anything else to unknown. Context and other non-API
// errors are returned as is.
func classify(err error, notFound, unknown string) error {
	status, code := api.StatusOf(err)
	if code != "" {
		return err
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	mapped := unknown
	if status == 404 {
		mapped = notFound
	}
	return &api.Error{Status: status, Code: mapped, Message: apiErr.Message}
}

// ErrorCode returns the error code carried by err, or "" for errors that did
// not come from a stacktodo tool.
func ErrorCode(err error) string {
	_, code := api.StatusOf(err)
	return code
}
