package auth

import (
	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
)

// RequiredError means the call cannot proceed until the user logs in or
// fixes their credentials. LoginURL is set when there is somewhere to
// send them.
type RequiredError struct {
	Method   Method
	Reason   string
	Action   string
	LoginURL string
	Err      error
}

func (e *RequiredError) Error() string {
	msg := "authentication required"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequiredError) Unwrap() []error {
	if e.Err != nil {
		return []error{apperrors.ErrAuthenticationRequired, e.Err}
	}
	return []error{apperrors.ErrAuthenticationRequired}
}
