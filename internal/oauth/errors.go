package oauth

import (
	"fmt"
	"time"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
)

// ExchangeError is returned when an authorization code cannot be turned
// into an access token, either because the provider rejected it or
// because this client already redeemed it.
type ExchangeError struct {
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ExchangeError) Error() string {
	msg := "oauth code exchange failed"
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() []error {
	if e.Err != nil {
		return []error{apperrors.ErrOAuthExchange, e.Err}
	}
	return []error{apperrors.ErrOAuthExchange}
}

// CallbackTimeoutError is returned when no redirect arrives in time. The
// listener is already closed when this error is returned.
type CallbackTimeoutError struct {
	Timeout time.Duration
}

func (e *CallbackTimeoutError) Error() string {
	return fmt.Sprintf("no oauth callback received within %s", e.Timeout)
}

func (e *CallbackTimeoutError) Unwrap() error {
	return apperrors.ErrCallbackTimeout
}

// FlowError reports why an interactive login did not produce a token.
type FlowError struct {
	Reason string
	Err    error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth login failed: %s: %v", e.Reason, e.Err)
	}
	return "oauth login failed: " + e.Reason
}

func (e *FlowError) Unwrap() error {
	return e.Err
}
