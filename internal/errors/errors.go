package errors

import "errors"

// Authentication errors. None of these are fatal to the process; the
// tool layer turns each into remediation text for the client.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrAuthenticationExpired  = errors.New("authentication expired")
	ErrOAuthExchange          = errors.New("oauth code exchange failed")
	ErrCallbackTimeout        = errors.New("timed out waiting for oauth callback")
)

// Storage errors.
var (
	ErrCredentialStore = errors.New("credential store unavailable")
	ErrNotFound        = errors.New("token record not found")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
	ErrRateLimited = errors.New("API rate limit reached")
)

// ErrInvalidInput marks tool arguments rejected before any remote call.
var ErrInvalidInput = errors.New("invalid input")
