package broker

import (
	"fmt"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
)

// Kind classifies a broker failure.
type Kind int

const (
	// KindUnavailable covers network failures and 5xx responses.
	KindUnavailable Kind = iota
	// KindInvalidKey means the broker rejected the API key (401/403).
	KindInvalidKey
	// KindNotLinked means the key is valid but no Meta account has been
	// connected to it yet (404).
	KindNotLinked
	// KindBadResponse means a 2xx response without a usable token.
	KindBadResponse
)

func (k Kind) String() string {
	switch k {
	case KindInvalidKey:
		return "invalid api key"
	case KindNotLinked:
		return "meta account not linked"
	case KindBadResponse:
		return "malformed response"
	default:
		return "unavailable"
	}
}

// Error is returned by every failing broker call. URL never includes the
// API key.
type Error struct {
	Kind    Kind
	URL     string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("token broker %s: %s", e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case KindInvalidKey, KindNotLinked:
		sentinel = apperrors.ErrAuthenticationRequired
	case KindBadResponse:
		sentinel = apperrors.ErrAPIResponse
	default:
		sentinel = apperrors.ErrAPIRequest
	}

	if e.Err != nil {
		return []error{sentinel, e.Err}
	}
	return []error{sentinel}
}
