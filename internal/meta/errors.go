package meta

import (
	"fmt"
	"net/http"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/tidwall/gjson"
)

// Graph error codes with special handling.
const (
	codeInvalidToken = 190
	codePermission   = 200
)

// rateLimitCodes are Graph error codes meaning "slow down".
var rateLimitCodes = map[int64]bool{
	4:     true, // application request limit
	17:    true, // user request limit
	32:    true, // page request limit
	613:   true, // custom rate limit
	80004: true, // ads management rate limit
}

// APIError is a Graph API error response.
type APIError struct {
	Status    int
	Code      int64
	Subcode   int64
	Type      string
	Message   string
	FBTraceID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("graph api error %d", e.Code)
	if e.Subcode != 0 {
		msg += fmt.Sprintf("/%d", e.Subcode)
	}
	if e.Type != "" {
		msg += " (" + e.Type + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// TokenInvalid reports whether Meta rejected the access token itself.
func (e *APIError) TokenInvalid() bool {
	return e.Code == codeInvalidToken || e.Status == http.StatusUnauthorized
}

// RateLimited reports whether the call was throttled.
func (e *APIError) RateLimited() bool {
	return rateLimitCodes[e.Code] || e.Status == http.StatusTooManyRequests
}

func (e *APIError) Unwrap() error {
	switch {
	case e.TokenInvalid():
		return apperrors.ErrAuthenticationExpired
	case e.RateLimited():
		return apperrors.ErrRateLimited
	default:
		return apperrors.ErrAPIResponse
	}
}

// parseAPIError reads the Graph error envelope. A body without one still
// yields an error carrying the status.
func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}

	if !gjson.ValidBytes(body) {
		e.Message = http.StatusText(status)
		return e
	}

	errObj := gjson.GetBytes(body, "error")
	if !errObj.IsObject() {
		e.Message = http.StatusText(status)
		return e
	}

	e.Code = errObj.Get("code").Int()
	e.Subcode = errObj.Get("error_subcode").Int()
	e.Type = errObj.Get("type").String()
	e.Message = errObj.Get("message").String()
	e.FBTraceID = errObj.Get("fbtrace_id").String()

	return e
}
