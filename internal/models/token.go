// Package models defines types shared across internal packages.
package models

import "time"

// Source identifies where an access token came from.
type Source string

const (
	// SourceBroker tokens are issued by the Pipeboard token broker.
	SourceBroker Source = "broker"

	// SourceDirectOAuth tokens come from the authorization code flow
	// against a user-registered Meta app.
	SourceDirectOAuth Source = "direct_oauth"

	// SourceExplicit tokens are supplied verbatim by the caller and are
	// never cached or refreshed.
	SourceExplicit Source = "explicit_override"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceBroker, SourceDirectOAuth, SourceExplicit:
		return true
	}
	return false
}

// TokenRecord is a cached access token with its provenance and expiry.
// A zero ExpiresAt means the expiry is unknown.
type TokenRecord struct {
	Value         string    `json:"value"`
	Source        Source    `json:"source"`
	ObtainedAt    time.Time `json:"obtained_at"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	ScopeIdentity string    `json:"scope_identity,omitempty"`

	// CheckedAt is the last time a token with unknown expiry was
	// confirmed against the Graph API.
	CheckedAt time.Time `json:"checked_at,omitzero"`
}

// HasExpiry reports whether the record carries a known expiry time.
func (r *TokenRecord) HasExpiry() bool {
	return !r.ExpiresAt.IsZero()
}

// Expired reports whether the token is past its expiry at now. Records
// with an unknown expiry never report expired.
func (r *TokenRecord) Expired(now time.Time) bool {
	return r.HasExpiry() && !now.Before(r.ExpiresAt)
}

// NeedsRefresh reports whether the remaining validity at now is below
// margin. Records with an unknown expiry never need a time-based refresh.
func (r *TokenRecord) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return r.HasExpiry() && !now.Add(margin).Before(r.ExpiresAt)
}

// Stale reports whether a record with an unknown expiry was obtained or
// last confirmed more than maxAge before now. Records with a known expiry
// are never stale; NeedsRefresh covers them.
func (r *TokenRecord) Stale(now time.Time, maxAge time.Duration) bool {
	if r.HasExpiry() {
		return false
	}
	seen := r.ObtainedAt
	if r.CheckedAt.After(seen) {
		seen = r.CheckedAt
	}
	return now.Sub(seen) >= maxAge
}

// Redacted returns a short prefix of the token value suitable for logs.
func (r *TokenRecord) Redacted() string {
	return Redact(r.Value)
}

// Redact shortens a secret to a prefix that is safe to log.
func Redact(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:6] + "..."
}
