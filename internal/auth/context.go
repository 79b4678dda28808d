// Package auth decides which Meta access token a tool call runs with.
//
// Every call carries a Context describing the credentials available to
// it. The Manager resolves that Context to a token using a fixed
// precedence: an explicit access token, then a Pipeboard broker token,
// then a self-hosted Meta app. Nothing about a request's credentials is
// remembered between calls except the token cache in the store.
package auth

import (
	"net/http"
	"strings"
)

// Method is the credential source a Context resolves through.
type Method string

const (
	MethodDirectToken Method = "direct_access_token"
	MethodBroker      Method = "broker_token"
	MethodCustomApp   Method = "custom_app_id"
	MethodNone        Method = "none"
)

// Environment variables read by FromEnv.
const (
	EnvBrokerToken = "PIPEBOARD_API_TOKEN"
	EnvAppID       = "META_APP_ID"
	EnvAppSecret   = "META_APP_SECRET"
	EnvAccessToken = "META_ACCESS_TOKEN"
)

// Request headers read by FromHeaders.
const (
	HeaderBrokerToken = "X-Pipeboard-Api-Token"
	HeaderAppID       = "X-Meta-App-Id"

	// Disallowed: secrets and raw tokens never travel in headers.
	HeaderAppSecret   = "X-Meta-App-Secret"
	HeaderAccessToken = "X-Meta-Access-Token"
)

// Context holds the credentials one tool call may use. It is built per
// call and never persisted.
type Context struct {
	AccessToken string
	BrokerToken string
	AppID       string
	AppSecret   string
}

// Method applies the precedence: direct token, broker, custom app, none.
func (c Context) Method() Method {
	switch {
	case c.AccessToken != "":
		return MethodDirectToken
	case c.BrokerToken != "":
		return MethodBroker
	case c.AppID != "":
		return MethodCustomApp
	default:
		return MethodNone
	}
}

// WithAppSecret attaches secret when the context targets appID. Used to
// pair a header-supplied app ID with the secret configured on the server.
func (c Context) WithAppSecret(appID, secret string) Context {
	if c.AppSecret == "" && appID != "" && c.AppID == appID {
		c.AppSecret = secret
	}
	return c
}

// Capabilities describes what the caller's transport can do.
type Capabilities struct {
	// Interactive callers may open a browser and block for a login.
	Interactive bool
}

// FromEnv builds a Context for the stdio transport.
func FromEnv(getenv func(string) string) Context {
	return Context{
		AccessToken: strings.TrimSpace(getenv(EnvAccessToken)),
		BrokerToken: strings.TrimSpace(getenv(EnvBrokerToken)),
		AppID:       strings.TrimSpace(getenv(EnvAppID)),
		AppSecret:   strings.TrimSpace(getenv(EnvAppSecret)),
	}
}

// FromHeaders builds a Context for one HTTP request. Only the broker
// token and the app ID are accepted from headers.
func FromHeaders(h http.Header) Context {
	var c Context

	if v := bearerToken(h.Get("Authorization")); v != "" {
		c.BrokerToken = v
	} else if v := strings.TrimSpace(h.Get(HeaderBrokerToken)); v != "" {
		c.BrokerToken = v
	}

	c.AppID = strings.TrimSpace(h.Get(HeaderAppID))

	return c
}

func bearerToken(v string) string {
	const prefix = "Bearer "
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
