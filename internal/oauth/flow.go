package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
)

// FlowState is the position of a Flow in its lifecycle.
type FlowState int

const (
	FlowNotStarted FlowState = iota
	FlowAwaitingRedirect
	FlowCodeReceived
	FlowExchanged
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowNotStarted:
		return "not_started"
	case FlowAwaitingRedirect:
		return "awaiting_redirect"
	case FlowCodeReceived:
		return "code_received"
	case FlowExchanged:
		return "exchanged"
	case FlowFailed:
		return "failed"
	}
	return fmt.Sprintf("FlowState(%d)", int(s))
}

// Flow drives one interactive login:
//
//	NotStarted -> AwaitingRedirect -> CodeReceived -> Exchanged | Failed
//
// A Flow is single use.
type Flow struct {
	client *Client
	appID  string
	secret string
	logger *slog.Logger

	mu       sync.Mutex
	state    FlowState
	listener *Listener
	oauthSt  string
	verifier string
	authURL  string
}

// NewFlow prepares a login for appID. secret may be empty, in which case
// PKCE alone authenticates the exchange and no long-lived upgrade is
// attempted.
func (c *Client) NewFlow(appID, secret string) *Flow {
	return &Flow{
		client: c,
		appID:  appID,
		secret: secret,
		logger: c.logger,
	}
}

// State returns the current lifecycle state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// AuthURL returns the consent URL once Start has succeeded.
func (f *Flow) AuthURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authURL
}

// RedirectURI returns the listener's redirect URI once Start has
// succeeded.
func (f *Flow) RedirectURI() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.RedirectURI()
}

func (f *Flow) fail(reason string, err error) error {
	f.mu.Lock()
	f.state = FlowFailed
	f.mu.Unlock()

	f.Close()
	f.logger.Warn("oauth login failed", slog.String("app_id", f.appID), slog.String("reason", reason))

	return &FlowError{Reason: reason, Err: err}
}

// Start binds the callback listener and returns the consent URL.
func (f *Flow) Start(ctx context.Context, preferredPort int) (string, error) {
	f.mu.Lock()
	if f.state != FlowNotStarted {
		f.mu.Unlock()
		return "", fmt.Errorf("oauth flow already %s", f.state)
	}
	f.mu.Unlock()

	l, err := StartCallbackListener(ctx, preferredPort, f.logger)
	if err != nil {
		return "", f.fail("callback listener unavailable", err)
	}

	state := NewState()
	verifier := NewVerifier()
	l.ExpectState(state)

	authURL := f.client.AuthorizationURL(f.appID, l.RedirectURI(), state, verifier)

	f.mu.Lock()
	f.listener = l
	f.oauthSt = state
	f.verifier = verifier
	f.authURL = authURL
	f.state = FlowAwaitingRedirect
	f.mu.Unlock()

	return authURL, nil
}

// Complete waits up to timeout for the redirect, checks it and exchanges
// the code. With an app secret the token is upgraded to a long-lived one
// when possible.
func (f *Flow) Complete(ctx context.Context, timeout time.Duration) (*models.TokenRecord, error) {
	f.mu.Lock()
	if f.state != FlowAwaitingRedirect {
		f.mu.Unlock()
		return nil, fmt.Errorf("oauth flow is %s, not awaiting redirect", f.state)
	}
	l := f.listener
	f.mu.Unlock()

	res, err := l.Wait(ctx, timeout)
	if err != nil {
		var te *CallbackTimeoutError
		if errors.As(err, &te) {
			return nil, f.fail("timed out waiting for authorization", err)
		}
		return nil, f.fail("login cancelled", err)
	}

	switch {
	case res.Error == "state_mismatch":
		return nil, f.fail("state mismatch", apperrors.ErrOAuthExchange)
	case res.IsError():
		reason := "user denied access"
		if res.Error != "access_denied" {
			reason = res.Error
		}
		if res.ErrorDescription != "" {
			reason += ": " + res.ErrorDescription
		}
		return nil, f.fail(reason, &ExchangeError{Code: res.Error, Description: res.ErrorDescription})
	}

	f.mu.Lock()
	f.state = FlowCodeReceived
	verifier := f.verifier
	f.mu.Unlock()

	rec, err := f.client.ExchangeCode(ctx, f.appID, f.secret, res.Code, l.RedirectURI(), verifier)
	if err != nil {
		return nil, f.fail("exchange rejected", err)
	}

	if f.secret != "" {
		long, err := f.client.ExchangeLongLived(ctx, f.appID, f.secret, rec.Value)
		if err != nil {
			f.logger.Warn("keeping short-lived token", slog.String("error", err.Error()))
		} else {
			rec = long
		}
	}

	f.mu.Lock()
	f.state = FlowExchanged
	f.mu.Unlock()

	return rec, nil
}

// Run performs Start, opens the consent URL with open and Complete. A
// failing opener is logged along with the URL so the user can paste it.
func (f *Flow) Run(ctx context.Context, preferredPort int, timeout time.Duration, open Opener) (*models.TokenRecord, error) {
	defer f.Close()

	authURL, err := f.Start(ctx, preferredPort)
	if err != nil {
		return nil, err
	}

	if open != nil {
		if err := open(authURL); err != nil {
			f.logger.Warn("could not open browser, visit the URL manually",
				slog.String("url", authURL),
				slog.String("error", err.Error()),
			)
		}
	}

	return f.Complete(ctx, timeout)
}

// Close releases the callback port. Safe to call at any point.
func (f *Flow) Close() {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()

	if l != nil {
		l.Close()
	}
}
