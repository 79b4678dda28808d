package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redirector plays the role of the browser plus Meta's consent screen:
// it reads the auth URL and hits redirect_uri with the given query.
func redirector(t *testing.T, query func(state string) url.Values) Opener {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)

		redirect, err := url.Parse(u.Query().Get("redirect_uri"))
		require.NoError(t, err)

		redirect.Host = "127.0.0.1:" + redirect.Port()
		redirect.RawQuery = query(u.Query().Get("state")).Encode()

		resp, err := http.Get(redirect.String())
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func TestFlow_Run_Success(t *testing.T) {
	meta := &fakeMeta{}
	srv := httptest.NewServer(meta.handler(t))
	defer srv.Close()

	f := newTestClient(srv).NewFlow("1234567890", "")
	assert.Equal(t, FlowNotStarted, f.State())

	rec, err := f.Run(context.Background(), 0, 5*time.Second, redirector(t, func(state string) url.Values {
		return url.Values{"code": {"granted"}, "state": {state}}
	}))
	require.NoError(t, err)
	assert.Equal(t, "EAABshort-granted", rec.Value)
	assert.Equal(t, FlowExchanged, f.State())
	assert.Equal(t, int32(0), meta.longCalls.Load())
}

func TestFlow_Run_UpgradesWithSecret(t *testing.T) {
	meta := &fakeMeta{}
	srv := httptest.NewServer(meta.handler(t))
	defer srv.Close()

	f := newTestClient(srv).NewFlow("1234567890", "app-secret")
	rec, err := f.Run(context.Background(), 0, 5*time.Second, redirector(t, func(state string) url.Values {
		return url.Values{"code": {"granted"}, "state": {state}}
	}))
	require.NoError(t, err)
	assert.Equal(t, "EAABlonglived", rec.Value)
	assert.Equal(t, int32(1), meta.longCalls.Load())
}

func TestFlow_Run_UserDenied(t *testing.T) {
	f := NewClient(Options{}).NewFlow("1234567890", "")

	_, err := f.Run(context.Background(), 0, 5*time.Second, redirector(t, func(state string) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {state}}
	}))

	var fe *FlowError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Reason, "denied")
	assert.ErrorIs(t, err, apperrors.ErrOAuthExchange)

	var ee *ExchangeError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "access_denied", ee.Code)
	assert.Equal(t, FlowFailed, f.State())
}

func TestFlow_Run_StateMismatch(t *testing.T) {
	meta := &fakeMeta{}
	srv := httptest.NewServer(meta.handler(t))
	defer srv.Close()

	f := newTestClient(srv).NewFlow("1234567890", "")

	_, err := f.Run(context.Background(), 0, 5*time.Second, redirector(t, func(string) url.Values {
		return url.Values{"code": {"stolen"}, "state": {"forged"}}
	}))

	var fe *FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "state mismatch", fe.Reason)
	assert.ErrorIs(t, err, apperrors.ErrOAuthExchange)
	assert.Equal(t, int32(0), meta.codeCalls.Load())
}

func TestFlow_Run_ExchangeRejected(t *testing.T) {
	meta := &fakeMeta{rejectAll: true}
	srv := httptest.NewServer(meta.handler(t))
	defer srv.Close()

	f := newTestClient(srv).NewFlow("1234567890", "")
	_, err := f.Run(context.Background(), 0, 5*time.Second, redirector(t, func(state string) url.Values {
		return url.Values{"code": {"c"}, "state": {state}}
	}))

	var ee *ExchangeError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, FlowFailed, f.State())
}

func TestFlow_Run_Timeout(t *testing.T) {
	f := NewClient(Options{}).NewFlow("1234567890", "")

	var opened string
	_, err := f.Run(context.Background(), 0, time.Second, func(u string) error {
		opened = u
		return errors.New("no browser")
	})

	assert.ErrorIs(t, err, apperrors.ErrCallbackTimeout)
	assert.NotEmpty(t, opened)
	assert.Equal(t, FlowFailed, f.State())
}

func TestFlow_StartTwice(t *testing.T) {
	f := NewClient(Options{}).NewFlow("1", "")
	defer f.Close()

	u, err := f.Start(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, u, f.AuthURL())
	assert.Contains(t, u, url.QueryEscape(f.RedirectURI()))
	assert.Equal(t, FlowAwaitingRedirect, f.State())

	_, err = f.Start(context.Background(), 0)
	assert.Error(t, err)
}

func TestFlow_CompleteBeforeStart(t *testing.T) {
	f := NewClient(Options{}).NewFlow("1", "")
	_, err := f.Complete(context.Background(), time.Second)
	assert.Error(t, err)
}

func TestFlowState_String(t *testing.T) {
	assert.Equal(t, "awaiting_redirect", FlowAwaitingRedirect.String())
	assert.Equal(t, "exchanged", FlowExchanged.String())
}
