// Package broker exchanges a Pipeboard API key for a Meta access token.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
	"github.com/pipeboard-co/meta-ads-mcp/internal/tokenstore"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBaseURL is the production Pipeboard endpoint.
	DefaultBaseURL = "https://mcp.pipeboard.co"

	// DefaultRefreshMargin is how close to expiry a cached token may get
	// before it is exchanged again.
	DefaultRefreshMargin = 5 * time.Minute

	// DefaultMaxUnknownAge is how long a token the broker returned without
	// an expiry is reused before it is exchanged again.
	DefaultMaxUnknownAge = time.Hour

	// exchangeTimeout bounds a shared exchange, which outlives the
	// caller that started it.
	exchangeTimeout = 30 * time.Second

	tokenPath = "/api/meta/token"
	authPath  = "/api/meta/auth"

	maxResponseBytes = 1 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	HTTPClient    *http.Client
	Store         tokenstore.Store
	RefreshMargin time.Duration
	MaxUnknownAge time.Duration
	Logger        *slog.Logger
}

// Client talks to the Pipeboard token broker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	store      tokenstore.Store
	margin     time.Duration
	maxUnknown time.Duration
	logger     *slog.Logger
	now        func() time.Time

	group singleflight.Group
}

// NewClient creates a broker client. Zero options fall back to the
// production endpoint, http.DefaultClient and an in-memory store.
func NewClient(opts Options) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		store:      opts.Store,
		margin:     opts.RefreshMargin,
		maxUnknown: opts.MaxUnknownAge,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.store == nil {
		c.store = tokenstore.NewMemoryStore()
	}
	if c.margin == 0 {
		c.margin = DefaultRefreshMargin
	}
	if c.maxUnknown == 0 {
		c.maxUnknown = DefaultMaxUnknownAge
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// BaseURL returns the broker root URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetToken returns a Meta access token for apiKey. A cached token with
// more than the refresh margin left is returned as is; otherwise the
// broker is asked for a fresh one. Concurrent callers for the same key
// share a single exchange, which keeps running if the caller that
// started it goes away; each caller still returns when its own ctx is
// done. force skips the cache.
func (c *Client) GetToken(ctx context.Context, apiKey string, force bool) (*models.TokenRecord, error) {
	if apiKey == "" {
		return nil, &Error{Kind: KindInvalidKey, URL: c.baseURL + tokenPath, Message: "empty api key"}
	}

	key := tokenstore.BrokerKey(apiKey)

	if !force {
		if rec := c.cached(ctx, key); rec != nil {
			return rec, nil
		}
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeTimeout)
		defer cancel()
		return c.exchange(xctx, apiKey, key)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	if res.Shared {
		c.logger.Debug("broker exchange shared with concurrent caller", slog.String("key", key.String()))
	}

	rec := *res.Val.(*models.TokenRecord)
	return &rec, nil
}

func (c *Client) cached(ctx context.Context, key tokenstore.Key) *models.TokenRecord {
	rec, err := c.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			c.logger.Warn("reading cached broker token", slog.String("error", err.Error()))
		}
		return nil
	}

	now := c.now()
	if rec.NeedsRefresh(now, c.margin) {
		return nil
	}
	if rec.Stale(now, c.maxUnknown) {
		c.logger.Debug("cached broker token has no expiry and is past its reuse window",
			slog.Time("obtained_at", rec.ObtainedAt),
		)
		return nil
	}

	return rec
}

// Clear drops the cached token for apiKey.
func (c *Client) Clear(ctx context.Context, apiKey string) error {
	return c.store.Clear(ctx, tokenstore.BrokerKey(apiKey))
}

func (c *Client) exchange(ctx context.Context, apiKey string, key tokenstore.Key) (*models.TokenRecord, error) {
	endpoint := c.baseURL + tokenPath

	body, err := c.do(ctx, http.MethodGet, tokenPath, apiKey)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)

	value := res.Get("access_token").String()
	if value == "" {
		value = res.Get("token").String()
	}
	if value == "" {
		return nil, &Error{Kind: KindBadResponse, URL: endpoint, Message: "response has no access_token"}
	}

	now := c.now()
	rec := &models.TokenRecord{
		Value:         value,
		Source:        models.SourceBroker,
		ObtainedAt:    now,
		ExpiresAt:     parseExpiry(res, now),
		ScopeIdentity: key.Identity,
	}

	if err := c.store.Save(ctx, key, rec); err != nil {
		c.logger.Warn("caching broker token", slog.String("error", err.Error()))
	}

	c.logger.Info("obtained token from broker",
		slog.String("token", rec.Redacted()),
		slog.Time("expires_at", rec.ExpiresAt),
	)

	return rec, nil
}

// parseExpiry reads expires_in (seconds from now) or expires_at (RFC 3339
// or unix seconds). A missing or unparseable value means unknown.
func parseExpiry(res gjson.Result, now time.Time) time.Time {
	if in := res.Get("expires_in"); in.Exists() && in.Int() > 0 {
		return now.Add(time.Duration(in.Int()) * time.Second)
	}

	at := res.Get("expires_at")
	switch at.Type {
	case gjson.Number:
		if at.Int() > 0 {
			return time.Unix(at.Int(), 0).UTC()
		}
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, at.Str); err == nil {
			return t
		}
		if n, err := strconv.ParseInt(at.Str, 10, 64); err == nil && n > 0 {
			return time.Unix(n, 0).UTC()
		}
	}

	return time.Time{}
}

// InitiateAuthFlow asks the broker for a URL where the user can connect
// a Meta account to apiKey.
func (c *Client) InitiateAuthFlow(ctx context.Context, apiKey string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, authPath, apiKey)
	if err != nil {
		return "", err
	}

	loginURL := gjson.GetBytes(body, "loginUrl").String()
	if loginURL == "" {
		return "", &Error{Kind: KindBadResponse, URL: c.baseURL + authPath, Message: "response has no loginUrl"}
	}

	return loginURL, nil
}

// WaitForToken polls the broker every interval until the account behind
// apiKey is linked, ctx ends, or a non-recoverable error occurs.
func (c *Client) WaitForToken(ctx context.Context, apiKey string, interval time.Duration) (*models.TokenRecord, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := c.GetToken(ctx, apiKey, true)
		if err == nil {
			return rec, nil
		}

		var be *Error
		if !errors.As(err, &be) || be.Kind != KindNotLinked {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for broker account link: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// do sends an authenticated request to path and returns the body of a 2xx
// response. Non-2xx statuses are classified into an *Error.
func (c *Client) do(ctx context.Context, method, path, apiKey string) ([]byte, error) {
	endpoint := c.baseURL + path
	q := url.Values{"api_token": {apiKey}}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the full URL including the api key.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, &Error{Kind: KindUnavailable, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, URL: endpoint, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	e := &Error{URL: endpoint, Status: resp.StatusCode, Message: errorMessage(body)}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindInvalidKey
	case http.StatusNotFound:
		e.Kind = KindNotLinked
	default:
		e.Kind = KindUnavailable
	}

	return nil, e
}

func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}

	return ""
}
