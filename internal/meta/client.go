// Package meta is a small Graph API client for the Marketing API calls
// the tools make.
package meta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/pipeboard-co/meta-ads-mcp/internal/tokenstore"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the versioned Graph API root.
	DefaultBaseURL = "https://graph.facebook.com/v22.0"

	defaultRateLimit = 10
	defaultRateBurst = 20
	limiterTTL       = 30 * time.Minute
	maxResponseBytes = 16 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// RateLimit is requests per second per access token.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Credentials authenticate one Graph call. AppSecret is optional; when
// set every request carries an appsecret_proof.
type Credentials struct {
	Token     string
	AppSecret string
}

// Client sends Graph API requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiters   *limiterStore
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	limit, burst := opts.RateLimit, opts.RateBurst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	c.limiters = newLimiterStore(rate.Limit(limit), burst, limiterTTL)

	return c
}

// Get issues a GET against path (relative to the versioned root).
func (c *Client) Get(ctx context.Context, cred Credentials, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, cred, path, params)
}

// Post issues a form-encoded POST.
func (c *Client) Post(ctx context.Context, cred Credentials, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, cred, path, params)
}

// Validate checks token against /me. It returns an error wrapping
// ErrAuthenticationExpired when Meta rejects the token.
func (c *Client) Validate(ctx context.Context, token string) error {
	body, err := c.Get(ctx, Credentials{Token: token}, "me", url.Values{"fields": {"id"}})
	if err != nil {
		return err
	}
	if gjson.GetBytes(body, "id").String() == "" {
		return fmt.Errorf("graph /me returned no id: %w", apperrors.ErrAPIResponse)
	}
	return nil
}

// AppSecretProof returns the HMAC-SHA256 of token keyed by secret.
func AppSecretProof(token, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method string, cred Credentials, path string, params url.Values) ([]byte, error) {
	if cred.Token == "" {
		return nil, fmt.Errorf("graph request without access token: %w", apperrors.ErrAuthenticationRequired)
	}

	if err := c.limiters.get(tokenstore.HashIdentity(cred.Token)).Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for graph rate limiter: %w", errors.Join(apperrors.ErrRateLimited, err))
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("access_token", cred.Token)
	if cred.AppSecret != "" {
		q.Set("appsecret_proof", AppSecretProof(cred.Token, cred.AppSecret))
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+q.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(q.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("creating graph request: %w", err)
	}

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the full URL including the access token.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("graph %s %s: %w", method, path, errors.Join(apperrors.ErrAPIRequest, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading graph response for %s: %w", path, errors.Join(apperrors.ErrAPIRequest, err))
	}

	c.logger.Debug("graph request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, body)
		c.logger.Warn("graph error",
			slog.String("path", path),
			slog.Int64("code", apiErr.Code),
			slog.String("fbtrace_id", apiErr.FBTraceID),
		)
		return nil, fmt.Errorf("graph %s %s: %w", method, path, apiErr)
	}

	return body, nil
}
