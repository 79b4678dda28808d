// Package oauth implements the authorization code flow against a
// user-registered Meta app: URL construction, a loopback redirect
// listener, code exchange and the long-lived token upgrade.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	// DefaultGraphVersion is the Graph API version used for dialog and
	// token endpoints.
	DefaultGraphVersion = "v22.0"

	// DefaultDialogURL hosts the consent dialog.
	DefaultDialogURL = "https://www.facebook.com"

	// DefaultGraphURL hosts the token endpoint.
	DefaultGraphURL = "https://graph.facebook.com"

	maxResponseBytes = 1 << 20
)

// Scopes requested from Meta.
var Scopes = []string{"business_management", "public_profile", "ads_management", "ads_read"}

// Options configures a Client.
type Options struct {
	GraphURL     string
	DialogURL    string
	GraphVersion string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client builds authorization URLs and redeems codes. Each code is
// redeemed at most once per Client.
type Client struct {
	graphURL   string
	dialogURL  string
	version    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	redeemed map[string]struct{}
}

// NewClient creates a Client. Zero options select the production Meta
// endpoints.
func NewClient(opts Options) *Client {
	c := &Client{
		graphURL:   strings.TrimRight(opts.GraphURL, "/"),
		dialogURL:  strings.TrimRight(opts.DialogURL, "/"),
		version:    opts.GraphVersion,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		now:        time.Now,
		redeemed:   make(map[string]struct{}),
	}
	if c.graphURL == "" {
		c.graphURL = DefaultGraphURL
	}
	if c.dialogURL == "" {
		c.dialogURL = DefaultDialogURL
	}
	if c.version == "" {
		c.version = DefaultGraphVersion
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

func (c *Client) tokenURL() string {
	return c.graphURL + "/" + c.version + "/oauth/access_token"
}

func (c *Client) config(appID, secret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     appID,
		ClientSecret: secret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.dialogURL + "/" + c.version + "/dialog/oauth",
			TokenURL:  c.tokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NewState returns a random, URL-safe state value.
func NewState() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewVerifier returns a PKCE code verifier.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthorizationURL returns the consent dialog URL. The output depends
// only on its inputs. A non-empty verifier adds an S256 PKCE challenge.
func (c *Client) AuthorizationURL(appID, redirectURI, state, verifier string) string {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return c.config(appID, "", redirectURI).AuthCodeURL(state, opts...)
}

// markRedeemed records code and reports whether it was already used.
func (c *Client) markRedeemed(appID, code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := appID + "\x00" + code
	if _, ok := c.redeemed[k]; ok {
		return true
	}
	c.redeemed[k] = struct{}{}
	return false
}

// ExchangeCode redeems an authorization code. redirectURI must match the
// one used to build the authorization URL. A second attempt with the
// same code fails without contacting Meta.
func (c *Client) ExchangeCode(ctx context.Context, appID, secret, code, redirectURI, verifier string) (*models.TokenRecord, error) {
	if code == "" {
		return nil, &ExchangeError{Description: "empty authorization code"}
	}

	if c.markRedeemed(appID, code) {
		return nil, &ExchangeError{Code: "code_reused", Description: "authorization code was already redeemed"}
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.config(appID, secret, redirectURI).Exchange(ctx, code, opts...)
	if err != nil {
		return nil, exchangeError(err)
	}

	rec := &models.TokenRecord{
		Value:         tok.AccessToken,
		Source:        models.SourceDirectOAuth,
		ObtainedAt:    c.now(),
		ExpiresAt:     tok.Expiry,
		ScopeIdentity: appID,
	}

	c.logger.Info("exchanged authorization code",
		slog.String("app_id", appID),
		slog.String("token", rec.Redacted()),
	)

	return rec, nil
}

func exchangeError(err error) *ExchangeError {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return &ExchangeError{Err: err}
	}

	e := &ExchangeError{Code: re.ErrorCode, Description: re.ErrorDescription}
	if re.Response != nil {
		e.Status = re.Response.StatusCode
	}

	// Meta nests errors: {"error":{"message":...,"type":...,"code":...}}.
	if msg := gjson.GetBytes(re.Body, "error.message"); msg.Exists() {
		e.Description = msg.String()
		if e.Code == "" {
			e.Code = gjson.GetBytes(re.Body, "error.type").String()
		}
	}

	if e.Code == "" && e.Description == "" {
		e.Err = err
	}

	return e
}

// ExchangeLongLived trades a short-lived user token for a long-lived one
// (about 60 days). Requires the app secret.
func (c *Client) ExchangeLongLived(ctx context.Context, appID, secret, shortToken string) (*models.TokenRecord, error) {
	if secret == "" {
		return nil, &ExchangeError{Description: "app secret required for long-lived exchange"}
	}

	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {appID},
		"client_secret":     {secret},
		"fb_exchange_token": {shortToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tokenURL()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &ExchangeError{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, &ExchangeError{Description: "long-lived exchange request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ExchangeError{Status: resp.StatusCode, Err: err}
	}

	res := gjson.ParseBytes(body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ExchangeError{
			Status:      resp.StatusCode,
			Code:        res.Get("error.type").String(),
			Description: res.Get("error.message").String(),
		}
	}

	value := res.Get("access_token").String()
	if value == "" {
		return nil, &ExchangeError{Status: resp.StatusCode, Description: "response has no access_token"}
	}

	now := c.now()
	rec := &models.TokenRecord{
		Value:         value,
		Source:        models.SourceDirectOAuth,
		ObtainedAt:    now,
		ScopeIdentity: appID,
	}
	if in := res.Get("expires_in").Int(); in > 0 {
		rec.ExpiresAt = now.Add(time.Duration(in) * time.Second)
	}

	return rec, nil
}
