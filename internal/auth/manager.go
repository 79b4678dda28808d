package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipeboard-co/meta-ads-mcp/internal/broker"
	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
	"github.com/pipeboard-co/meta-ads-mcp/internal/oauth"
	"github.com/pipeboard-co/meta-ads-mcp/internal/tokenstore"
	"golang.org/x/sync/singleflight"
)

//go:generate mockgen -destination=mock_store_test.go -package=auth github.com/pipeboard-co/meta-ads-mcp/internal/tokenstore Store

const (
	// DefaultAuthTimeout bounds an interactive login.
	DefaultAuthTimeout = 120 * time.Second

	// DefaultRevalidateInterval is how often a cached token with unknown
	// expiry is checked against the Graph API.
	DefaultRevalidateInterval = time.Hour

	// DefaultBrokerPollInterval is the delay between checks while waiting
	// for the user to link a Meta account through the broker.
	DefaultBrokerPollInterval = 2 * time.Second

	// loginExchangeGrace leaves room for the code exchange after the
	// callback wait has used up the auth timeout.
	loginExchangeGrace = 30 * time.Second

	pipeboardSignupURL = "https://pipeboard.co"
)

// BrokerClient is the subset of the Pipeboard client the manager needs.
type BrokerClient interface {
	GetToken(ctx context.Context, apiKey string, force bool) (*models.TokenRecord, error)
	InitiateAuthFlow(ctx context.Context, apiKey string) (string, error)
	WaitForToken(ctx context.Context, apiKey string, interval time.Duration) (*models.TokenRecord, error)
	Clear(ctx context.Context, apiKey string) error
}

// OAuthClient is the subset of the direct OAuth client the manager needs.
type OAuthClient interface {
	AuthorizationURL(appID, redirectURI, state, verifier string) string
	NewFlow(appID, secret string) *oauth.Flow
}

// LoginFunc runs an interactive login for a Meta app and returns the
// token together with the consent URL that was offered.
type LoginFunc func(ctx context.Context, appID, secret string) (*models.TokenRecord, string, error)

// Validator checks whether a token is still accepted by Meta. It returns
// an error wrapping ErrAuthenticationExpired when the token is dead;
// other errors mean the check itself failed.
type Validator interface {
	Validate(ctx context.Context, token string) error
}

// Token is a resolved access token ready for a Graph API call.
type Token struct {
	Value     string
	Source    models.Source
	Method    Method
	ExpiresAt time.Time
}

// Options configures a Manager.
type Options struct {
	Store     tokenstore.Store
	Broker    BrokerClient
	OAuth     OAuthClient
	Validator Validator

	// Opener shows a URL to an interactive user. Defaults to
	// oauth.OpenBrowser.
	Opener oauth.Opener

	// Login overrides the interactive OAuth login, mainly for tests.
	Login LoginFunc

	CallbackPort       int
	RedirectURI        string
	AuthTimeout        time.Duration
	RevalidateInterval time.Duration
	BrokerPollInterval time.Duration

	Logger *slog.Logger
}

// Manager resolves a Context to an access token.
type Manager struct {
	store     tokenstore.Store
	broker    BrokerClient
	oauth     OAuthClient
	validator Validator
	opener    oauth.Opener
	login     LoginFunc

	callbackPort int
	redirectURI  string
	authTimeout  time.Duration
	revalidate   time.Duration
	brokerPoll   time.Duration

	logger *slog.Logger
	now    func() time.Time

	logins singleflight.Group
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:        opts.Store,
		broker:       opts.Broker,
		oauth:        opts.OAuth,
		validator:    opts.Validator,
		opener:       opts.Opener,
		login:        opts.Login,
		callbackPort: opts.CallbackPort,
		redirectURI:  opts.RedirectURI,
		authTimeout:  opts.AuthTimeout,
		revalidate:   opts.RevalidateInterval,
		brokerPoll:   opts.BrokerPollInterval,
		logger:       opts.Logger,
		now:          time.Now,
	}
	if m.store == nil {
		m.store = tokenstore.NewMemoryStore()
	}
	if m.opener == nil {
		m.opener = oauth.OpenBrowser
	}
	if m.callbackPort == 0 {
		m.callbackPort = oauth.DefaultCallbackPort
	}
	if m.authTimeout == 0 {
		m.authTimeout = DefaultAuthTimeout
	}
	if m.revalidate == 0 {
		m.revalidate = DefaultRevalidateInterval
	}
	if m.brokerPoll == 0 {
		m.brokerPoll = DefaultBrokerPollInterval
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.login == nil {
		m.login = m.oauthLogin
	}
	return m
}

type resolveOptions struct {
	forceLogin bool
}

// ResolveOption adjusts a single Resolve call.
type ResolveOption func(*resolveOptions)

// WithForceLogin discards any cached token for the resolved key and
// acquires a fresh one.
func WithForceLogin() ResolveOption {
	return func(o *resolveOptions) { o.forceLogin = true }
}

// Resolve returns the token the call should use. Authentication problems
// come back as *RequiredError; anything else is a transport failure.
func (m *Manager) Resolve(ctx context.Context, ac Context, caps Capabilities, opts ...ResolveOption) (*Token, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	method := ac.Method()

	switch method {
	case MethodDirectToken:
		return &Token{Value: ac.AccessToken, Source: models.SourceExplicit, Method: method}, nil
	case MethodBroker:
		return m.resolveBroker(ctx, ac, caps, o)
	case MethodCustomApp:
		return m.resolveApp(ctx, ac, caps, o)
	default:
		return nil, &RequiredError{
			Method: MethodNone,
			Reason: "no authentication configured",
			Action: fmt.Sprintf("Set %s (get one at %s), %s, or %s", EnvBrokerToken, pipeboardSignupURL, EnvAppID, EnvAccessToken),
		}
	}
}

func tokenFrom(rec *models.TokenRecord, method Method) *Token {
	return &Token{Value: rec.Value, Source: rec.Source, Method: method, ExpiresAt: rec.ExpiresAt}
}

func (m *Manager) resolveBroker(ctx context.Context, ac Context, caps Capabilities, o resolveOptions) (*Token, error) {
	if m.broker == nil {
		return nil, fmt.Errorf("broker authentication is not available: %w", apperrors.ErrAPIRequest)
	}

	if o.forceLogin {
		if err := m.broker.Clear(ctx, ac.BrokerToken); err != nil {
			m.logger.Warn("clearing cached broker token", slog.String("error", err.Error()))
		}
	}

	rec, err := m.broker.GetToken(ctx, ac.BrokerToken, o.forceLogin)
	if err == nil {
		return tokenFrom(rec, MethodBroker), nil
	}

	var be *broker.Error
	if !errors.As(err, &be) {
		return nil, err
	}

	switch be.Kind {
	case broker.KindInvalidKey:
		return nil, &RequiredError{
			Method:   MethodBroker,
			Reason:   "the Pipeboard API token was rejected",
			Action:   "Check the Pipeboard API token or create a new one",
			LoginURL: pipeboardSignupURL,
			Err:      err,
		}
	case broker.KindNotLinked:
		return m.linkBrokerAccount(ctx, ac, caps, err)
	default:
		return nil, err
	}
}

// linkBrokerAccount handles a valid broker key with no Meta account
// connected. Interactive callers get a browser and a bounded wait;
// everyone else gets the link.
func (m *Manager) linkBrokerAccount(ctx context.Context, ac Context, caps Capabilities, cause error) (*Token, error) {
	loginURL, err := m.broker.InitiateAuthFlow(ctx, ac.BrokerToken)
	if err != nil {
		m.logger.Warn("requesting broker login link", slog.String("error", err.Error()))
		loginURL = pipeboardSignupURL
	}

	required := &RequiredError{
		Method:   MethodBroker,
		Reason:   "no Meta account is connected to this Pipeboard token",
		Action:   "Open the link to connect your Meta ad account, then retry",
		LoginURL: loginURL,
		Err:      cause,
	}

	if !caps.Interactive {
		return nil, required
	}

	v, err := m.shared(ctx, "broker/"+tokenstore.HashIdentity(ac.BrokerToken), m.authTimeout, func(wctx context.Context) (any, error) {
		if err := m.opener(loginURL); err != nil {
			m.logger.Warn("could not open browser, visit the URL manually",
				slog.String("url", loginURL),
				slog.String("error", err.Error()),
			)
		}

		return m.broker.WaitForToken(wctx, ac.BrokerToken, m.brokerPoll)
	})
	if err != nil {
		required.Err = err
		return nil, required
	}

	return tokenFrom(v.(*models.TokenRecord), MethodBroker), nil
}

// shared runs fn once per key for all concurrent callers. fn gets a
// context detached from the first caller and bounded by timeout, so one
// caller giving up does not fail the others; each caller returns when its
// own ctx is done.
func (m *Manager) shared(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) (any, error)) (any, error) {
	ch := m.logins.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(sctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (m *Manager) resolveApp(ctx context.Context, ac Context, caps Capabilities, o resolveOptions) (*Token, error) {
	key := tokenstore.AppKey(ac.AppID)
	if err := key.Validate(); err != nil {
		return nil, &RequiredError{Method: MethodCustomApp, Reason: "invalid Meta app ID", Action: "Check META_APP_ID", Err: err}
	}

	if o.forceLogin {
		m.clear(ctx, key)
	} else if rec := m.cachedApp(ctx, key, ac.AppID); rec != nil {
		return tokenFrom(rec, MethodCustomApp), nil
	}

	if !caps.Interactive {
		return nil, &RequiredError{
			Method:   MethodCustomApp,
			Reason:   "no cached token for Meta app " + ac.AppID,
			Action:   "Open the link to authorize the app, or run meta-ads-mcp --login",
			LoginURL: m.authorizationURL(ac.AppID),
		}
	}

	v, err := m.shared(ctx, "app/"+ac.AppID, m.authTimeout+loginExchangeGrace, func(lctx context.Context) (any, error) {
		rec, authURL, err := m.login(lctx, ac.AppID, ac.AppSecret)
		if err != nil {
			if authURL == "" {
				authURL = m.authorizationURL(ac.AppID)
			}
			return nil, &RequiredError{
				Method:   MethodCustomApp,
				Reason:   "Meta login did not complete",
				Action:   "Open the link to authorize the app, then retry",
				LoginURL: authURL,
				Err:      err,
			}
		}

		if err := m.store.Save(lctx, key, rec); err != nil {
			m.logger.Warn("caching oauth token", slog.String("error", err.Error()))
		}

		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	return tokenFrom(v.(*models.TokenRecord), MethodCustomApp), nil
}

// cachedApp returns a usable cached token for appID, clearing records that
// belong to another app, have expired, or fail live validation.
func (m *Manager) cachedApp(ctx context.Context, key tokenstore.Key, appID string) *models.TokenRecord {
	rec, err := m.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			m.logger.Warn("reading cached oauth token", slog.String("error", err.Error()))
		}
		return nil
	}

	now := m.now()

	if rec.ScopeIdentity != appID {
		m.logger.Info("discarding token issued for a different app",
			slog.String("app_id", appID),
			slog.String("cached_for", rec.ScopeIdentity),
		)
		m.clear(ctx, key)
		return nil
	}

	if rec.Expired(now) {
		m.logger.Info("cached oauth token expired", slog.String("app_id", appID))
		m.clear(ctx, key)
		return nil
	}

	if rec.HasExpiry() || m.validator == nil || now.Sub(rec.CheckedAt) < m.revalidate {
		return rec
	}

	err = m.validator.Validate(ctx, rec.Value)
	switch {
	case err == nil:
		rec.CheckedAt = now
		if err := m.store.Save(ctx, key, rec); err != nil {
			m.logger.Warn("recording token validation", slog.String("error", err.Error()))
		}
	case errors.Is(err, apperrors.ErrAuthenticationExpired):
		m.logger.Info("cached oauth token rejected by Meta", slog.String("app_id", appID))
		m.clear(ctx, key)
		return nil
	default:
		m.logger.Warn("could not validate cached token, using it anyway", slog.String("error", err.Error()))
	}

	return rec
}

func (m *Manager) clear(ctx context.Context, key tokenstore.Key) {
	if err := m.store.Clear(ctx, key); err != nil {
		m.logger.Warn("clearing cached token", slog.String("key", key.String()), slog.String("error", err.Error()))
	}
}

func (m *Manager) authorizationURL(appID string) string {
	if m.oauth == nil {
		return ""
	}

	redirect := m.redirectURI
	if redirect == "" {
		redirect = fmt.Sprintf("http://localhost:%d/callback", m.callbackPort)
	}

	return m.oauth.AuthorizationURL(appID, redirect, oauth.NewState(), "")
}

// oauthLogin is the default LoginFunc: a full browser flow bounded by the
// auth timeout.
func (m *Manager) oauthLogin(ctx context.Context, appID, secret string) (*models.TokenRecord, string, error) {
	if m.oauth == nil {
		return nil, "", errors.New("oauth client not configured")
	}

	flow := m.oauth.NewFlow(appID, secret)
	rec, err := flow.Run(ctx, m.callbackPort, m.authTimeout, m.opener)

	return rec, flow.AuthURL(), err
}

// Invalidate drops the cached token behind ac, typically after Meta
// answered 401. Explicit tokens are not cached and are left alone.
func (m *Manager) Invalidate(ctx context.Context, ac Context) {
	switch ac.Method() {
	case MethodBroker:
		if m.broker != nil {
			if err := m.broker.Clear(ctx, ac.BrokerToken); err != nil {
				m.logger.Warn("clearing cached broker token", slog.String("error", err.Error()))
			}
		}
	case MethodCustomApp:
		m.clear(ctx, tokenstore.AppKey(ac.AppID))
	}
}

// LoginURL returns where the user should go to (re)authorize ac.
func (m *Manager) LoginURL(ctx context.Context, ac Context) (string, error) {
	switch ac.Method() {
	case MethodBroker:
		if m.broker == nil {
			return pipeboardSignupURL, nil
		}
		return m.broker.InitiateAuthFlow(ctx, ac.BrokerToken)
	case MethodCustomApp:
		return m.authorizationURL(ac.AppID), nil
	case MethodDirectToken:
		return "", errors.New("an explicit access token is configured; no login is needed")
	default:
		return pipeboardSignupURL, nil
	}
}

// Login runs an interactive acquisition for ac, ignoring any cached
// token. Used by the --login command.
func (m *Manager) Login(ctx context.Context, ac Context) (*Token, error) {
	return m.Resolve(ctx, ac, Capabilities{Interactive: true}, WithForceLogin())
}
