package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pipeboard-co/meta-ads-mcp/internal/auth"
	"github.com/pipeboard-co/meta-ads-mcp/internal/broker"
	"github.com/pipeboard-co/meta-ads-mcp/internal/config"
	"github.com/pipeboard-co/meta-ads-mcp/internal/logging"
	"github.com/pipeboard-co/meta-ads-mcp/internal/mcpserver"
	"github.com/pipeboard-co/meta-ads-mcp/internal/meta"
	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
	"github.com/pipeboard-co/meta-ads-mcp/internal/oauth"
	"github.com/pipeboard-co/meta-ads-mcp/internal/server"
	"github.com/pipeboard-co/meta-ads-mcp/internal/tokenstore"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	opts, err := parseFlags(cfg, os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}

	if opts.version {
		fmt.Printf("meta-ads-mcp %s\n", Version)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel, os.Stderr)
	logger.Info("meta-ads-mcp starting",
		slog.String("version", Version),
		slog.String("transport", cfg.Transport),
		slog.String("token_store", cfg.TokenStore),
	)

	if cfg.Transport == config.TransportStdio && opts.httpFlagsSet {
		logger.Warn("--port, --host and --sse-response are ignored with the stdio transport")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case opts.login:
		return runLogin(ctx, a, cfg, logger)
	case cfg.Transport == config.TransportStreamableHTTP:
		return runHTTP(ctx, a, cfg, logger)
	default:
		return runStdio(ctx, a, cfg, logger)
	}
}

// app holds the long-lived clients shared by every transport.
type app struct {
	store   *tokenstore.Fallback
	manager *auth.Manager
	graph   *meta.Client
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := tokenstore.Open(tokenstore.Options{
		Backend: cfg.TokenStore,
		Dir:     cfg.TokenCacheDir,
		Key:     cfg.TokenCacheKey,
	}, logger.With(slog.String("component", "tokenstore")))
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	graph := meta.NewClient(meta.Options{
		BaseURL:   cfg.GraphBaseURL(),
		RateLimit: cfg.GraphRateLimit,
		RateBurst: cfg.GraphRateBurst,
		Logger:    logger.With(slog.String("component", "graph")),
	})

	brokerClient := broker.NewClient(broker.Options{
		BaseURL:       cfg.PipeboardAPIBase,
		Store:         store,
		RefreshMargin: cfg.RefreshMargin,
		MaxUnknownAge: cfg.RevalidateInterval,
		Logger:        logger.With(slog.String("component", "broker")),
	})

	oauthClient := oauth.NewClient(oauth.Options{
		GraphURL:     cfg.GraphURL,
		GraphVersion: cfg.GraphVersion,
		Logger:       logger.With(slog.String("component", "oauth")),
	})

	manager := auth.NewManager(auth.Options{
		Store:              store,
		Broker:             brokerClient,
		OAuth:              oauthClient,
		Validator:          graph,
		CallbackPort:       cfg.CallbackPort,
		RedirectURI:        cfg.RedirectURI,
		AuthTimeout:        cfg.AuthTimeout,
		RevalidateInterval: cfg.RevalidateInterval,
		Logger:             logger.With(slog.String("component", "auth")),
	})

	return &app{store: store, manager: manager, graph: graph}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) mcpServer(creds mcpserver.CredentialSource, interactive bool, logger *slog.Logger) *mcp.Server {
	s := mcp.NewServer(
		&mcp.Implementation{Name: "meta-ads-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(s, &mcpserver.Deps{
		Auth:        a.manager,
		Graph:       a.graph,
		Credentials: creds,
		Interactive: interactive,
		Logger:      logger.With(slog.String("component", "tools")),
	})
	return s
}

// processContext is the credential context for single-user transports.
func processContext(cfg *config.Config) auth.Context {
	return auth.Context{
		AccessToken: cfg.AccessToken,
		BrokerToken: cfg.PipeboardToken,
		AppID:       cfg.AppID,
		AppSecret:   cfg.AppSecret,
	}
}

// runStdio serves one client over stdin/stdout. When a broker token is
// configured, the Meta account link is checked in the background so the
// first tool call does not wait for it.
func runStdio(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) error {
	ac := processContext(cfg)
	logger.Info("serving MCP over stdio", slog.String("auth_method", string(ac.Method())))

	s := a.mcpServer(mcpserver.EnvCredentials(ac), true, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		err := s.Run(gctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, io.EOF) && gctx.Err() == nil {
			return fmt.Errorf("stdio server: %w", err)
		}
		return nil
	})

	if ac.Method() == auth.MethodBroker {
		g.Go(func() error {
			warmBrokerToken(gctx, a.manager, ac, logger)
			return nil
		})
	}

	return g.Wait()
}

func warmBrokerToken(ctx context.Context, m *auth.Manager, ac auth.Context, logger *slog.Logger) {
	tok, err := m.Resolve(ctx, ac, auth.Capabilities{Interactive: true})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var required *auth.RequiredError
		if errors.As(err, &required) && required.LoginURL != "" {
			logger.Warn("Meta account not connected yet, tools will return a login link",
				slog.String("login_url", required.LoginURL),
			)
			return
		}
		logger.Warn("could not obtain a broker token at startup", slog.String("error", err.Error()))
		return
	}

	logger.Info("broker token ready",
		slog.String("source", string(tok.Source)),
		slog.Time("expires_at", tok.ExpiresAt),
	)
}

// runHTTP serves the stateless streamable HTTP transport. Credentials
// come from each request's headers; the process environment only
// supplies the app secret.
func runHTTP(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) error {
	httpLogger := logger.With(slog.String("service", "http"))
	warnExposedAppTokens(cfg, httpLogger)

	s := a.mcpServer(mcpserver.HeaderCredentials(cfg.AppID, cfg.AppSecret), false, logger)

	srv := server.New(cfg.ListenAddr(), server.NewMux(server.MuxConfig{
		MCPServer:   s,
		SSEResponse: cfg.SSEResponse,
		Logger:      httpLogger,
	}))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		httpLogger.Info("starting MCP server",
			slog.String("listen", cfg.ListenAddr()),
			slog.Bool("sse_response", cfg.SSEResponse),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		httpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// warnExposedAppTokens flags a non-loopback HTTP listener: a Meta app ID
// is public, so any caller that sends it in X-META-APP-ID is served the
// OAuth token cached for that app on this host.
func warnExposedAppTokens(cfg *config.Config, logger *slog.Logger) {
	if cfg.LoopbackHost() {
		return
	}
	logger.Warn("HTTP transport is reachable beyond this host; cached Meta app tokens are served to any caller that sends the app ID",
		slog.String("host", cfg.Host),
		slog.String("header", auth.HeaderAppID),
	)
}

// runLogin acquires and caches a token for the configured credentials,
// opening the browser when needed.
func runLogin(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) error {
	ac := processContext(cfg)

	switch ac.Method() {
	case auth.MethodNone:
		return fmt.Errorf("nothing to log in with: set %s or %s (or pass --app-id)", auth.EnvBrokerToken, auth.EnvAppID)
	case auth.MethodDirectToken:
		return fmt.Errorf("%s is set; an explicit token needs no login", auth.EnvAccessToken)
	}

	logger.Info("starting login", slog.String("auth_method", string(ac.Method())))

	tok, err := a.manager.Login(ctx, ac)
	if err != nil {
		var required *auth.RequiredError
		if errors.As(err, &required) && required.LoginURL != "" {
			return fmt.Errorf("login did not complete, finish it at %s: %w", required.LoginURL, err)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	expiry := "unknown"
	if !tok.ExpiresAt.IsZero() {
		expiry = tok.ExpiresAt.Format(time.RFC3339)
	}
	fmt.Fprintf(os.Stderr, "Login successful. Token %s cached (source %s, expires %s).\n",
		models.Redact(tok.Value), tok.Source, expiry)

	if a.store.Degraded() {
		logger.Warn("token store is degraded, the token is only held in memory and will be lost on exit")
	}

	return nil
}
