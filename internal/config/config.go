package config

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transport names accepted by MCP_TRANSPORT and --transport.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// Token store backends accepted by TOKEN_STORE.
const (
	StoreFile   = "file"
	StoreBolt   = "bolt"
	StoreMemory = "memory"
)

// minAuthTimeout is the shortest interactive login window we accept.
// Anything shorter does not leave a person time to finish a browser
// consent screen.
const minAuthTimeout = 10 * time.Second

// Config holds all environment-based configuration for meta-ads-mcp.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Credential selection for the stdio transport. Under the HTTP
	// transport these are ignored in favour of request headers, except
	// AppSecret which is only ever read from the environment.
	PipeboardToken string `env:"PIPEBOARD_API_TOKEN"`
	AppID          string `env:"META_APP_ID"`
	AppSecret      string `env:"META_APP_SECRET"`
	AccessToken    string `env:"META_ACCESS_TOKEN"`

	// Token broker.
	PipeboardAPIBase string `env:"PIPEBOARD_API_BASE" envDefault:"https://mcp.pipeboard.co"`

	// Meta Graph API and OAuth.
	GraphVersion string `env:"META_GRAPH_VERSION" envDefault:"v22.0"`
	GraphURL     string `env:"META_GRAPH_URL" envDefault:"https://graph.facebook.com"`
	RedirectURI  string `env:"META_REDIRECT_URI"`
	CallbackPort int    `env:"OAUTH_CALLBACK_PORT" envDefault:"8888"`

	// Token lifecycle.
	AuthTimeout        time.Duration `env:"AUTH_TIMEOUT" envDefault:"120s"`
	RefreshMargin      time.Duration `env:"REFRESH_MARGIN" envDefault:"5m"`
	RevalidateInterval time.Duration `env:"REVALIDATE_INTERVAL" envDefault:"1h"`

	// Credential store.
	TokenStore    string `env:"TOKEN_STORE" envDefault:"file"`
	TokenCacheDir string `env:"TOKEN_CACHE_DIR"`
	TokenCacheKey string `env:"TOKEN_CACHE_KEY"`

	// Outbound Graph API rate limiting (requests per second, burst).
	GraphRateLimit float64 `env:"GRAPH_RATE_LIMIT" envDefault:"10"`
	GraphRateBurst int     `env:"GRAPH_RATE_BURST" envDefault:"20"`

	// MCP transport settings.
	Transport   string `env:"MCP_TRANSPORT" envDefault:"stdio"`
	Host        string `env:"MCP_HOST" envDefault:"localhost"`
	Port        int    `env:"MCP_PORT" envDefault:"8080"`
	SSEResponse bool   `env:"MCP_SSE_RESPONSE" envDefault:"false"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints. It is exported so that the
// CLI can re-run it after applying flag overrides.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		return fmt.Errorf("MCP_TRANSPORT must be %q or %q, got %q", TransportStdio, TransportStreamableHTTP, c.Transport)
	}

	switch c.TokenStore {
	case StoreFile, StoreBolt, StoreMemory:
	default:
		return fmt.Errorf("TOKEN_STORE must be one of file, bolt, memory, got %q", c.TokenStore)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("MCP_PORT out of range: %d", c.Port)
	}

	// Port 0 asks the OS for an ephemeral callback port.
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("OAUTH_CALLBACK_PORT out of range: %d", c.CallbackPort)
	}

	if c.AuthTimeout < minAuthTimeout {
		return fmt.Errorf("AUTH_TIMEOUT must be at least %s, got %s", minAuthTimeout, c.AuthTimeout)
	}

	if c.RefreshMargin < 0 {
		return fmt.Errorf("REFRESH_MARGIN must not be negative")
	}

	if c.GraphRateLimit <= 0 || c.GraphRateBurst <= 0 {
		return fmt.Errorf("GRAPH_RATE_LIMIT and GRAPH_RATE_BURST must be positive")
	}

	if !strings.HasPrefix(c.GraphVersion, "v") {
		return fmt.Errorf("META_GRAPH_VERSION must look like v22.0, got %q", c.GraphVersion)
	}

	for name, raw := range map[string]string{
		"PIPEBOARD_API_BASE": c.PipeboardAPIBase,
		"META_GRAPH_URL":     c.GraphURL,
		"META_REDIRECT_URI":  c.RedirectURI,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not an absolute URL: %q", name, raw)
		}
	}

	if c.AppSecret != "" && c.AppID == "" {
		return fmt.Errorf("META_APP_SECRET is set without META_APP_ID")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ListenAddr returns the host:port the HTTP transport binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoopbackHost reports whether the HTTP transport only accepts local
// connections.
func (c *Config) LoopbackHost() bool {
	if strings.EqualFold(c.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(c.Host)
	return ip != nil && ip.IsLoopback()
}

// GraphBaseURL returns the versioned Graph API root, e.g.
// https://graph.facebook.com/v22.0.
func (c *Config) GraphBaseURL() string {
	return strings.TrimRight(c.GraphURL, "/") + "/" + c.GraphVersion
}

// CallbackRedirectURI returns the redirect URI registered with the Meta
// app for the given local callback port. An explicit META_REDIRECT_URI
// wins.
func (c *Config) CallbackRedirectURI(port int) string {
	if c.RedirectURI != "" {
		return c.RedirectURI
	}
	return fmt.Sprintf("http://localhost:%d/callback", port)
}
