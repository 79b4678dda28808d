// Package server provides HTTP server construction for the streamable
// HTTP transport.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pipeboard-co/meta-ads-mcp/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	MCPServer *mcp.Server

	// SSEResponse answers tool calls as text/event-stream instead of a
	// single JSON body.
	SSEResponse bool

	Logger *slog.Logger
}

// NewMux builds the HTTP mux with the MCP endpoint and a health check.
// The MCP endpoint is stateless: no session is kept between requests and
// every call reads its credentials from its own headers.
func NewMux(cfg MuxConfig) *http.ServeMux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return cfg.MCPServer
	}, &mcp.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: !cfg.SSEResponse,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/mcp", auth.HeaderMiddleware(logger)(LoggingMiddleware(logger)(mcpHandler)))

	return mux
}

// New returns an http.Server for addr with conservative timeouts.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
