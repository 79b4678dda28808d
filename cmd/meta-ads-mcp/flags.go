package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/pipeboard-co/meta-ads-mcp/internal/config"
)

// cliOptions are the flags that select a command rather than configure one.
type cliOptions struct {
	login   bool
	version bool

	// httpFlagsSet records whether any HTTP-only flag was given.
	httpFlagsSet bool
}

// parseFlags applies command-line overrides on top of cfg. Flag defaults
// are the values already loaded from the environment, so a flag only
// changes what it names.
func parseFlags(cfg *config.Config, args []string, stderr io.Writer) (*cliOptions, error) {
	opts := &cliOptions{}

	fs := flag.NewFlagSet("meta-ads-mcp", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&opts.login, "login", false, "authenticate with Meta, cache the token and exit")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")
	fs.StringVar(&cfg.AppID, "app-id", cfg.AppID, "Meta app ID for direct OAuth (overrides META_APP_ID)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport: stdio or streamable-http")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "port for the streamable HTTP transport")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "host for the streamable HTTP transport")
	fs.BoolVar(&cfg.SSEResponse, "sse-response", cfg.SSEResponse, "answer HTTP tool calls as SSE instead of JSON")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: meta-ads-mcp [flags]\n\nMCP server for the Meta Ads API.\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port", "host", "sse-response":
			opts.httpFlagsSet = true
		}
	})

	return opts, nil
}
