package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWarnExposedAppTokens(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := baseConfig()
	warnExposedAppTokens(cfg, logger)
	assert.Empty(t, buf.String())

	cfg.Host = "0.0.0.0"
	warnExposedAppTokens(cfg, logger)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "header=X-Meta-App-Id")
}
