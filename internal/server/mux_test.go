package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pipeboard-co/meta-ads-mcp/internal/auth"
	"github.com/pipeboard-co/meta-ads-mcp/internal/broker"
	"github.com/pipeboard-co/meta-ads-mcp/internal/mcpserver"
	"github.com/pipeboard-co/meta-ads-mcp/internal/meta"
	"github.com/pipeboard-co/meta-ads-mcp/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// syncBuffer is a bytes.Buffer safe for the server's goroutines to log
// into while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	server      *httptest.Server
	brokerCalls *atomic.Int32
	graphCalls  *atomic.Int32
	logs        *syncBuffer
}

// newTestEnv wires the real auth manager, broker and Graph clients behind
// the HTTP mux. The broker knows one API key, pb_key; the Graph stand-in
// accepts only the token the broker issues for it.
func newTestEnv(t *testing.T, sse bool) *testEnv {
	t.Helper()

	env := &testEnv{
		brokerCalls: &atomic.Int32{},
		graphCalls:  &atomic.Int32{},
		logs:        &syncBuffer{},
	}

	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.brokerCalls.Add(1)
		if r.URL.Query().Get("api_token") != "pb_key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid api token"}`))
			return
		}
		w.Write([]byte(`{"access_token":"EAABbroker","expires_in":3600}`))
	}))
	t.Cleanup(brokerSrv.Close)

	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.graphCalls.Add(1)
		if r.URL.Query().Get("access_token") != "EAABbroker" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","code":190}}`))
			return
		}
		w.Write([]byte(`{"data":[{"id":"act_1","name":"Main"}]}`))
	}))
	t.Cleanup(graphSrv.Close)

	logger := slog.New(slog.NewTextHandler(env.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mgr := auth.NewManager(auth.Options{
		Broker: broker.NewClient(broker.Options{BaseURL: brokerSrv.URL, HTTPClient: brokerSrv.Client()}),
		OAuth:  oauth.NewClient(oauth.Options{}),
	})

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "meta-ads-mcp-test", Version: "test"}, nil)
	mcpserver.RegisterTools(mcpServer, &mcpserver.Deps{
		Auth:        mgr,
		Graph:       meta.NewClient(meta.Options{BaseURL: graphSrv.URL + "/v22.0", HTTPClient: graphSrv.Client()}),
		Credentials: mcpserver.HeaderCredentials("", ""),
	})

	env.server = httptest.NewServer(NewMux(MuxConfig{MCPServer: mcpServer, SSEResponse: sse, Logger: logger}))
	t.Cleanup(env.server.Close)

	return env
}

// callTool posts one tools/call request and returns the raw response.
func (e *testEnv) callTool(t *testing.T, headers http.Header, name string) *http.Response {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": map[string]any{}},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/mcp", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return resp
}

// toolText returns the text content of a JSON tools/call response.
func (e *testEnv) toolText(t *testing.T, headers http.Header, name string) string {
	t.Helper()
	resp := e.callTool(t, headers, name)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := gjson.GetBytes(body, "result.content.0.text")
	require.True(t, text.Exists(), "unexpected response: %s", body)
	return text.String()
}

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)

	resp, err := env.server.Client().Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMCP_SequentialCallsResolveIndependently(t *testing.T) {
	env := newTestEnv(t, false)

	// Broker token via Authorization header.
	text := env.toolText(t, header("Authorization", "Bearer pb_key"), "get_ad_accounts")
	assert.Equal(t, "act_1", gjson.Get(text, "data.0.id").String())
	assert.Equal(t, int32(1), env.graphCalls.Load())

	// Custom app ID on the next request must not inherit the broker token.
	text = env.toolText(t, header(auth.HeaderAppID, "123456"), "get_ad_accounts")
	assert.Equal(t, "Authentication Required", gjson.Get(text, "error.message").String())
	loginURL := gjson.Get(text, "error.details.login_url").String()
	assert.Contains(t, loginURL, "client_id=123456")
	assert.Equal(t, int32(1), env.graphCalls.Load())

	// And back: the broker token still works, served from cache.
	text = env.toolText(t, header(auth.HeaderBrokerToken, "pb_key"), "get_ad_accounts")
	assert.Equal(t, "act_1", gjson.Get(text, "data.0.id").String())
	assert.Equal(t, int32(1), env.brokerCalls.Load())
}

func TestMCP_NoCredentials(t *testing.T) {
	env := newTestEnv(t, false)

	text := env.toolText(t, nil, "get_ad_accounts")
	assert.Equal(t, "Authentication Required", gjson.Get(text, "error.message").String())
	assert.Zero(t, env.brokerCalls.Load())
	assert.Zero(t, env.graphCalls.Load())
}

func TestMCP_RawAccessTokenHeaderIsIgnored(t *testing.T) {
	env := newTestEnv(t, false)

	text := env.toolText(t, header(auth.HeaderAccessToken, "EAABbroker"), "get_ad_accounts")
	assert.Equal(t, "Authentication Required", gjson.Get(text, "error.message").String())
	assert.Zero(t, env.graphCalls.Load())
	assert.NotContains(t, env.logs.String(), "EAABbroker")
}

func TestMCP_InvalidBrokerKey(t *testing.T) {
	env := newTestEnv(t, false)

	text := env.toolText(t, header("Authorization", "Bearer pb_wrong"), "get_ad_accounts")
	assert.Equal(t, "Authentication Required", gjson.Get(text, "error.message").String())
	assert.NotEmpty(t, gjson.Get(text, "error.details.login_url").String())
	assert.Zero(t, env.graphCalls.Load())
	assert.NotContains(t, env.logs.String(), "pb_wrong")
}

func TestMCP_SSEResponse(t *testing.T) {
	env := newTestEnv(t, true)

	resp := env.callTool(t, header("Authorization", "Bearer pb_key"), "get_ad_accounts")
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "act_1")
}

func TestMCP_RequestsAreLogged(t *testing.T) {
	env := newTestEnv(t, false)

	env.toolText(t, header("Authorization", "Bearer pb_key"), "get_ad_accounts")

	logs := env.logs.String()
	assert.Contains(t, logs, "request completed")
	assert.Contains(t, logs, "auth_method=broker_token")
	assert.NotContains(t, logs, "pb_key")
}
