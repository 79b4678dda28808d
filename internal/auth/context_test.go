package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Method(t *testing.T) {
	tests := []struct {
		name string
		ac   Context
		want Method
	}{
		{"empty", Context{}, MethodNone},
		{"app only", Context{AppID: "1"}, MethodCustomApp},
		{"broker only", Context{BrokerToken: "pb"}, MethodBroker},
		{"broker and app", Context{BrokerToken: "pb", AppID: "1"}, MethodBroker},
		{"everything", Context{AccessToken: "EAAB", BrokerToken: "pb", AppID: "1"}, MethodDirectToken},
		{"secret alone", Context{AppSecret: "s"}, MethodNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ac.Method())
		})
	}
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		EnvBrokerToken: " pb_key ",
		EnvAppID:       "123",
		EnvAppSecret:   "s3cret",
		EnvAccessToken: "",
	}

	ac := FromEnv(func(k string) string { return env[k] })
	assert.Equal(t, Context{BrokerToken: "pb_key", AppID: "123", AppSecret: "s3cret"}, ac)
	assert.Equal(t, MethodBroker, ac.Method())
}

func TestFromHeaders_Bearer(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer pb_bearer")
	h.Set(HeaderBrokerToken, "pb_header")
	h.Set(HeaderAppID, "123")

	ac := FromHeaders(h)
	assert.Equal(t, "pb_bearer", ac.BrokerToken)
	assert.Equal(t, "123", ac.AppID)
}

func TestFromHeaders_PipeboardHeader(t *testing.T) {
	h := http.Header{}
	h.Set("X-PIPEBOARD-API-TOKEN", "pb_header")

	assert.Equal(t, "pb_header", FromHeaders(h).BrokerToken)
}

func TestFromHeaders_IgnoresSecretsAndTokens(t *testing.T) {
	h := http.Header{}
	h.Set("X-META-APP-ID", "123")
	h.Set("X-META-APP-SECRET", "s3cret")
	h.Set("X-META-ACCESS-TOKEN", "EAABraw")

	ac := FromHeaders(h)
	assert.Empty(t, ac.AppSecret)
	assert.Empty(t, ac.AccessToken)
	assert.Equal(t, MethodCustomApp, ac.Method())
}

func TestFromHeaders_NonBearerAuthorization(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Basic dXNlcjpwYXNz")

	assert.Equal(t, MethodNone, FromHeaders(h).Method())
}

func TestWithAppSecret(t *testing.T) {
	ac := Context{AppID: "123"}
	assert.Equal(t, "s", ac.WithAppSecret("123", "s").AppSecret)
	assert.Empty(t, ac.WithAppSecret("456", "s").AppSecret)
	assert.Empty(t, Context{}.WithAppSecret("", "s").AppSecret)
}

func TestHeaderMiddleware_StripsDisallowedHeaders(t *testing.T) {
	var seen http.Header
	var method Method
	var ip string

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		method = RequestMethod(r.Context())
		ip = RequestRemoteIP(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	req.Header.Set("X-META-APP-SECRET", "s3cret")
	req.Header.Set("X-META-ACCESS-TOKEN", "EAABraw")
	req.Header.Set("X-META-APP-ID", "123")

	rec := httptest.NewRecorder()
	HeaderMiddleware(discardLogger())(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, seen.Get("X-META-APP-SECRET"))
	assert.Empty(t, seen.Get("X-META-ACCESS-TOKEN"))
	assert.Equal(t, "123", seen.Get("X-META-APP-ID"))
	assert.Equal(t, MethodCustomApp, method)
	assert.Equal(t, "192.0.2.1", ip)
}

func TestHeaderMiddleware_NeverRejects(t *testing.T) {
	var method Method
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = RequestMethod(r.Context())
	})

	rec := httptest.NewRecorder()
	HeaderMiddleware(discardLogger())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MethodNone, method)
}
