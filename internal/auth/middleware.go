package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

type contextKey int

const (
	ctxRemoteIP contextKey = iota
	ctxMethod
)

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// RequestMethod returns the credential method the request headers
// selected, or "".
func RequestMethod(ctx context.Context) Method {
	v, _ := ctx.Value(ctxMethod).(Method)
	return v
}

// disallowedHeaders may never carry credentials into the server.
var disallowedHeaders = []string{HeaderAppSecret, HeaderAccessToken}

// HeaderMiddleware strips headers that would carry a secret or a raw
// access token, and records the caller's IP and credential method in
// the request context for logging. It never rejects a request: missing
// credentials surface as an authentication-required tool result.
func HeaderMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			for _, h := range disallowedHeaders {
				if r.Header.Get(h) == "" {
					continue
				}
				logger.Warn("middleware: dropping disallowed credential header",
					slog.String("header", h),
					slog.String("ip", ip),
				)
				r.Header.Del(h)
			}

			method := FromHeaders(r.Header).Method()

			logger.Debug("middleware: request credentials",
				slog.String("method", string(method)),
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)
			ctx = context.WithValue(ctx, ctxMethod, method)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
