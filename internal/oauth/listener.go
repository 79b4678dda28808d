package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultCallbackPort is the port registered as redirect URI on most
// self-hosted Meta apps.
const DefaultCallbackPort = 8888

const (
	callbackPath       = "/callback"
	shutdownGrace      = time.Second
	shutdownTimeout    = 5 * time.Second
	callbackReadHeader = 10 * time.Second
)

// CallbackResult is what the provider sent to the redirect URI.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError returns true if the provider reported a failure.
func (r *CallbackResult) IsError() bool {
	return r.Error != ""
}

// Listener is a loopback HTTP server that accepts a single OAuth
// redirect and then shuts itself down.
type Listener struct {
	port     int
	server    *http.Server
	listeners []net.Listener
	logger    *slog.Logger

	resultCh chan *CallbackResult
	once     sync.Once
	stop     sync.Once
	closed   chan struct{}

	mu            sync.Mutex
	expectedState string
}

// StartCallbackListener binds 127.0.0.1 on preferredPort, or on an
// ephemeral port when that one is taken. The same port is also bound on
// ::1 when the host has IPv6 loopback, so the localhost redirect URI
// reaches it whichever address localhost resolves to first. The listener
// closes when ctx ends.
func StartCallbackListener(ctx context.Context, preferredPort int, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferredPort))
	if err != nil {
		if preferredPort == 0 {
			return nil, fmt.Errorf("starting callback listener: %w", err)
		}

		logger.Warn("callback port busy, using an ephemeral port",
			slog.Int("port", preferredPort),
			slog.String("error", err.Error()),
		)

		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("starting callback listener: %w", err)
		}
	}

	l := &Listener{
		port:      ln.Addr().(*net.TCPAddr).Port,
		listeners: []net.Listener{ln},
		logger:    logger,
		resultCh:  make(chan *CallbackResult, 1),
		closed:    make(chan struct{}),
	}

	if ln6, err := net.Listen("tcp", fmt.Sprintf("[::1]:%d", l.port)); err == nil {
		l.listeners = append(l.listeners, ln6)
	} else {
		logger.Debug("callback listener is IPv4 only", slog.String("error", err.Error()))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, l.handleCallback)

	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: callbackReadHeader,
	}

	for _, ln := range l.listeners {
		go func() {
			if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("callback listener stopped", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.closed:
		}
	}()

	logger.Debug("callback listener started", slog.Int("port", l.port))

	return l, nil
}

// Port returns the bound port, which differs from the preferred one
// after a fallback.
func (l *Listener) Port() int {
	return l.port
}

// RedirectURI returns the URI to send as redirect_uri. It names localhost
// because that is what Meta app settings register.
func (l *Listener) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", l.port, callbackPath)
}

// ExpectState makes the listener reject redirects whose state parameter
// does not match.
func (l *Listener) ExpectState(state string) {
	l.mu.Lock()
	l.expectedState = state
	l.mu.Unlock()
}

// Wait blocks until the redirect arrives, timeout elapses, or ctx ends.
// On timeout or cancellation the listener is closed before returning.
func (l *Listener) Wait(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-l.resultCh:
		return res, nil
	case <-timer.C:
		l.Close()
		return nil, &CallbackTimeoutError{Timeout: timeout}
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	case <-l.closed:
		// A result may have been delivered just before closing.
		select {
		case res := <-l.resultCh:
			return res, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("callback listener closed")
	}
}

// Close stops the server immediately and frees the port. Safe to call
// more than once.
func (l *Listener) Close() {
	l.stop.Do(func() {
		_ = l.server.Close()
		for _, ln := range l.listeners {
			_ = ln.Close()
		}
		close(l.closed)
	})
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	handled := false
	l.once.Do(func() {
		handled = true
		l.processCallback(w, r)
	})

	if !handled {
		http.Error(w, "Callback already processed", http.StatusGone)
	}
}

func (l *Listener) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	q := r.URL.Query()
	res := &CallbackResult{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	l.mu.Lock()
	expected := l.expectedState
	l.mu.Unlock()

	switch {
	case res.IsError():
	case expected != "" && res.State != expected:
		res.Error = "state_mismatch"
		res.ErrorDescription = "the state parameter does not match this login attempt"
	case res.Code == "":
		res.Error = "invalid_request"
		res.ErrorDescription = "the redirect carried no authorization code"
	}

	status := http.StatusOK
	if res.IsError() {
		status = http.StatusBadRequest
	}

	var page bytes.Buffer
	_ = callbackPage.Execute(&page, callbackData{Error: res.Error, Description: res.ErrorDescription})

	// The page must be fully on the wire before the result is published:
	// the receiver may close the listener right away.
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(page.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(page.Bytes())
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}

	select {
	case l.resultCh <- res:
	default:
	}

	go func() {
		time.Sleep(shutdownGrace)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = l.server.Shutdown(ctx)
		l.Close()
	}()
}
