package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pipeboard-co/meta-ads-mcp/internal/auth"
	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/pipeboard-co/meta-ads-mcp/internal/meta"
)

// authRequiredMessage is matched by clients to tell a login prompt apart
// from a failed call.
const authRequiredMessage = "Authentication Required"

type graphFunc func(ctx context.Context, cred meta.Credentials) ([]byte, error)

// shapeFunc turns a Graph response into the value returned to the client.
type shapeFunc func(body []byte) (any, error)

// graphCall resolves the caller's token and runs fn with it. The result is
// the Graph response, indented.
func (d *Deps) graphCall(ctx context.Context, req *mcp.CallToolRequest, fn graphFunc) (*mcp.CallToolResult, any, error) {
	return d.graphCallWith(ctx, req, fn, nil)
}

// graphCallWith is graphCall with a response shaper. Authentication
// failures are returned as a structured result, never as a tool error, so
// the client sees what to do next.
func (d *Deps) graphCallWith(ctx context.Context, req *mcp.CallToolRequest, fn graphFunc, shape shapeFunc) (*mcp.CallToolResult, any, error) {
	ac := d.Credentials(req)
	caps := auth.Capabilities{Interactive: d.Interactive}

	tok, err := d.Auth.Resolve(ctx, ac, caps)
	if err != nil {
		return d.resolveFailure(err), nil, nil
	}

	body, err := fn(ctx, credentialsFor(ac, tok))
	if errors.Is(err, apperrors.ErrAuthenticationExpired) {
		d.Logger.Info("graph rejected access token",
			slog.String("auth_method", string(tok.Method)),
			slog.String("source", string(tok.Source)),
		)

		if tok.Method != auth.MethodBroker {
			d.Auth.Invalidate(ctx, ac)
			return d.expiredResult(ctx, ac, err), nil, nil
		}

		// The broker can mint a fresh token without the user; retry once.
		tok, err = d.Auth.Resolve(ctx, ac, caps, auth.WithForceLogin())
		if err != nil {
			return d.resolveFailure(err), nil, nil
		}
		body, err = fn(ctx, credentialsFor(ac, tok))
		if errors.Is(err, apperrors.ErrAuthenticationExpired) {
			d.Auth.Invalidate(ctx, ac)
			return d.expiredResult(ctx, ac, err), nil, nil
		}
	}
	if err != nil {
		if !errors.Is(err, apperrors.ErrInvalidInput) {
			d.Logger.Warn("graph call failed", slog.String("error", err.Error()))
		}
		return errorResult(err), nil, nil
	}

	if shape == nil {
		return rawResult(body), nil, nil
	}

	v, err := shape(body)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(v), nil, nil
}

// credentialsFor attaches the app secret only to tokens issued for that
// app; a proof computed with any other secret is rejected by Meta.
func credentialsFor(ac auth.Context, tok *auth.Token) meta.Credentials {
	cred := meta.Credentials{Token: tok.Value}
	if tok.Method == auth.MethodCustomApp {
		cred.AppSecret = ac.AppSecret
	}
	return cred
}

func (d *Deps) resolveFailure(err error) *mcp.CallToolResult {
	var required *auth.RequiredError
	if errors.As(err, &required) {
		d.Logger.Info("authentication required",
			slog.String("auth_method", string(required.Method)),
			slog.String("reason", required.Reason),
		)
		return authRequiredResult(required)
	}

	d.Logger.Warn("resolving access token", slog.String("error", err.Error()))
	return errorResult(err)
}

func (d *Deps) expiredResult(ctx context.Context, ac auth.Context, cause error) *mcp.CallToolResult {
	required := &auth.RequiredError{
		Method: ac.Method(),
		Reason: "Meta rejected the access token",
		Err:    cause,
	}

	if required.Method == auth.MethodDirectToken {
		required.Action = "Provide a fresh access token in " + auth.EnvAccessToken
		return authRequiredResult(required)
	}

	required.Action = "The token has expired or was revoked. Open the link to sign in again, then retry"
	if loginURL, err := d.Auth.LoginURL(ctx, ac); err == nil {
		required.LoginURL = loginURL
	}
	return authRequiredResult(required)
}

type authRequiredDetails struct {
	Description    string `json:"description"`
	ActionRequired string `json:"action_required"`
	LoginURL       string `json:"login_url,omitempty"`
	MarkdownLink   string `json:"markdown_link,omitempty"`
}

type toolError struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error toolError `json:"error"`
}

// authRequiredResult renders a RequiredError as remediation text. IsError
// stays false: the call worked, the user has a step to take.
func authRequiredResult(e *auth.RequiredError) *mcp.CallToolResult {
	desc := e.Reason
	if desc == "" {
		desc = "authentication is required"
	}

	return textResult(errorEnvelope{Error: toolError{
		Message: authRequiredMessage,
		Details: authRequiredDetails{
			Description:    desc,
			ActionRequired: e.Action,
			LoginURL:       e.LoginURL,
			MarkdownLink:   markdownLink(e.LoginURL),
		},
	}})
}

type graphErrorDetails struct {
	Code      int64  `json:"code,omitempty"`
	Subcode   int64  `json:"error_subcode,omitempty"`
	Type      string `json:"type,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

// errorResult returns a tool error result in the same envelope as
// authentication prompts.
func errorResult(err error) *mcp.CallToolResult {
	te := toolError{Message: err.Error()}

	var apiErr *meta.APIError
	if errors.As(err, &apiErr) {
		te.Message = apiErr.Message
		te.Details = graphErrorDetails{
			Code:      apiErr.Code,
			Subcode:   apiErr.Subcode,
			Type:      apiErr.Type,
			FBTraceID: apiErr.FBTraceID,
		}
	}

	res := textResult(errorEnvelope{Error: te})
	res.IsError = true
	return res
}

func markdownLink(loginURL string) string {
	if loginURL == "" {
		return ""
	}
	return fmt.Sprintf("[Click here to authenticate with Meta Ads](%s)", loginURL)
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, msg)
}

// rawResult returns a Graph response body as indented JSON text.
func rawResult(body []byte) *mcp.CallToolResult {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: buf.String()}},
	}
}

// textResult marshals v to indented JSON and wraps it in a CallToolResult.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
