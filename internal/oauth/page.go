package oauth

import "html/template"

// callbackPage is shown in the browser tab after Meta redirects back.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>meta-ads-mcp</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: #f5f5f5;
    color: #1a1a1a;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
  }
  .card {
    background: #fff;
    border: 1px solid #e0e0e0;
    border-radius: 8px;
    padding: 2.5rem 2rem;
    width: 100%;
    max-width: 420px;
    box-shadow: 0 1px 3px rgba(0,0,0,0.06);
  }
  .card h1 {
    font-size: 1.25rem;
    font-weight: 600;
    margin-bottom: 0.5rem;
  }
  .card p { font-size: 0.9rem; color: #444; }
  .error {
    background: #fef2f2;
    color: #991b1b;
    border: 1px solid #fecaca;
    border-radius: 6px;
    padding: 0.6rem 0.75rem;
    font-size: 0.85rem;
    margin-top: 1rem;
    word-break: break-word;
  }
</style>
</head>
<body>
<div class="card">
{{if .Error}}
  <h1>Authorization failed</h1>
  <p>Meta did not grant access to your ad accounts. You can close this tab and try again.</p>
  <div class="error">{{.Error}}{{if .Description}}: {{.Description}}{{end}}</div>
{{else}}
  <h1>Authorization complete</h1>
  <p>meta-ads-mcp now has access to your Meta ad accounts. You can close this tab.</p>
{{end}}
</div>
</body>
</html>`))

type callbackData struct {
	Error       string
	Description string
}
