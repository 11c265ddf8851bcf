// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"

	"github.com/pkcelogin/pkcelogin/oidc/callback"
)

type loginPage struct {
	ProviderName string
	AuthURL      string
}

type successPage struct {
	ProviderName   string
	Subject        string
	TokenSet       string
	IDTokenClaims  map[string]interface{}
	UserInfoClaims map[string]interface{}
}

type failurePage struct {
	Kind        callback.Kind
	Code        string
	Description string
}

// Status of the failure page's kind.
func (p failurePage) Status() string {
	return http.StatusText(p.Kind.HTTPStatus())
}

const pageLayout = `
{{define "header"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.}}</title>
<style>
body { font-family: sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
table { border-collapse: collapse; }
td { border: 1px solid #ddd; padding: 4px 8px; }
</style>
</head>
<body>
{{end}}
{{define "footer"}}</body>
</html>
{{end}}
{{define "claims"}}<table>
{{range $k, $v := .}}<tr><td>{{$k}}</td><td>{{$v}}</td></tr>
{{end}}</table>
{{end}}
{{define "login"}}{{template "header" "Login"}}
<h1>Login</h1>
<p><a id="login" href="{{.AuthURL}}">Login with {{.ProviderName}}</a></p>
{{template "footer"}}{{end}}
{{define "success"}}{{template "header" "Logged in"}}
<h1>Logged in with {{.ProviderName}}</h1>
<p>Subject: <span id="subject">{{.Subject}}</span></p>
<h2>Token</h2>
<pre id="token">{{.TokenSet}}</pre>
<h2>ID token claims</h2>
<div id="id_token_claims">{{template "claims" .IDTokenClaims}}</div>
<h2>User info</h2>
<div id="userinfo_claims">{{template "claims" .UserInfoClaims}}</div>
<p><a href="/">Login again</a></p>
{{template "footer"}}{{end}}
{{define "failure"}}{{template "header" "Login failed"}}
<h1>Login failed</h1>
<p>{{.Status}}: <span id="kind">{{.Kind}}</span></p>
{{if .Code}}<p>Provider error: <span id="code">{{.Code}}</span>{{if .Description}} ({{.Description}}){{end}}</p>{{end}}
<p><a href="/">Try again</a></p>
{{template "footer"}}{{end}}
{{define "notfound"}}{{template "header" "Not found"}}
<h1>Not found</h1>
{{template "footer"}}{{end}}
`

var pages = template.Must(template.New("pages").Parse(pageLayout))

func executePage(name string, data interface{}) (string, error) {
	const op = "executePage"
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return buf.String(), nil
}
