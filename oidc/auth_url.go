// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"

	"golang.org/x/oauth2"
)

// BuildAuthURL builds an authorization code flow URL for the provider's
// authorization endpoint.  It has no side effects: the same inputs always
// produce the same URL, with query parameters in sorted order.
//
// The URL includes response_type=code, client_id, redirect_uri, scope and,
// from the Request, code_challenge and code_challenge_method when it carries
// a CodeVerifier, claims when it has requested claims and ui_locales when it
// has preferred languages.
func BuildAuthURL(authorizationEndpoint, clientID, redirectURL string, scopes []string, r Request) string {
	oauth2Config := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    oauth2.Endpoint{AuthURL: authorizationEndpoint},
		Scopes:      scopes,
	}
	var authCodeOpts []oauth2.AuthCodeOption
	if r != nil {
		if v := r.PKCEVerifier(); v != nil {
			authCodeOpts = append(authCodeOpts,
				oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
				oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
			)
		}
		if claims := r.Claims(); len(claims) > 0 {
			authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("claims", string(claims)))
		}
		if locales := r.UILocales(); len(locales) > 0 {
			tags := make([]string, 0, len(locales))
			for _, l := range locales {
				tags = append(tags, l.String())
			}
			authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(tags, " ")))
		}
	}
	// no "state": CSRF protection of the callback isn't provided by this
	// package, oauth2 omits an empty state parameter.
	return oauth2Config.AuthCodeURL("", authCodeOpts...)
}
