// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkcelogin/pkcelogin/oidc/internal/strutils"
	"golang.org/x/text/language"
)

// Request basically represents one OIDC authentication flow for a user. It
// contains the data needed to uniquely represent that one-time flow across the
// multiple interactions needed to complete the OIDC flow the user is
// attempting.
//
// A Request is immutable once built.  The same Request is rebuilt at callback
// time from the verifier carried across the redirect (see NewCodeVerifierFrom)
// so the exchange uses the verifier whose challenge was sent in the
// authorization URL.
type Request interface {
	// RedirectURL is a URL where providers will redirect responses to
	// authentication requests.  An empty RedirectURL means the provider's
	// configured RedirectURL is used.
	RedirectURL() string

	// Scopes is a specific authentication attempt's list of scopes to request
	// of the provider. An empty list means the provider's configured scopes
	// are used.
	Scopes() []string

	// PKCEVerifier is the code verifier for the authentication attempt.
	// See: https://tools.ietf.org/html/rfc7636
	PKCEVerifier() CodeVerifier

	// Claims optionally requests that specific claims be returned using
	// the claims parameter.
	// https://openid.net/specs/openid-connect-core-1_0.html#ClaimsParameter
	Claims() []byte

	// UILocales optionally specifies End-User's preferred languages via
	// the "ui_locales" parameter.
	UILocales() []language.Tag
}

// Req represents the oidc request used for oidc flows and implements the
// Request interface.
type Req struct {
	redirectURL   string
	scopes        []string
	withVerifier  CodeVerifier
	withClaims    []byte
	withUILocales []language.Tag
}

// ensure that Req implements the Request interface
var _ Request = (*Req)(nil)

// NewRequest creates a new Request (*Req).
//
// Supports the options:
//   - WithPKCE
//   - WithScopes
//   - WithClaims
//   - WithIDTokenClaims
//   - WithUserInfoClaims
//   - WithUILocales
func NewRequest(redirectURL string, opt ...Option) (*Req, error) {
	const op = "oidc.NewRequest"
	opts := getReqOpts(opt...)
	r := &Req{
		redirectURL:   redirectURL,
		withVerifier:  opts.withVerifier,
		withUILocales: opts.withUILocales,
	}
	if len(opts.withScopes) > 0 {
		r.scopes = strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, opts.withScopes...), false)
	}

	requested := opts.withRequestedClaims.payload()
	switch {
	case len(opts.withClaims) > 0 && requested != nil:
		return nil, fmt.Errorf("%s: raw claims and requested claims are mutually exclusive: %w", op, ErrInvalidParameter)
	case len(opts.withClaims) > 0:
		if !json.Valid(opts.withClaims) {
			return nil, fmt.Errorf("%s: claims must be valid json: %w", op, ErrInvalidParameter)
		}
		r.withClaims = opts.withClaims
	case requested != nil:
		b, err := json.Marshal(requested)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to marshal requested claims: %w", op, err)
		}
		r.withClaims = b
	}
	return r, nil
}

// RedirectURL implements the Request.RedirectURL() interface function.
func (r *Req) RedirectURL() string { return r.redirectURL }

// Scopes implements the Request.Scopes() interface function.
func (r *Req) Scopes() []string { return r.scopes }

// PKCEVerifier implements the Request.PKCEVerifier() interface function and
// returns a copy of the CodeVerifier
func (r *Req) PKCEVerifier() CodeVerifier {
	if r.withVerifier == nil {
		return nil
	}
	return r.withVerifier.Copy()
}

// Claims implements the Request.Claims() interface function
// and returns the provider's requested claims (json).
func (r *Req) Claims() []byte { return r.withClaims }

// UILocales implements the Request.UILocales() interface function and returns
// the preferred languages.
func (r *Req) UILocales() []language.Tag { return r.withUILocales }

// requestedClaims is the claims request parameter structure where every
// claim is requested as a voluntary claim with no default: "name": null
type requestedClaims struct {
	idToken  []string
	userInfo []string
}

func (rc requestedClaims) payload() map[string]map[string]interface{} {
	if len(rc.idToken) == 0 && len(rc.userInfo) == 0 {
		return nil
	}
	out := map[string]map[string]interface{}{}
	add := func(member string, names []string) {
		if len(names) == 0 {
			return
		}
		m := make(map[string]interface{}, len(names))
		for _, n := range names {
			m[n] = nil
		}
		out[member] = m
	}
	add("id_token", rc.idToken)
	add("userinfo", rc.userInfo)
	return out
}

// reqOptions is the set of available options for Req functions
type reqOptions struct {
	withScopes          []string
	withVerifier        CodeVerifier
	withClaims          []byte
	withRequestedClaims requestedClaims
	withUILocales       []language.Tag
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{}
}

// getReqOpts gets the request defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPKCE provides an option to use a CodeVerifier with the authorization
// code flow with PKCE.
//
// See: https://tools.ietf.org/html/rfc7636
//
// Valid for: Request
func WithPKCE(v CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withVerifier = v
		}
	}
}

// WithClaims optionally requests that specific claims be returned
// using the claims parameter.  The json is sent as-is.
//
// https://openid.net/specs/openid-connect-core-1_0.html#ClaimsParameter
//
// Valid for: Request
func WithClaims(json []byte) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withClaims = json
		}
	}
}

// WithIDTokenClaims requests the named claims be returned in the id_token,
// each as a voluntary claim with no default value.
//
// Valid for: Request
func WithIDTokenClaims(names ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withRequestedClaims.idToken = names
		}
	}
}

// WithUserInfoClaims requests the named claims be returned from the UserInfo
// endpoint, each as a voluntary claim with no default value.
//
// Valid for: Request
func WithUserInfoClaims(names ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withRequestedClaims.userInfo = names
		}
	}
}
