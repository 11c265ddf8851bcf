// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/pkcelogin/pkcelogin/oidc/internal/strutils"
	"golang.org/x/oauth2"
)

// Provider provides integration with an OIDC provider.
//
// It's primary capabilities include:
//   - Kicking off a user authentication via either the authorization code flow
//     with PKCE via generating an auth URL.
//   - The authorization code flow (with PKCE) by exchanging an auth code for
//     tokens in the callback.
//   - Verifying an id_token issued by a provider.
//   - Retrieving a user's OAuth claims from the provider's UserInfo endpoint.
//
// The provider's discovery document is fetched once by NewProvider and is
// read-only afterwards, so a Provider is safe for concurrent use.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	info     *DiscoveryInfo
	client   *http.Client
	logger   hclog.Logger

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs Key sets, refreshing tokens, etc
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// DiscoveryInfo is the subset of the provider's well-known configuration used
// by the relying party.
//
// See: https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type DiscoveryInfo struct {
	Issuer                            string   `json:"issuer"`
	AuthURL                           string   `json:"authorization_endpoint"`
	TokenURL                          string   `json:"token_endpoint"`
	UserInfoURL                       string   `json:"userinfo_endpoint"`
	JWKSURL                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
	IDTokenSigningAlgsSupported       []string `json:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsParameterSupported          bool     `json:"claims_parameter_supported,omitempty"`
}

// validate ensures the endpoints required for the authorization code flow and
// id_token verification were discovered.
func (d *DiscoveryInfo) validate() error {
	var missing []string
	if d.AuthURL == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if d.TokenURL == "" {
		missing = append(missing, "token_endpoint")
	}
	if d.UserInfoURL == "" {
		missing = append(missing, "userinfo_endpoint")
	}
	if d.JWKSURL == "" {
		missing = append(missing, "jwks_uri")
	}
	if len(missing) > 0 {
		return fmt.Errorf("discovery document is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// NewProvider creates and initializes a Provider.  Intializing the provider,
// includes making an http request to the provider's issuer.  Failed discovery
// requests are retried with an exponential backoff (see
// WithDiscoveryAttempts and WithDiscoveryBackoff) before returning an error
// that wraps ErrProviderDiscoveryFailed.
//
// See Provider.Done() which must be called to release provider resources.
//
// Supported options: WithLogger, WithDiscoveryAttempts, WithDiscoveryBackoff
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		logger:              opts.withLogger,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HTTPClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	p.client = client

	provider, err := p.discover(opts.withDiscoveryAttempts, opts.withDiscoveryBackoff)
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.provider = provider

	info := &DiscoveryInfo{}
	if err := provider.Claims(info); err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: unable to parse discovery document (%s): %w", op, err, ErrProviderDiscoveryFailed)
	}
	if err := info.validate(); err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrProviderDiscoveryFailed)
	}
	if len(info.CodeChallengeMethodsSupported) > 0 && !strutils.StrListContains(info.CodeChallengeMethodsSupported, string(S256)) {
		p.logger.Warn("provider does not advertise S256 PKCE support", "issuer", c.Issuer, "methods", info.CodeChallengeMethodsSupported)
	}
	p.info = info
	p.logger.Debug("provider discovered", "issuer", info.Issuer, "authorization_endpoint", info.AuthURL, "token_endpoint", info.TokenURL, "userinfo_endpoint", info.UserInfoURL)
	return p, nil
}

// discover fetches the issuer's well-known configuration, retrying up to
// attempts times.
func (p *Provider) discover(attempts int, backoff time.Duration) (*oidc.Provider, error) {
	const op = "Provider.discover"
	if attempts < 1 {
		attempts = 1
	}
	// the background ctx carries the http client used by go-oidc for the
	// lifetime of the provider, including JWKS refreshes.
	ctx := HTTPClientContext(p.backgroundCtx, p.client)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		provider, err := oidc.NewProvider(ctx, p.config.Issuer) // makes http req to issuer for discovery
		if err == nil {
			return provider, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		p.logger.Warn("provider discovery failed, retrying", "issuer", p.config.Issuer, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-p.backgroundCtx.Done():
			return nil, fmt.Errorf("%s: %s: %w", op, p.backgroundCtx.Err(), ErrProviderDiscoveryFailed)
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%s: unable to discover issuer %s after %d attempt(s) (%s): %w", op, p.config.Issuer, attempts, lastErr, ErrProviderDiscoveryFailed)
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	// checking for nil here prevents a panic when developers neglect to check
	// the for an error before deferring a call to p.Done():
	// p, err := NewProvider(...)
	// defer p.Done()
	// if err != nil { ... }
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// DiscoveryInfo returns a copy of the provider's discovered configuration.
func (p *Provider) DiscoveryInfo() DiscoveryInfo {
	return *p.info
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code (with PKCE) flow with an IdP.  The Request must carry a
// CodeVerifier (see WithPKCE) whose challenge is sent to the provider.
//
// See NewRequest() and NewCodeVerifier().
func (p *Provider) AuthURL(ctx context.Context, oidcRequest Request) (url string, e error) {
	const op = "Provider.AuthURL"
	if oidcRequest == nil {
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	v := oidcRequest.PKCEVerifier()
	if v == nil {
		return "", fmt.Errorf("%s: request is missing a PKCE code verifier: %w", op, ErrInvalidParameter)
	}
	if v.Method() != S256 {
		return "", fmt.Errorf("%s: %q: %w", op, v.Method(), ErrUnsupportedChallengeMethod)
	}
	return BuildAuthURL(p.info.AuthURL, p.config.ClientID, p.redirectURL(oidcRequest), p.scopes(oidcRequest), oidcRequest), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode it received in an earlier successful oidc authentication
// response and the Request's PKCE code verifier.  The code is submitted once;
// rejected exchanges are not retried.
//
// Errors returned by the provider's token endpoint are *ProviderError which
// match ErrTokenExchangeFailed.  An id_token which fails verification returns
// an error matching ErrInvalidIDToken.
//
// On success, the Token returned will include an IDToken with its verified
// claims (see Tk.IDTokenClaims) and may include an AccessToken and
// RefreshToken.
func (p *Provider) Exchange(ctx context.Context, oidcRequest Request, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	if p.config == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	v := oidcRequest.PKCEVerifier()
	if v == nil {
		return nil, fmt.Errorf("%s: request is missing a PKCE code verifier: %w", op, ErrInvalidParameter)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.httpTimeout())
	defer cancel()
	oidcCtx := HTTPClientContext(ctx, p.client)

	oauth2Config := p.oauth2Config(oidcRequest)
	oauth2Token, err := oauth2Config.Exchange(oidcCtx, authorizationCode, oauth2.SetAuthURLParam("code_verifier", v.Verifier()))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, fmt.Errorf("%s: %w", op, newTokenEndpointError(retrieveErr.Response.StatusCode, retrieveErr.Body))
		}
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider (%s): %w", op, err, ErrTokenExchangeFailed)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w: %w", op, ErrInvalidIDToken, ErrMissingIDToken)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new id_token: %w", op, err)
	}
	verified, err := p.verifyIDToken(ctx, t.IDToken())
	if err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	if verified.AccessTokenHash != "" {
		if err := verified.VerifyAccessToken(oauth2Token.AccessToken); err != nil {
			p.logger.Debug("access_token hash verification failed", "error", err)
			return nil, fmt.Errorf("%s: access_token hash does not match id_token: %w", op, ErrInvalidIDToken)
		}
	}
	if err := verified.Claims(&t.idTokenClaims); err != nil {
		return nil, fmt.Errorf("%s: unable to get id_token claims: %w", op, ErrInvalidIDToken)
	}
	return t, nil
}

// VerifyIDToken will verify the inbound IDToken and return its claims.  It
// verifies it's been signed by the provider, its issuer, its audience
// includes the configured client ID and it has not expired.
//
// Verification failures return an error matching ErrInvalidIDToken without
// the details of which check failed; the details are logged at debug level.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken) (map[string]interface{}, error) {
	const op = "Provider.VerifyIDToken"
	verified, err := p.verifyIDToken(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var claims map[string]interface{}
	if err := verified.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to get id_token claims: %w", op, ErrInvalidIDToken)
	}
	return claims, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, t IDToken) (*oidc.IDToken, error) {
	if t == "" {
		return nil, fmt.Errorf("id_token is empty: %w", ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	oidcConfig := &oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.ClientID,
		Now:                  p.config.Now,
	}
	verifier := p.provider.Verifier(oidcConfig)

	verified, err := verifier.Verify(ctx, string(t))
	if err != nil {
		p.logger.Debug("id_token verification failed", "error", err)
		return nil, ErrInvalidIDToken
	}
	return verified, nil
}

// UserInfo gets the UserInfo claims from the provider using the token produced
// by the tokenSource.  Only JSON user info responses are supported (signed or
// encrypted responses are not).  If validSubject is not empty, the UserInfo
// "sub" claim must match it (see OIDC Core 5.3.2).
//
// Failures return an error matching ErrUserInfoFailed.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, validSubject string, claims interface{}) error {
	const op = "Provider.UserInfo"
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.httpTimeout())
	defer cancel()
	oidcCtx := HTTPClientContext(ctx, p.client)

	userinfo, err := p.provider.UserInfo(oidcCtx, tokenSource)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed (%s): %w", op, err, ErrUserInfoFailed)
	}
	if validSubject != "" && userinfo.Subject != validSubject {
		return fmt.Errorf("%s: UserInfo subject %q does not match id_token subject: %w", op, userinfo.Subject, ErrUserInfoFailed)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims (%s): %w", op, err, ErrUserInfoFailed)
	}
	return nil
}

func (p *Provider) oauth2Config(oidcRequest Request) oauth2.Config {
	return oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.redirectURL(oidcRequest),
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.info.AuthURL,
			TokenURL: p.info.TokenURL,
			// an explicit style disables the oauth2 pkg's auto detection which
			// would re-submit a rejected code a second time.
			AuthStyle: p.config.authStyle(),
		},
		Scopes: p.scopes(oidcRequest),
	}
}

func (p *Provider) redirectURL(oidcRequest Request) string {
	if r := oidcRequest.RedirectURL(); r != "" {
		return r
	}
	return p.config.RedirectURL
}

// scopes returns the request's scopes, or the configured scopes.  The
// "openid" scope is always first.
func (p *Provider) scopes(oidcRequest Request) []string {
	if s := oidcRequest.Scopes(); len(s) > 0 {
		return s
	}
	return strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, p.config.Scopes...), false)
}

// providerOptions is the set of available options for Provider functions
type providerOptions struct {
	withLogger            hclog.Logger
	withDiscoveryAttempts int
	withDiscoveryBackoff  time.Duration
}

// providerDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger:            hclog.NewNullLogger(),
		withDiscoveryAttempts: 3,
		withDiscoveryBackoff:  500 * time.Millisecond,
	}
}

// getProviderOpts gets the provider defaults and applies the opt overrides passed in
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithDiscoveryAttempts sets how many times discovery is attempted before
// NewProvider gives up.
//
// Valid for: Provider
func WithDiscoveryAttempts(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withDiscoveryAttempts = n
		}
	}
}

// WithDiscoveryBackoff sets the delay before the first discovery retry; it
// doubles on each subsequent retry.
//
// Valid for: Provider
func WithDiscoveryBackoff(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withDiscoveryBackoff = d
		}
	}
}
