// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkcelogin/pkcelogin/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local OIDC provider that supports the authorization code
// flow with PKCE, which make writing tests much easier.  Its token endpoint
// enforces that the code_verifier matches the code_challenge sent to its
// authorization endpoint (or set via SetPKCEVerifier).
//
// Most of this is from Consul's oauthtest package with a few changes so it
// could become part of this package's public testing API.
//
// Endpoints:
//   - /.well-known/openid-configuration
//   - /authorize
//   - /token
//   - /userinfo
//   - /.well-known/jwks.json
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	client     *http.Client

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	replyExpiry         time.Duration
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	expectedChallenge   string
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	omitAccessToken     bool
	disableUserInfo     bool
	userInfoStatus      int
	tokenDelay          time.Duration
	userInfoDelay       time.Duration
	issuedAccessToken   string
	tokenRequests       int

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// StartTestProvider creates a disposable TestProvider, which is stopped by
// the test's cleanup.
//
// Supported options: WithTestPort
func StartTestProvider(t *testing.T, opt ...Option) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replySubject: "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"sub":            "alice@example.com",
			"email":          "alice@example.com",
			"email_verified": true,
			"color":          "red",
			"temperature":    "76",
			"flavor":         "umami",
		},
		replyExpiry: 1 * time.Minute,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)

	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptestNewUnstartedServerWithPort(t, p, opts.withPort)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()
	p.client = p.httpServer.Client()

	return p
}

// testProviderOptions is the set of available options for TestProvider
// functions
type testProviderOptions struct {
	withPort int
}

// testProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the test provider defaults and applies the opt
// overrides passed in
func getTestProviderOpts(opt ...Option) testProviderOptions {
	opts := testProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTestPort provides an optional port for the test provider.
//
// Valid for: TestProvider.StartTestProvider
func WithTestPort(port int) Option {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withPort = port
		}
	}
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /authorize and
// the allowed auth code for /token.  An empty code makes /authorize deny every
// request with "access_denied".
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetPKCEVerifier configures the code_challenge the /token endpoint will
// verify the code_verifier against.  /authorize also sets it from the
// request's code_challenge.
func (p *TestProvider) SetPKCEVerifier(v CodeVerifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedChallenge = ""
	if v != nil {
		p.expectedChallenge = v.Challenge()
	}
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of "https://example.com" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to return in the JWT issued by the OIDC
// workflow.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the JWT issued
// by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetExpectedExpiry is for configuring the expected expiry for any JWTs issued
// by the provider (the default is 1 minute).  A negative duration issues
// already expired JWTs.
func (p *TestProvider) SetExpectedExpiry(exp time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = exp
}

// SetUserInfoReply sets the UserInfo endpoint response.
func (p *TestProvider) SetUserInfoReply(resp map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = resp
}

// SetUserInfoStatus forces the UserInfo endpoint to reply with the status
// code.  Zero restores the normal behavior.
func (p *TestProvider) SetUserInfoStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfoStatus = code
}

// SetTokenDelay delays every /token reply.  Zero restores the normal
// behavior.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// SetUserInfoDelay delays every /userinfo reply.  Zero restores the normal
// behavior.
func (p *TestProvider) SetUserInfoDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userInfoDelay = d
}

// SetOmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) SetOmitIDTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetOmitAccessTokens forces an error state where the /token endpoint does not return
// access_token.
func (p *TestProvider) SetOmitAccessTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = omit
}

// SetDisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) SetDisableUserInfo(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = disable
}

// TokenRequests returns the number of requests the /token endpoint received.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http.Client for the test provider.  The returned client
// uses a pooled transport and trusts the test provider's certificate.
func (p *TestProvider) HTTPClient() *http.Client { return p.client }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs
// and the signing algorithm.
func (p *TestProvider) SigningKeys() (pub, priv string, alg Alg) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey, ES256
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// writeAuthErrorResponse redirects the user agent back to the relying party
// with an error response.
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthError
func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, redirectURL, errorCode, errorMessage string) {
	qv := url.Values{}
	qv.Set("error", errorCode)
	if errorMessage != "" {
		qv.Set("error_description", errorMessage)
	}
	http.Redirect(w, req, redirectURL+"?"+qv.Encode(), http.StatusFound)
}

// writeTokenErrorResponse writes a token error response.
// See: https://openid.net/specs/openid-connect-core-1_0.html#TokenErrorResponse
func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	const (
		openidConfiguration = "/.well-known/openid-configuration"
		authorize           = "/authorize"
		token               = "/token"
		userInfo            = "/userinfo"
		wellKnownJwks       = "/.well-known/jwks.json"
	)

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case openidConfiguration:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer                 string   `json:"issuer"`
			AuthEndpoint           string   `json:"authorization_endpoint"`
			TokenEndpoint          string   `json:"token_endpoint"`
			JWKSURI                string   `json:"jwks_uri"`
			UserinfoEndpoint       string   `json:"userinfo_endpoint,omitempty"`
			SupportedAlgs          []string `json:"id_token_signing_alg_values_supported"`
			SupportedScopes        []string `json:"scopes_supported"`
			SupportedChallenges    []string `json:"code_challenge_methods_supported"`
			SupportedAuthMethods   []string `json:"token_endpoint_auth_methods_supported"`
			ClaimsParamSupported   bool     `json:"claims_parameter_supported"`
			SupportedResponseTypes []string `json:"response_types_supported"`
		}{
			Issuer:                 p.Addr(),
			AuthEndpoint:           p.Addr() + authorize,
			TokenEndpoint:          p.Addr() + token,
			JWKSURI:                p.Addr() + wellKnownJwks,
			UserinfoEndpoint:       p.Addr() + userInfo,
			SupportedAlgs:          []string{string(ES256)},
			SupportedScopes:        []string{"openid", "email", "profile"},
			SupportedChallenges:    []string{string(S256)},
			SupportedAuthMethods:   []string{string(ClientSecretBasic), string(ClientSecretPost)},
			ClaimsParamSupported:   true,
			SupportedResponseTypes: []string{"code"},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}

		if err := p.writeJSON(w, &reply); err != nil {
			return
		}

	case authorize:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" || !strutils.StrListContains(p.allowedRedirectURIs, redirectURI) {
			// never redirect to an unknown uri
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, redirectURI, "unsupported_response_type", "")
			return
		}
		if qv.Get("client_id") != p.clientID {
			p.writeAuthErrorResponse(w, req, redirectURI, "unauthorized_client", "unknown client_id")
			return
		}
		if !strutils.StrListContains(strings.Split(qv.Get("scope"), " "), "openid") {
			p.writeAuthErrorResponse(w, req, redirectURI, "invalid_scope", "missing openid scope")
			return
		}
		challenge := qv.Get("code_challenge")
		if challenge == "" || qv.Get("code_challenge_method") != string(S256) {
			p.writeAuthErrorResponse(w, req, redirectURI, "invalid_request", "S256 code_challenge required")
			return
		}
		if claims := qv.Get("claims"); claims != "" && !json.Valid([]byte(claims)) {
			p.writeAuthErrorResponse(w, req, redirectURI, "invalid_request", "claims is not valid json")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, redirectURI, "access_denied", "the resource owner denied the request")
			return
		}
		p.expectedChallenge = challenge

		http.Redirect(w, req, redirectURI+"?code="+url.QueryEscape(p.expectedAuthCode), http.StatusFound)
		return

	case wellKnownJwks:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := p.writeJSON(w, p.jwks); err != nil {
			return
		}

	case token:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.tokenRequests++
		if !p.delay(req, p.tokenDelay) {
			return
		}

		clientID, clientSecret, ok := req.BasicAuth()
		if ok {
			// client_secret_basic values are form-urlencoded
			clientID, _ = url.QueryUnescape(clientID)
			clientSecret, _ = url.QueryUnescape(clientSecret)
		} else {
			clientID, clientSecret = req.FormValue("client_id"), req.FormValue("client_secret")
		}

		switch {
		case req.FormValue("grant_type") != "authorization_code":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		case clientID != p.clientID || clientSecret != p.clientSecret:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		case !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case p.expectedAuthCode == "" || req.FormValue("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		case !p.verifierMatches(req.FormValue("code_verifier")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}

		now := time.Now()
		stdClaims := jwt.Claims{
			Subject:   p.replySubject,
			Issuer:    p.Addr(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(now.Add(p.replyExpiry)),
			Audience:  jwt.Audience{p.clientID},
		}
		if p.customAudience != "" {
			stdClaims.Audience = jwt.Audience{p.customAudience}
		}
		customClaims := map[string]interface{}{}
		for k, v := range p.customClaims {
			customClaims[k] = v
		}
		idToken := TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, customClaims)
		p.issuedAccessToken = "at_" + strconv.FormatInt(now.UnixNano(), 36)

		reply := struct {
			AccessToken string `json:"access_token,omitempty"`
			TokenType   string `json:"token_type"`
			ExpiresIn   int    `json:"expires_in"`
			IDToken     string `json:"id_token,omitempty"`
		}{
			AccessToken: p.issuedAccessToken,
			TokenType:   "Bearer",
			ExpiresIn:   int(p.replyExpiry.Seconds()),
			IDToken:     idToken,
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		if p.omitAccessToken {
			reply.AccessToken = ""
		}
		if err := p.writeJSON(w, &reply); err != nil {
			return
		}

	case userInfo:
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !p.delay(req, p.userInfoDelay) {
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.userInfoStatus != 0 {
			w.WriteHeader(p.userInfoStatus)
			_ = p.writeJSON(w, map[string]string{"error": "forced", "error_description": http.StatusText(p.userInfoStatus)})
			return
		}
		if p.issuedAccessToken == "" || req.Header.Get("Authorization") != "Bearer "+p.issuedAccessToken {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = p.writeJSON(w, map[string]string{"error": "invalid_token"})
			return
		}
		if err := p.writeJSON(w, p.replyUserinfo); err != nil {
			return
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// verifierMatches checks the code_verifier against the expected S256
// challenge.
// delay waits for d, returning false if the client gave up first.
func (p *TestProvider) delay(req *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-req.Context().Done():
		return false
	}
}

func (p *TestProvider) verifierMatches(verifier string) bool {
	if p.expectedChallenge == "" || verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == p.expectedChallenge
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	input := block.Bytes

	pub, err := x509.ParsePKIXPublicKey(input)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.  A zero port picks a free one.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	if port == 0 {
		return httptest.NewUnstartedServer(handler)
	}
	require := require.New(t)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}

// String is a diagnostic summary of the provider's configuration.
func (p *TestProvider) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("TestProvider{addr: %s, client_id: %s, redirects: %v}", p.Addr(), p.clientID, p.allowedRedirectURIs)
}
