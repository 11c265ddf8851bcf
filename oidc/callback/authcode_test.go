// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkcelogin/pkcelogin/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testCode         = "valid-code"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(r *Result, w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(r)
}

// testFailResponse is the body written by testFailFn
type testFailResponse struct {
	Kind  Kind   `json:"kind"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(e error, w http.ResponseWriter, req *http.Request) {
	kind := FailureKind(e)
	resp := testFailResponse{Kind: kind, Error: e.Error()}
	var pe *oidc.ProviderError
	if errors.As(e, &pe) {
		resp.Code = pe.Code
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(resp)
}

// testClearingReader is a VerifierReader and VerifierClearer
type testClearingReader struct {
	SingleVerifierReader
	cleared int32
}

func (r *testClearingReader) Clear(w http.ResponseWriter) {
	atomic.AddInt32(&r.cleared, 1)
}

// testEnv is a TestProvider, a Provider configured for it and a callback
// server whose handler is set by each test.
type testEnv struct {
	tp          *oidc.TestProvider
	p           *oidc.Provider
	callbackSrv *httptest.Server
	redirect    string
}

func newTestEnv(t *testing.T, opt ...oidc.Option) *testEnv {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	tp.SetExpectedAuthCode(testCode)
	callbackSrv := httptest.NewServer(nil)
	t.Cleanup(callbackSrv.Close)
	redirect := callbackSrv.URL + "/callback"
	tp.SetAllowedRedirectURIs([]string{redirect})

	p := testNewProvider(t, testClientID, testClientSecret, redirect, tp, opt...)
	require.NotNil(p)
	return &testEnv{tp: tp, p: p, callbackSrv: callbackSrv, redirect: redirect}
}

// testNewProvider creates a new Provider.  It uses the TestProvider (tp) to properly
// construct the provider's configuration (see testNewConfig). This is helpful internally, but
// intentionally not exported.
func testNewProvider(t *testing.T, clientID, clientSecret, redirectURL string, tp *oidc.TestProvider, opt ...oidc.Option) *oidc.Provider {
	const op = "testNewProvider"
	t.Helper()
	require := require.New(t)
	require.NotEmptyf(clientID, "%s: client id is empty", op)
	require.NotEmptyf(clientSecret, "%s: client secret is empty", op)
	require.NotEmptyf(redirectURL, "%s: redirect URL is empty", op)

	tc := testNewConfig(t, clientID, clientSecret, redirectURL, tp, opt...)
	p, err := oidc.NewProvider(tc)
	require.NoError(err)
	t.Cleanup(p.Done)
	return p
}

// testNewConfig creates a new config from the TestProvider. It will set the
// TestProvider's client ID/secret and use the TestProviders signing algorithm
// when building the configuration. This is helpful internally, but
// intentionally not exported.
func testNewConfig(t *testing.T, clientID, clientSecret, redirectURL string, tp *oidc.TestProvider, opt ...oidc.Option) *oidc.Config {
	const op = "testNewConfig"
	t.Helper()
	require := require.New(t)

	require.NotEmptyf(clientID, "%s: client id is empty", op)
	require.NotEmptyf(clientSecret, "%s: client secret is empty", op)
	require.NotEmptyf(redirectURL, "%s: redirect URL is empty", op)

	tp.SetClientCreds(clientID, clientSecret)
	_, _, alg := tp.SigningKeys()
	c, err := oidc.NewConfig(
		tp.Addr(),
		clientID,
		oidc.ClientSecret(clientSecret),
		[]oidc.Alg{alg},
		redirectURL,
		append([]oidc.Option{
			oidc.WithProviderCA(tp.CACert()),
			oidc.WithClientAuthMethod(oidc.ClientSecretPost),
		}, opt...)...,
	)
	require.NoError(err)
	return c
}

// login starts an attempt with the verifier and follows the provider's
// redirect to the callback server, returning the callback's response.
func (e *testEnv) login(t *testing.T, v oidc.CodeVerifier) (int, []byte) {
	t.Helper()
	require := require.New(t)
	r, err := oidc.NewRequest("", oidc.WithPKCE(v))
	require.NoError(err)
	authURL, err := e.p.AuthURL(context.Background(), r)
	require.NoError(err)

	resp, err := e.tp.HTTPClient().Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	contents, err := io.ReadAll(resp.Body)
	require.NoError(err)
	return resp.StatusCode, contents
}

func TestAuthCode(t *testing.T) {
	env := newTestEnv(t)
	rw := &SingleVerifierReader{}

	tests := []struct {
		name      string
		p         *oidc.Provider
		rw        VerifierReader
		sFn       SuccessResponseFunc
		eFn       ErrorResponseFunc
		wantErr   bool
		wantIsErr error
	}{
		{"valid", env.p, rw, testSuccessFn, testFailFn, false, nil},
		{"nil-p", nil, rw, testSuccessFn, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-rw", env.p, nil, testSuccessFn, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-sFn", env.p, rw, nil, testFailFn, true, oidc.ErrInvalidParameter},
		{"nil-eFn", env.p, rw, testSuccessFn, nil, true, oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := AuthCode(tt.p, tt.rw, tt.sFn, tt.eFn)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			assert.NotNil(got)
		})
	}
}

func Test_AuthCodeResponses(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		env := newTestEnv(t)
		v, err := oidc.NewCodeVerifier()
		require.NoError(err)
		reader := &testClearingReader{SingleVerifierReader: SingleVerifierReader{Verifier: v}}
		env.callbackSrv.Config.Handler, err = AuthCode(env.p, reader, testSuccessFn, testFailFn)
		require.NoError(err)

		status, contents := env.login(t, v)
		require.Equal(http.StatusOK, status, string(contents))

		var got struct {
			Token          map[string]interface{} `json:"token"`
			IDTokenClaims  map[string]interface{} `json:"id_token_claims"`
			UserInfoClaims map[string]interface{} `json:"userinfo_claims"`
		}
		require.NoError(json.Unmarshal(contents, &got))
		assert.Equal("alice@example.com", got.IDTokenClaims["sub"])
		assert.Equal("alice@example.com", got.UserInfoClaims["sub"])
		assert.Equal("Bearer", got.Token["token_type"])
		assert.Equal(oidc.RedactedIDToken, got.Token["id_token"])
		assert.Equal(oidc.RedactedAccessToken, got.Token["access_token"])
		assert.Equal(1, env.tp.TokenRequests())
		assert.Equal(int32(1), atomic.LoadInt32(&reader.cleared))
	})

	tests := []struct {
		name            string
		providerOpts    []oidc.Option
		setup           func(env *testEnv)
		reader          func(v oidc.CodeVerifier) VerifierReader
		wantStatusCode  int
		wantKind        Kind
		wantCode        string
		wantTokenReqs   int
		wantNotContains string
	}{
		{
			name:           "access-denied",
			setup:          func(env *testEnv) { env.tp.SetExpectedAuthCode("") },
			wantStatusCode: http.StatusUnauthorized,
			wantKind:       KindAuthorizationDenied,
			wantCode:       "access_denied",
			wantTokenReqs:  0,
		},
		{
			name: "missing-verifier",
			reader: func(oidc.CodeVerifier) VerifierReader {
				return &SingleVerifierReader{}
			},
			wantStatusCode: http.StatusUnauthorized,
			wantKind:       KindInvalidVerifierCookie,
			wantTokenReqs:  0,
		},
		{
			name: "verifier-mismatch",
			reader: func(oidc.CodeVerifier) VerifierReader {
				other, _ := oidc.NewCodeVerifier()
				return &SingleVerifierReader{Verifier: other}
			},
			wantStatusCode: http.StatusBadGateway,
			wantKind:       KindTokenExchangeFailed,
			wantCode:       "invalid_grant",
			wantTokenReqs:  1,
		},
		{
			name:            "wrong-audience",
			setup:           func(env *testEnv) { env.tp.SetCustomAudience("not-this-client") },
			wantStatusCode:  http.StatusUnauthorized,
			wantKind:        KindInvalidIDToken,
			wantTokenReqs:   1,
			wantNotContains: "not-this-client",
		},
		{
			name:           "userinfo-unauthorized",
			setup:          func(env *testEnv) { env.tp.SetUserInfoStatus(http.StatusUnauthorized) },
			wantStatusCode: http.StatusBadGateway,
			wantKind:       KindUserInfoFailed,
			wantTokenReqs:  1,
		},
		{
			name: "userinfo-subject-mismatch",
			setup: func(env *testEnv) {
				env.tp.SetUserInfoReply(map[string]interface{}{"sub": "eve@example.com"})
			},
			wantStatusCode: http.StatusBadGateway,
			wantKind:       KindUserInfoFailed,
			wantTokenReqs:  1,
		},
		{
			name:           "missing-id-token",
			setup:          func(env *testEnv) { env.tp.SetOmitIDTokens(true) },
			wantStatusCode: http.StatusUnauthorized,
			wantKind:       KindInvalidIDToken,
			wantTokenReqs:  1,
		},
		{
			name:           "token-timeout",
			providerOpts:   []oidc.Option{oidc.WithHTTPTimeout(200 * time.Millisecond)},
			setup:          func(env *testEnv) { env.tp.SetTokenDelay(2 * time.Second) },
			wantStatusCode: http.StatusBadGateway,
			wantKind:       KindTokenExchangeFailed,
			wantTokenReqs:  1,
		},
		{
			name:           "userinfo-timeout",
			providerOpts:   []oidc.Option{oidc.WithHTTPTimeout(200 * time.Millisecond)},
			setup:          func(env *testEnv) { env.tp.SetUserInfoDelay(2 * time.Second) },
			wantStatusCode: http.StatusBadGateway,
			wantKind:       KindUserInfoFailed,
			wantTokenReqs:  1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			env := newTestEnv(t, tt.providerOpts...)
			if tt.setup != nil {
				tt.setup(env)
			}
			v, err := oidc.NewCodeVerifier()
			require.NoError(err)
			var reader VerifierReader = &SingleVerifierReader{Verifier: v}
			if tt.reader != nil {
				reader = tt.reader(v)
			}
			env.callbackSrv.Config.Handler, err = AuthCode(env.p, reader, testSuccessFn, testFailFn)
			require.NoError(err)

			status, contents := env.login(t, v)
			assert.Equal(tt.wantStatusCode, status, string(contents))
			var got testFailResponse
			require.NoError(json.Unmarshal(contents, &got))
			assert.Equal(tt.wantKind, got.Kind)
			if tt.wantCode != "" {
				assert.Equal(tt.wantCode, got.Code)
			}
			if tt.wantNotContains != "" {
				assert.NotContains(got.Error, tt.wantNotContains)
			}
			assert.Equal(tt.wantTokenReqs, env.tp.TokenRequests())
		})
	}
}

func TestExchanger_Exchange(t *testing.T) {
	env := newTestEnv(t)
	v, err := oidc.NewCodeVerifier()
	require.NoError(t, err)
	ex, err := NewExchanger(env.p, &SingleVerifierReader{Verifier: v}, WithRequestOptions(oidc.WithScopes("email")))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("nil-request", func(t *testing.T) {
		_, err := ex.Exchange(ctx, nil)
		assert.ErrorIs(t, err, oidc.ErrNilParameter)
	})
	t.Run("missing-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req := httptest.NewRequest(http.MethodGet, "/callback", nil)
		got, err := ex.Exchange(ctx, req)
		require.Error(err)
		assert.Nil(got)
		assert.ErrorIs(err, oidc.ErrInvalidParameter)
		assert.Equal(KindInvalidCallback, FailureKind(err))
	})
	t.Run("error-response", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req := httptest.NewRequest(http.MethodGet, "/callback?error=access_denied&error_description=nope&error_uri=https%3A%2F%2Fexample.com%2Ferr&code=ignored", nil)
		_, err := ex.Exchange(ctx, req)
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrAuthorizationDenied)
		var pe *oidc.ProviderError
		require.True(errors.As(err, &pe))
		assert.Equal("access_denied", pe.Code)
		assert.Equal("nope", pe.Description)
		assert.Equal("https://example.com/err", pe.URI)
		assert.Equal(0, env.tp.TokenRequests())
	})
	t.Run("reader-error-is-wrapped", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ex, err := NewExchanger(env.p, testErrReader{})
		require.NoError(err)
		req := httptest.NewRequest(http.MethodGet, "/callback?code=abc", nil)
		_, err = ex.Exchange(ctx, req)
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrInvalidVerifierCookie)
		assert.ErrorIs(err, io.ErrUnexpectedEOF)
	})
}

// testErrReader is a VerifierReader which always fails with an error that
// doesn't match oidc.ErrInvalidVerifierCookie
type testErrReader struct{}

func (testErrReader) Read(*http.Request) (oidc.CodeVerifier, error) {
	return nil, io.ErrUnexpectedEOF
}
