// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/pkcelogin/pkcelogin/oidc"
)

// Exchanger completes authorization code (with PKCE) authentication attempts
// from the provider's redirect to the callback.
//
// An Exchanger is immutable and safe for concurrent use.
type Exchanger struct {
	provider    *oidc.Provider
	reader      VerifierReader
	logger      hclog.Logger
	requestOpts []oidc.Option
}

// NewExchanger creates an Exchanger which reads each attempt's verifier with
// the VerifierReader.
//
// Supported options: WithLogger, WithRequestOptions
func NewExchanger(p *oidc.Provider, vr VerifierReader, opt ...oidc.Option) (*Exchanger, error) {
	const op = "callback.NewExchanger"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if vr == nil {
		return nil, fmt.Errorf("%s: verifier reader is nil: %w", op, oidc.ErrInvalidParameter)
	}
	opts := getCallbackOpts(opt...)
	return &Exchanger{
		provider:    p,
		reader:      vr,
		logger:      opts.withLogger,
		requestOpts: opts.withRequestOpts,
	}, nil
}

// Exchange handles one callback request.  The authentication response's
// parameters are read from either the body or query parameters (FormValue
// prioritizes body values, if found).
//
// The provider's token endpoint is only contacted when the response carries
// an authorization code and the attempt's verifier was read successfully.
// Errors match one of: oidc.ErrAuthorizationDenied (an *oidc.ProviderError),
// oidc.ErrInvalidParameter, oidc.ErrInvalidVerifierCookie,
// oidc.ErrTokenExchangeFailed, oidc.ErrInvalidIDToken or
// oidc.ErrUserInfoFailed.
func (e *Exchanger) Exchange(ctx context.Context, req *http.Request) (*Result, error) {
	const op = "Exchanger.Exchange"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, oidc.ErrNilParameter)
	}

	if code := req.FormValue("error"); code != "" {
		return nil, fmt.Errorf("%s: %w", op, &oidc.ProviderError{
			Kind:        oidc.ErrAuthorizationDenied,
			Code:        code,
			Description: req.FormValue("error_description"),
			URI:         req.FormValue("error_uri"),
		})
	}
	code := req.FormValue("code")
	if code == "" {
		return nil, fmt.Errorf("%s: callback is missing the authorization code: %w", op, oidc.ErrInvalidParameter)
	}

	v, err := e.reader.Read(req)
	if err != nil {
		if !errors.Is(err, oidc.ErrInvalidVerifierCookie) {
			err = fmt.Errorf("%w: %w", err, oidc.ErrInvalidVerifierCookie)
		}
		return nil, fmt.Errorf("%s: unable to read verifier: %w", op, err)
	}
	oidcRequest, err := oidc.NewRequest("", append(append([]oidc.Option{}, e.requestOpts...), oidc.WithPKCE(v))...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}

	oidc.FlowExchanging.Log(e.logger)
	tk, err := e.provider.Exchange(ctx, oidcRequest, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// Exchange verified the id_token
	idClaims := tk.IDTokenClaims()
	sub, _ := idClaims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%s: id_token is missing the sub claim: %w", op, oidc.ErrInvalidIDToken)
	}

	var infoClaims map[string]interface{}
	if err := e.provider.UserInfo(ctx, tk.StaticTokenSource(), sub, &infoClaims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Result{
		Token:          tk,
		IDTokenClaims:  idClaims,
		UserInfoClaims: infoClaims,
	}, nil
}

// AuthCode creates an oidc authorization code (with PKCE) callback handler
// which uses a VerifierReader to read the attempt's verifier.  If the
// VerifierReader is also a VerifierClearer, the verifier is cleared before
// either response func is called.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
//
// Supported options: WithLogger, WithRequestOptions
func AuthCode(p *oidc.Provider, vr VerifierReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc, opt ...oidc.Option) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	if sFn == nil {
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if eFn == nil {
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	ex, err := NewExchanger(p, vr, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	clearer, _ := vr.(VerifierClearer)

	return func(w http.ResponseWriter, req *http.Request) {
		result, err := ex.Exchange(req.Context(), req)
		if clearer != nil {
			clearer.Clear(w)
		}
		if err != nil {
			oidc.FlowFailed.Log(ex.logger, "kind", FailureKind(err), "error", err)
			eFn(err, w, req)
			return
		}
		oidc.FlowAuthenticated.Log(ex.logger, "sub", result.Subject())
		sFn(result, w, req)
	}, nil
}

// callbackOptions is the set of available options for callback functions
type callbackOptions struct {
	withLogger      hclog.Logger
	withRequestOpts []oidc.Option
}

// callbackDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func callbackDefaults() callbackOptions {
	return callbackOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getCallbackOpts gets the callback defaults and applies the opt overrides
// passed in
func getCallbackOpts(opt ...oidc.Option) callbackOptions {
	opts := callbackDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for flow state transitions.
//
// Valid for: Exchanger and AuthCode
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		if o, ok := o.(*callbackOptions); ok {
			o.withLogger = l
		}
	}
}

// WithRequestOptions provides the oidc.Request options (like oidc.WithScopes
// and oidc.WithIDTokenClaims) used when the attempt was started, so the code
// is exchanged for the same request.
//
// Valid for: Exchanger and AuthCode
func WithRequestOptions(opt ...oidc.Option) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*callbackOptions); ok {
			o.withRequestOpts = opt
		}
	}
}
