// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrMissingAccessToken         = errors.New("access_token is missing")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")

	// ErrProviderDiscoveryFailed is returned when the provider's well-known
	// configuration cannot be fetched or is incomplete.
	ErrProviderDiscoveryFailed = errors.New("provider discovery failed")

	// ErrInvalidVerifierCookie is returned when the PKCE verifier bound to the
	// user agent is absent, unsigned, tampered with or expired.
	ErrInvalidVerifierCookie = errors.New("invalid verifier cookie")

	// ErrAuthorizationDenied is returned when the provider redirected back
	// with an error instead of an authorization code.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrTokenExchangeFailed is returned when the token endpoint rejected
	// the authorization code or could not be reached.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrInvalidIDToken is returned when an id_token fails signature or
	// claims validation. The underlying cause is intentionally not part of
	// the error's message.
	ErrInvalidIDToken = errors.New("invalid id_token")

	// ErrUserInfoFailed is returned when the provider's UserInfo endpoint
	// rejected the access token or returned an unusable response.
	ErrUserInfoFailed = errors.New("user info failed")
)

// ProviderError represents an OAuth2 error response sent by the provider,
// either as callback query parameters or as a token endpoint response body.
// See: https://www.rfc-editor.org/rfc/rfc6749#section-5.2
//
// Kind is the category of the failure (ErrAuthorizationDenied or
// ErrTokenExchangeFailed) and is what Unwrap returns, so callers can use
// errors.Is against the category and errors.As to get the provider's payload.
type ProviderError struct {
	Kind        error  `json:"-"`
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

// Error satisfies the error interface.
func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
	}
	switch {
	case e.Code != "":
		b.WriteString(e.Code)
	case e.StatusCode != 0:
		b.WriteString(fmt.Sprintf("unexpected status %d", e.StatusCode))
	default:
		b.WriteString("unknown provider error")
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	return b.String()
}

// Unwrap returns the error's Kind.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// newTokenEndpointError builds a ProviderError from a token endpoint response
// body. Bodies which aren't a json error response are kept in the
// Description, truncated.
func newTokenEndpointError(statusCode int, body []byte) *ProviderError {
	const maxDescription = 256
	pe := &ProviderError{
		Kind:       ErrTokenExchangeFailed,
		StatusCode: statusCode,
	}
	if err := json.Unmarshal(body, pe); err != nil || pe.Code == "" {
		pe.Code = ""
		desc := strings.TrimSpace(string(body))
		if len(desc) > maxDescription {
			desc = desc[:maxDescription]
		}
		pe.Description = desc
	}
	return pe
}
