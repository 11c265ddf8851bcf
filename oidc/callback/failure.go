// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"net/http"

	"github.com/pkcelogin/pkcelogin/oidc"
)

// Kind names why a callback failed.
type Kind string

const (
	KindAuthorizationDenied     Kind = "AuthorizationDenied"
	KindInvalidVerifierCookie   Kind = "InvalidVerifierCookie"
	KindTokenExchangeFailed     Kind = "TokenExchangeFailed"
	KindInvalidIDToken          Kind = "InvalidIdToken"
	KindUserInfoFailed          Kind = "UserInfoFetchFailed"
	KindProviderDiscoveryFailed Kind = "ProviderDiscoveryFailed"
	KindInvalidCallback         Kind = "InvalidCallback"
	KindInternal                Kind = "Internal"
)

// FailureKind classifies a callback error.
func FailureKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, oidc.ErrAuthorizationDenied):
		return KindAuthorizationDenied
	case errors.Is(err, oidc.ErrInvalidVerifierCookie):
		return KindInvalidVerifierCookie
	case errors.Is(err, oidc.ErrTokenExchangeFailed):
		return KindTokenExchangeFailed
	case errors.Is(err, oidc.ErrInvalidIDToken):
		return KindInvalidIDToken
	case errors.Is(err, oidc.ErrUserInfoFailed):
		return KindUserInfoFailed
	case errors.Is(err, oidc.ErrProviderDiscoveryFailed):
		return KindProviderDiscoveryFailed
	case errors.Is(err, oidc.ErrInvalidParameter), errors.Is(err, oidc.ErrNilParameter):
		return KindInvalidCallback
	default:
		return KindInternal
	}
}

// HTTPStatus is the response status for the failure kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthorizationDenied, KindInvalidVerifierCookie, KindInvalidIDToken:
		return http.StatusUnauthorized
	case KindTokenExchangeFailed, KindUserInfoFailed, KindProviderDiscoveryFailed:
		return http.StatusBadGateway
	case KindInvalidCallback:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string { return string(k) }
