// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/pkcelogin/pkcelogin/oidc"
)

// Result of a successful callback.
type Result struct {
	// Token is the token set returned by the provider.  Its tokens are
	// redacted when printed or marshaled.
	Token *oidc.Tk `json:"token"`

	// IDTokenClaims are the claims of the verified id_token.
	IDTokenClaims map[string]interface{} `json:"id_token_claims"`

	// UserInfoClaims are the claims returned by the provider's UserInfo
	// endpoint.
	UserInfoClaims map[string]interface{} `json:"userinfo_claims"`
}

// Subject returns the id_token's "sub" claim.
func (r *Result) Subject() string {
	if r == nil {
		return ""
	}
	sub, _ := r.IDTokenClaims["sub"].(string)
	return sub
}

// SuccessResponseFunc is used by Callbacks to create a http response when the
// callback is successful.
//
// The Result holds the verified token set and claims.  The function should
// use the http.ResponseWriter to send back whatever content (headers, html,
// JSON, etc) it wishes to the client that originated the oidc flow.
type SuccessResponseFunc func(r *Result, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callbacks to create a http response when the
// callback fails.
//
// The error matches one of the oidc errors, see FailureKind for a way to
// classify it.  When the provider sent an error response, the error is an
// *oidc.ProviderError.  The function should use the http.ResponseWriter to
// send back whatever content (headers, html, JSON, etc) it wishes to the
// client that originated the oidc flow.
type ErrorResponseFunc func(e error, w http.ResponseWriter, req *http.Request)
