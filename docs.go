// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// pkcelogin logs users in with a single OIDC provider using the
// authorization code flow with PKCE.
//
// The oidc package implements the relying party: code verifiers and
// challenges, authorization requests and URLs, provider discovery, the code
// exchange, id_token verification and user info.  The oidc/cookie package
// carries each attempt's verifier across the provider's redirect in a signed
// cookie, and the oidc/callback package completes attempts at the redirect
// URL.
//
// cmd/pkcelogin is a server built from these packages, configured from the
// environment.
package pkcelogin
