// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for logging users in with an OIDC provider using the
authorization code flow with PKCE.

Primary types provided by the package

* CodeVerifier: the PKCE secret (and its S256 challenge) for one login
attempt.  A new one is created for every attempt (see NewCodeVerifier) and
rebuilt at callback time from the value carried across the redirect (see
NewCodeVerifierFrom).

* Request: represents one OIDC authentication flow for a user.  It carries the
CodeVerifier along with optional scopes, requested claims and ui_locales.

* Token: represents an OIDC id_token, as well as an Oauth2 access_token and
refresh_token (including the the access_token expiry).  Tokens are redacted
when printed or marshaled.

* Config: provides the configuration for the relying party (for example:
client Id/Secret, redirect URL, supported signing algorithms, additional
scopes requested, client auth method, etc)

* Provider: provides integration with a provider discovered from its issuer.
The provider provides capabilities like: generating an auth URL, exchanging
codes for tokens, verifying id_tokens and making user info requests.

* ProviderError: an OAuth2 error response from the provider.

* Alg: represents asymmetric signing algorithms

The oidc.callback package

The callback package includes the ability to create a http.HandlerFunc which can be used
for the 3rd leg of the OIDC flow where the authorization code is exchanged for
tokens.

The oidc.cookie package

The cookie package binds a CodeVerifier to the user agent with a signed,
HttpOnly cookie between the login page and the callback.

Testing

TestProvider is a local provider which enforces PKCE at its token endpoint.
See StartTestProvider.
*/
package oidc
