// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides a callback (in the form of an
http.HandlerFunc) for handling OIDC provider responses to authorization code
flow with PKCE authentication attempts.

The callback reads the attempt's oidc.CodeVerifier with a VerifierReader (see
the oidc/cookie package), exchanges the authorization code for tokens,
verifies the id_token and fetches the user's UserInfo claims.
*/
package callback
