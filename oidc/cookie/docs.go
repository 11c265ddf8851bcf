// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
cookie is a package that binds an oidc.CodeVerifier to the user agent between
the login page and the provider's redirect back to the callback.

The verifier never leaves the relying party except inside the signed cookie,
and the callback can only use a verifier whose signature and max age check
out.
*/
package cookie
