// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"

	"github.com/pkcelogin/pkcelogin/oidc"
)

// VerifierReader defines an interface for reading the oidc.CodeVerifier of
// the authentication attempt a callback request belongs to.
//
// Implementations must be concurrently safe, since the reader will likely be
// used within a concurrent http.Handler.  Errors should match
// oidc.ErrInvalidVerifierCookie.
type VerifierReader interface {
	Read(req *http.Request) (oidc.CodeVerifier, error)
}

// VerifierClearer is optionally implemented by a VerifierReader which binds
// the verifier to the user agent (like a cookie).  Clear is called once the
// callback is done, successful or not.
type VerifierClearer interface {
	Clear(w http.ResponseWriter)
}

// SingleVerifierReader implements the VerifierReader interface for a single
// verifier, which is handy for CLIs that only ever have one attempt in
// flight. It is concurrently safe.
type SingleVerifierReader struct {
	Verifier oidc.CodeVerifier
}

// Read returns a copy of its verifier, or an error matching
// oidc.ErrInvalidVerifierCookie if it doesn't have one.
func (sr *SingleVerifierReader) Read(_ *http.Request) (oidc.CodeVerifier, error) {
	const op = "SingleVerifierReader.Read"
	if sr.Verifier == nil {
		return nil, fmt.Errorf("%s: no verifier: %w", op, oidc.ErrInvalidVerifierCookie)
	}
	return sr.Verifier.Copy(), nil
}
