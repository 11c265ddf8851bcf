// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cookie

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/pkcelogin/pkcelogin/oidc"
)

const (
	// DefaultName of the verifier cookie.
	DefaultName = "verifier"

	// DefaultMaxAge of the verifier cookie; a login attempt must complete
	// within it.
	DefaultMaxAge = 10 * time.Minute

	// MinHashKeyLen is the minimum length of the signing key.
	MinHashKeyLen = 32
)

// VerifierCookie carries a PKCE code verifier across the authorization
// redirect in a signed (HMAC-SHA256), HttpOnly, SameSite=Lax session cookie.
// The signature covers the cookie name, a timestamp and the verifier, so a
// cookie that was tampered with, renamed or is older than its max age is
// rejected.  The max age is only enforced through the signed timestamp; the
// browser is never given a Max-Age or Expires.
//
// A VerifierCookie is immutable and safe for concurrent use.
type VerifierCookie struct {
	name   string
	path   string
	secure bool
	codec  *securecookie.SecureCookie
}

// New creates a VerifierCookie which signs with hashKey.  The hashKey must
// be at least MinHashKeyLen bytes.
//
// Supported options: WithName, WithPath, WithSecure, WithMaxAge,
// WithEncryptionKey
func New(hashKey []byte, opt ...oidc.Option) (*VerifierCookie, error) {
	const op = "cookie.New"
	if len(hashKey) < MinHashKeyLen {
		return nil, fmt.Errorf("%s: hash key must be at least %d bytes: %w", op, MinHashKeyLen, oidc.ErrInvalidParameter)
	}
	opts := getCookieOpts(opt...)
	if opts.withName == "" {
		return nil, fmt.Errorf("%s: cookie name is empty: %w", op, oidc.ErrInvalidParameter)
	}
	if opts.withMaxAge < time.Second {
		return nil, fmt.Errorf("%s: max age must be at least 1s: %w", op, oidc.ErrInvalidParameter)
	}
	switch len(opts.withEncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%s: encryption key must be 16, 24 or 32 bytes: %w", op, oidc.ErrInvalidParameter)
	}

	codec := securecookie.New(hashKey, opts.withEncryptionKey).
		MaxAge(int(opts.withMaxAge.Seconds())).
		SetSerializer(securecookie.JSONEncoder{})

	return &VerifierCookie{
		name:   opts.withName,
		path:   opts.withPath,
		secure: opts.withSecure,
		codec:  codec,
	}, nil
}

// Name of the cookie.
func (c *VerifierCookie) Name() string { return c.name }

// Encode returns the signed cookie value for the verifier.
func (c *VerifierCookie) Encode(v oidc.CodeVerifier) (string, error) {
	const op = "VerifierCookie.Encode"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, oidc.ErrNilParameter)
	}
	encoded, err := c.codec.Encode(c.name, v.Verifier())
	if err != nil {
		return "", fmt.Errorf("%s: unable to encode verifier: %w", op, err)
	}
	return encoded, nil
}

// Decode verifies the signed cookie value and rebuilds its verifier.  Every
// failure matches oidc.ErrInvalidVerifierCookie.
func (c *VerifierCookie) Decode(value string) (oidc.CodeVerifier, error) {
	const op = "VerifierCookie.Decode"
	if value == "" {
		return nil, fmt.Errorf("%s: cookie value is empty: %w", op, oidc.ErrInvalidVerifierCookie)
	}
	var raw string
	if err := c.codec.Decode(c.name, value, &raw); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, oidc.ErrInvalidVerifierCookie)
	}
	v, err := oidc.NewCodeVerifierFrom(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, oidc.ErrInvalidVerifierCookie)
	}
	return v, nil
}

// Write sets the verifier cookie on the response.  It's a session cookie.
func (c *VerifierCookie) Write(w http.ResponseWriter, v oidc.CodeVerifier) error {
	const op = "VerifierCookie.Write"
	encoded, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	http.SetCookie(w, c.cookie(encoded, 0))
	return nil
}

// Read returns the verifier from the request's cookie.  An absent, unsigned,
// tampered or expired cookie returns an error matching
// oidc.ErrInvalidVerifierCookie.
func (c *VerifierCookie) Read(req *http.Request) (oidc.CodeVerifier, error) {
	const op = "VerifierCookie.Read"
	if req == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, oidc.ErrNilParameter)
	}
	ck, err := req.Cookie(c.name)
	switch {
	case errors.Is(err, http.ErrNoCookie):
		return nil, fmt.Errorf("%s: %q cookie is missing: %w", op, c.name, oidc.ErrInvalidVerifierCookie)
	case err != nil:
		return nil, fmt.Errorf("%s: %s: %w", op, err, oidc.ErrInvalidVerifierCookie)
	}
	v, err := c.Decode(ck.Value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Clear expires the verifier cookie.
func (c *VerifierCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

func (c *VerifierCookie) cookie(value string, maxAge int) *http.Cookie {
	ck := &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     c.path,
		MaxAge:   maxAge,
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		ck.Expires = time.Unix(0, 0)
	}
	return ck
}
