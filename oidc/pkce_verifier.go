// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/pkcelogin/pkcelogin/oidc/internal/base62"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// PKCE code challenge methods as defined by RFC 7636.
	//
	// See: https://tools.ietf.org/html/rfc7636#page-9
	S256 ChallengeMethod = "S256" // SHA-256
)

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://tools.ietf.org/html/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method.  It implements the CodeVerifier interface.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

const (
	// verifierLen of 43 base62 chars carries ~256 bits of entropy
	verifierLen = 43

	minVerifierLen = 43
	maxVerifierLen = 128
)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier).
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
func NewCodeVerifier() (*S256Verifier, error) {
	const op = "NewCodeVerifier"
	data, err := base62.Random(verifierLen)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier data %w: %s", op, ErrIDGeneratorFailed, err)
	}
	return newS256Verifier(data)
}

// NewCodeVerifierFrom rebuilds a CodeVerifier (*S256Verifier) from an existing
// verifier, typically one that was carried across the authorization redirect.
// The verifier must be 43-128 characters from the unreserved character set.
func NewCodeVerifierFrom(verifier string) (*S256Verifier, error) {
	const op = "NewCodeVerifierFrom"
	if err := validVerifier(verifier); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return newS256Verifier(verifier)
}

func newS256Verifier(data string) (*S256Verifier, error) {
	const op = "newS256Verifier"
	v := &S256Verifier{
		verifier: data,
		method:   S256,
	}
	var err error
	if v.challenge, err = CreateCodeChallenge(v.method, v); err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return v, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy returns a copy of the verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256
//
// See: https://tools.ietf.org/html/rfc7636#section-4.2
func CreateCodeChallenge(method ChallengeMethod, v CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case S256:
		h := sha256.Sum256([]byte(v.Verifier()))
		return base64.RawURLEncoding.EncodeToString(h[:]), nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}

// validVerifier enforces the code_verifier ABNF from RFC 7636:
// 43*128unreserved, unreserved = ALPHA / DIGIT / "-" / "." / "_" / "~"
func validVerifier(verifier string) error {
	if l := len(verifier); l < minVerifierLen || l > maxVerifierLen {
		return fmt.Errorf("verifier length %d not between %d and %d: %w", l, minVerifierLen, maxVerifierLen, ErrInvalidParameter)
	}
	for _, c := range verifier {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return fmt.Errorf("verifier contains reserved character %q: %w", c, ErrInvalidParameter)
		}
	}
	return nil
}
