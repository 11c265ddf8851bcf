// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cookie

import (
	"time"

	"github.com/pkcelogin/pkcelogin/oidc"
)

// cookieOptions is the set of available options for VerifierCookie functions
type cookieOptions struct {
	withName          string
	withPath          string
	withSecure        bool
	withMaxAge        time.Duration
	withEncryptionKey []byte
}

// cookieDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func cookieDefaults() cookieOptions {
	return cookieOptions{
		withName:   DefaultName,
		withPath:   "/",
		withMaxAge: DefaultMaxAge,
	}
}

// getCookieOpts gets the cookie defaults and applies the opt overrides passed in
func getCookieOpts(opt ...oidc.Option) cookieOptions {
	opts := cookieDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithName overrides the cookie's name.
//
// Valid for: VerifierCookie
func WithName(name string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok {
			o.withName = name
		}
	}
}

// WithPath overrides the cookie's path.
//
// Valid for: VerifierCookie
func WithPath(path string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok {
			o.withPath = path
		}
	}
}

// WithSecure marks the cookie Secure, which should be used whenever the
// redirect URL is https.
//
// Valid for: VerifierCookie
func WithSecure(secure bool) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok {
			o.withSecure = secure
		}
	}
}

// WithMaxAge overrides how long a verifier cookie is accepted.  It's
// truncated to whole seconds.
//
// Valid for: VerifierCookie
func WithMaxAge(d time.Duration) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok {
			o.withMaxAge = d
		}
	}
}

// WithEncryptionKey encrypts the verifier with AES in addition to signing it.
// The key must be 16, 24 or 32 bytes.
//
// Valid for: VerifierCookie
func WithEncryptionKey(key []byte) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*cookieOptions); ok {
			o.withEncryptionKey = key
		}
	}
}
