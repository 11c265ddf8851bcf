// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package server provides the pkcelogin http routes: a login page which
// starts an authorization code (with PKCE) attempt, the provider's callback
// and a health check.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/pkcelogin/pkcelogin/oidc"
	"github.com/pkcelogin/pkcelogin/oidc/callback"
	"github.com/pkcelogin/pkcelogin/oidc/cookie"
	"github.com/pkcelogin/pkcelogin/sdk/id"
)

// DefaultProviderName is the {provider} path segment of the callback route.
const DefaultProviderName = "twitch"

// RequestIDHeader is the response header carrying the request's id.
const RequestIDHeader = "X-Request-Id"

// Server routes requests for a single provider.  It's immutable after New
// and safe for concurrent use.
type Server struct {
	provider     *oidc.Provider
	cookie       *cookie.VerifierCookie
	providerName string
	requestOpts  []oidc.Option
	logger       hclog.Logger
	callback     http.HandlerFunc
	router       chi.Router
}

// New creates a Server for the provider, carrying each attempt's verifier in
// the cookie.
//
// Supported options: WithProviderName, WithRequestOptions, WithLogger
func New(p *oidc.Provider, vc *cookie.VerifierCookie, opt ...oidc.Option) (*Server, error) {
	const op = "server.New"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	}
	if vc == nil {
		return nil, fmt.Errorf("%s: verifier cookie is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getServerOpts(opt...)
	if opts.withProviderName == "" {
		return nil, fmt.Errorf("%s: provider name is empty: %w", op, oidc.ErrInvalidParameter)
	}
	s := &Server{
		provider:     p,
		cookie:       vc,
		providerName: opts.withProviderName,
		requestOpts:  opts.withRequestOpts,
		logger:       opts.withLogger,
	}

	cb, err := callback.AuthCode(p, vc, s.renderSuccess, s.renderFailure,
		callback.WithLogger(s.logger.Named("callback")),
		callback.WithRequestOptions(s.requestOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create callback: %w", op, err)
	}
	s.callback = cb

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Get("/", s.handleLogin)
	r.Get("/auth/login/{provider}/callback", s.handleCallback)
	r.Get("/healthz", s.handleHealthz)
	r.NotFound(s.handleNotFound)
	s.router = r

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// CallbackPath is the path of the provider's callback route.
func (s *Server) CallbackPath() string {
	return fmt.Sprintf("/auth/login/%s/callback", s.providerName)
}

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}

// requestID assigns every request an id which is returned in the
// RequestIDHeader and included in its log entries.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid, err := id.New("req")
		if err != nil {
			s.logger.Error("unable to generate request id", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set(RequestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log(r).Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "elapsed", time.Since(start))
	})
}

// log returns the server's logger with the request's id.
func (s *Server) log(r *http.Request) hclog.Logger {
	if rid := RequestID(r.Context()); rid != "" {
		return s.logger.With("request_id", rid)
	}
	return s.logger
}

// serverOptions is the set of available options for Server functions
type serverOptions struct {
	withProviderName string
	withRequestOpts  []oidc.Option
	withLogger       hclog.Logger
}

// serverDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func serverDefaults() serverOptions {
	return serverOptions{
		withProviderName: DefaultProviderName,
		withLogger:       hclog.NewNullLogger(),
	}
}

// getServerOpts gets the server defaults and applies the opt overrides passed
// in
func getServerOpts(opt ...oidc.Option) serverOptions {
	opts := serverDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithProviderName sets the {provider} path segment of the callback route.
//
// Valid for: Server
func WithProviderName(name string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withProviderName = name
		}
	}
}

// WithRequestOptions provides the oidc.Request options (scopes, requested
// claims and ui_locales) of every login attempt.
//
// Valid for: Server
func WithRequestOptions(opt ...oidc.Option) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withRequestOpts = opt
		}
	}
}

// WithLogger provides an optional logger.
//
// Valid for: Server
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		if o, ok := o.(*serverOptions); ok {
			o.withLogger = l
		}
	}
}
