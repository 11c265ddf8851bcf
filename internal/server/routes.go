// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/pkcelogin/pkcelogin/oidc"
	"github.com/pkcelogin/pkcelogin/oidc/callback"
)

// handleLogin starts a new attempt: a new verifier is written to the cookie
// and the page links to the provider's authorization endpoint.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := s.log(r)
	oidc.FlowIdle.Log(logger)
	v, err := oidc.NewCodeVerifier()
	if err != nil {
		logger.Error("unable to create verifier", "error", err)
		s.renderPage(w, r, http.StatusInternalServerError, "failure", failurePage{Kind: callback.KindInternal})
		return
	}
	oidcRequest, err := oidc.NewRequest("", append(append([]oidc.Option{}, s.requestOpts...), oidc.WithPKCE(v))...)
	if err != nil {
		logger.Error("unable to create request", "error", err)
		s.renderPage(w, r, http.StatusInternalServerError, "failure", failurePage{Kind: callback.KindInternal})
		return
	}
	authURL, err := s.provider.AuthURL(r.Context(), oidcRequest)
	if err != nil {
		logger.Error("unable to create auth url", "error", err)
		s.renderPage(w, r, http.StatusInternalServerError, "failure", failurePage{Kind: callback.KindInternal})
		return
	}
	if err := s.cookie.Write(w, v); err != nil {
		logger.Error("unable to write verifier cookie", "error", err)
		s.renderPage(w, r, http.StatusInternalServerError, "failure", failurePage{Kind: callback.KindInternal})
		return
	}
	oidc.FlowAwaitingCallback.Log(logger)
	s.renderPage(w, r, http.StatusOK, "login", loginPage{
		ProviderName: s.providerName,
		AuthURL:      authURL,
	})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "provider") != s.providerName {
		s.handleNotFound(w, r)
		return
	}
	s.callback(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, "ok")
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusNotFound, "notfound", nil)
}

// renderSuccess is the callback.SuccessResponseFunc.  The token set is
// rendered with its tokens redacted.
func (s *Server) renderSuccess(result *callback.Result, w http.ResponseWriter, r *http.Request) {
	s.log(r).Info("authenticated", "sub", result.Subject())
	page := successPage{
		ProviderName:   s.providerName,
		Subject:        result.Subject(),
		IDTokenClaims:  result.IDTokenClaims,
		UserInfoClaims: result.UserInfoClaims,
	}
	if result.Token != nil {
		tokenSet, err := json.MarshalIndent(result.Token, "", "  ")
		if err != nil {
			s.log(r).Error("unable to marshal token set", "error", err)
			s.renderPage(w, r, http.StatusInternalServerError, "failure", failurePage{Kind: callback.KindInternal})
			return
		}
		page.TokenSet = string(tokenSet)
	}
	s.renderPage(w, r, http.StatusOK, "success", page)
}

// renderFailure is the callback.ErrorResponseFunc.  The page names the kind
// of failure and, for provider errors, the provider's error code; the
// underlying detail is only logged.
func (s *Server) renderFailure(e error, w http.ResponseWriter, r *http.Request) {
	kind := callback.FailureKind(e)
	s.log(r).Warn("callback failed", "kind", kind, "error", e)
	page := failurePage{Kind: kind}
	var pe *oidc.ProviderError
	if errors.As(e, &pe) {
		page.Code = pe.Code
		page.Description = pe.Description
	}
	s.renderPage(w, r, kind.HTTPStatus(), "failure", page)
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data interface{}) {
	body, err := executePage(name, data)
	if err != nil {
		s.log(r).Error("unable to render page", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	render.Status(r, status)
	render.HTML(w, r, body)
}
