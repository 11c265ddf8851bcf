// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pkcelogin/pkcelogin/oidc"
	"github.com/stretchr/testify/assert"
)

func TestFailureKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		want       Kind
		wantStatus int
	}{
		{"nil", nil, "", http.StatusInternalServerError},
		{"denied", fmt.Errorf("op: %w", &oidc.ProviderError{Kind: oidc.ErrAuthorizationDenied, Code: "access_denied"}), KindAuthorizationDenied, http.StatusUnauthorized},
		{"cookie", fmt.Errorf("op: %w", oidc.ErrInvalidVerifierCookie), KindInvalidVerifierCookie, http.StatusUnauthorized},
		{"exchange", fmt.Errorf("op: %w", &oidc.ProviderError{Kind: oidc.ErrTokenExchangeFailed, Code: "invalid_grant"}), KindTokenExchangeFailed, http.StatusBadGateway},
		{"id-token", fmt.Errorf("op: %w: %w", oidc.ErrInvalidIDToken, oidc.ErrMissingIDToken), KindInvalidIDToken, http.StatusUnauthorized},
		{"userinfo", fmt.Errorf("op: %w", oidc.ErrUserInfoFailed), KindUserInfoFailed, http.StatusBadGateway},
		{"discovery", fmt.Errorf("op: %w", oidc.ErrProviderDiscoveryFailed), KindProviderDiscoveryFailed, http.StatusBadGateway},
		{"invalid-param", fmt.Errorf("op: %w", oidc.ErrInvalidParameter), KindInvalidCallback, http.StatusBadRequest},
		{"nil-param", fmt.Errorf("op: %w", oidc.ErrNilParameter), KindInvalidCallback, http.StatusBadRequest},
		{"other", errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			got := FailureKind(tt.err)
			assert.Equal(tt.want, got)
			assert.Equal(tt.wantStatus, got.HTTPStatus())
		})
	}
}

func TestSingleVerifierReader_Read(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	v, err := oidc.NewCodeVerifier()
	assert.NoError(err)

	got, err := (&SingleVerifierReader{Verifier: v}).Read(nil)
	assert.NoError(err)
	assert.Equal(v.Verifier(), got.Verifier())

	_, err = (&SingleVerifierReader{}).Read(nil)
	assert.ErrorIs(err, oidc.ErrInvalidVerifierCookie)
}

func TestResult_Subject(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var nilResult *Result
	assert.Empty(nilResult.Subject())
	assert.Equal("alice", (&Result{IDTokenClaims: map[string]interface{}{"sub": "alice"}}).Subject())
	assert.Empty((&Result{IDTokenClaims: map[string]interface{}{"sub": 1}}).Subject())
}
