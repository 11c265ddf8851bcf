// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewToken(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	testJWT := testDefaultJWT(t, priv, 1*time.Minute, nil)
	testUnderlying := &oauth2.Token{
		AccessToken:  "test_access_token",
		RefreshToken: "test_refresh_token",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(1 * time.Hour),
	}
	testNow := func() time.Time {
		return time.Now().Add(-1 * time.Minute)
	}

	tests := []struct {
		name            string
		idToken         IDToken
		oauthToken      *oauth2.Token
		opts            []Option
		wantNowFunc     func() time.Time
		wantIDToken     IDToken
		wantAccessToken AccessToken
		wantRefresh     RefreshToken
		wantType        string
		wantErr         bool
		wantIsErr       error
	}{
		{
			name:            "valid",
			idToken:         IDToken(testJWT),
			oauthToken:      testUnderlying,
			opts:            []Option{WithNow(testNow)},
			wantNowFunc:     testNow,
			wantIDToken:     IDToken(testJWT),
			wantAccessToken: "test_access_token",
			wantRefresh:     "test_refresh_token",
			wantType:        "Bearer",
		},
		{
			name:        "nil-oauth2-token",
			idToken:     IDToken(testJWT),
			wantIDToken: IDToken(testJWT),
		},
		{
			name:       "empty-id-token",
			oauthToken: testUnderlying,
			wantErr:    true,
			wantIsErr:  ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewToken(tt.idToken, tt.oauthToken, tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantIDToken, got.IDToken())
			assert.Equal(tt.wantAccessToken, got.AccessToken())
			assert.Equal(tt.wantRefresh, got.RefreshToken())
			assert.Equal(tt.wantType, got.TokenType())
			if tt.wantNowFunc != nil {
				assert.True(got.nowFunc().Before(time.Now()))
			}
		})
	}
}

func TestTk_IsExpired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		tk    *Tk
		want  bool
		valid bool
	}{
		{
			name:  "not-expired",
			tk:    &Tk{idToken: "x", underlying: &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(1 * time.Minute)}},
			want:  false,
			valid: true,
		},
		{
			name: "expired",
			tk:   &Tk{idToken: "x", underlying: &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-1 * time.Minute)}},
			want: true,
		},
		{
			name: "within-skew",
			tk:   &Tk{idToken: "x", underlying: &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(TokenExpirySkew / 2)}},
			want: true,
		},
		{
			name:  "no-expiry",
			tk:    &Tk{idToken: "x", underlying: &oauth2.Token{AccessToken: "a"}},
			want:  false,
			valid: true,
		},
		{
			name: "empty-access-token",
			tk:   &Tk{idToken: "x", underlying: &oauth2.Token{Expiry: time.Now().Add(1 * time.Minute)}},
			want: false,
		},
		{
			name: "nil-underlying",
			tk:   &Tk{idToken: "x"},
			want: true,
		},
		{
			name: "now-func",
			tk: &Tk{
				idToken:    "x",
				underlying: &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(1 * time.Minute)},
				nowFunc:    func() time.Time { return time.Now().Add(1 * time.Hour) },
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tt.want, tt.tk.IsExpired())
			assert.Equal(tt.valid, tt.tk.Valid())
		})
	}
	t.Run("nil-tk", func(t *testing.T) {
		var tk *Tk
		assert.False(t, tk.Valid())
	})
}

func TestTk_StaticTokenSource(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	underlying := &oauth2.Token{AccessToken: "a"}
	tk, err := NewToken("x", underlying)
	require.NoError(err)
	got, err := tk.StaticTokenSource().Token()
	require.NoError(err)
	assert.Equal(underlying, got)

	tk, err = NewToken("x", nil)
	require.NoError(err)
	assert.Nil(tk.StaticTokenSource())
}

func TestTk_MarshalJSON(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tk, err := NewToken("super.secret.idtoken", &oauth2.Token{
		AccessToken: "super secret access token",
		TokenType:   "bearer",
		Expiry:      exp,
	})
	require.NoError(err)
	got, err := json.Marshal(tk)
	require.NoError(err)
	assert.NotContains(string(got), "super")
	assert.JSONEq(fmt.Sprintf(`{
		"token_type": "Bearer",
		"expiry": "2030-01-01T00:00:00Z",
		"access_token": %q,
		"id_token": %q
	}`, RedactedAccessToken, RedactedIDToken), string(got))
}

func TestAccessToken_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedAccessToken
		tk := AccessToken("super secret token")
		assert.Equalf(want, tk.String(), "AccessToken.String() = %v, want %v", tk.String(), want)
	})
}

func TestAccessToken_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedAccessToken)
		tk := AccessToken("super secret token")
		got, err := tk.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "AccessToken.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestRefreshToken_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedRefreshToken
		tk := RefreshToken("super secret token")
		assert.Equalf(want, tk.String(), "RefreshToken.String() = %v, want %v", tk.String(), want)
	})
}

func TestRefreshToken_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedRefreshToken)
		tk := RefreshToken("super secret token")
		got, err := tk.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "RefreshToken.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestIDToken_String(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert := assert.New(t)
		const want = RedactedIDToken
		tk := IDToken("super secret token")
		assert.Equalf(want, tk.String(), "IDToken.String() = %v, want %v", tk.String(), want)
	})
}

func TestIDToken_MarshalJSON(t *testing.T) {
	t.Parallel()
	t.Run("redacted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := fmt.Sprintf(`"%s"`, RedactedIDToken)
		tk := IDToken("super secret token")
		got, err := tk.MarshalJSON()
		require.NoError(err)
		assert.Equalf([]byte(want), got, "IDToken.MarshalJSON() = %s, want %s", got, want)
	})
}

func TestTk_IDTokenClaims(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	var nilTk *Tk
	assert.Nil(nilTk.IDTokenClaims())

	tk, err := NewToken("id-token", nil)
	require.NoError(err)
	assert.Nil(tk.IDTokenClaims(), "claims are only set by Provider.Exchange")

	tk.idTokenClaims = map[string]interface{}{"sub": "alice"}
	got := tk.IDTokenClaims()
	assert.Equal(map[string]interface{}{"sub": "alice"}, got)
	got["sub"] = "eve"
	assert.Equal("alice", tk.IDTokenClaims()["sub"])
}
