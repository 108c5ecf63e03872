package rpc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"channeld/core/types"
)

var testAuthSecret = []byte("adapter-secret")

func signToken(t *testing.T, secret []byte, scope string, expires time.Time) string {
	t.Helper()
	now := time.Now()
	claims := ingestClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chain-sync",
			Audience:  jwt.ClaimStrings{"channeld"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestIngestionRequiresToken(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{Secret: testAuthSecret, Issuer: "chain-sync", Audience: "channeld"})
	require.NoError(t, err)
	sub := &fakeSubmitter{}
	srv := httptest.NewServer(NewServer(&staticSource{}, nil, WithSubmitter(sub), WithAuthenticator(auth)).Handler())
	defer srv.Close()

	raw, err := types.EncodeStateChange(&types.Block{Number: 5})
	require.NoError(t, err)
	hour := time.Now().Add(time.Hour)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong secret", token: signToken(t, []byte("other"), ScopeSubmit, hour), want: http.StatusUnauthorized},
		{name: "expired", token: signToken(t, testAuthSecret, ScopeSubmit, time.Now().Add(-time.Hour)), want: http.StatusUnauthorized},
		{name: "missing scope", token: signToken(t, testAuthSecret, "status:read", hour), want: http.StatusForbidden},
		{name: "no chain scope", token: signToken(t, testAuthSecret, ScopeSubmit, hour), want: http.StatusForbidden},
		{name: "valid", token: signToken(t, testAuthSecret, "status:read "+ScopeSubmit+" "+ScopeChainSync, hour), want: http.StatusOK},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/statechanges", strings.NewReader(string(raw)))
		require.NoError(t, err)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, tc.want, resp.StatusCode, tc.name)
	}
	require.Len(t, sub.got, 1)
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{})
	require.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("Bearer abc"))
	require.Equal(t, "abc", extractBearer("  bearer   abc "))
	require.Empty(t, extractBearer("Basic abc"))
	require.Empty(t, extractBearer(""))
}
