package rpc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// ScopeSubmit is the scope a bearer token needs to feed state changes.
	ScopeSubmit = "statechanges:submit"
	// ScopeChainSync additionally admits blocks and confirmed contract
	// events. Only the chain-sync adapter should hold it.
	ScopeChainSync = "statechanges:chain"
)

type scopesKey struct{}

// grantedScopes returns the scopes of the token that authorised r.
func grantedScopes(ctx context.Context) string {
	scopes, _ := ctx.Value(scopesKey{}).(string)
	return scopes
}

// AuthConfig configures bearer token checks for the ingestion endpoint.
type AuthConfig struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

type ingestClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued to the adapters that
// submit state changes.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator validates cfg and builds the token parser.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("rpc: auth secret required")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		secret: append([]byte(nil), cfg.Secret...),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Require rejects requests without a valid token carrying scope.
func (a *Authenticator) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r.Header.Get("Authorization"))
			if raw == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims := &ingestClaims{}
			if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return a.secret, nil
			}); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !hasScope(claims.Scope, scope) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopesKey{}, claims.Scope)))
		})
	}
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func hasScope(granted, want string) bool {
	for _, scope := range strings.Fields(granted) {
		if scope == want {
			return true
		}
	}
	return false
}
