// Package authmw provides HTTP middleware for bearer token authentication.
// Each token maps to the operator it acts as.
package authmw

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

type ctxKeyOperator struct{}

// WithOperator returns a copy of ctx carrying the authenticated operator id.
func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, ctxKeyOperator{}, operatorID)
}

// Operator returns the operator id set by BearerTokens.
func Operator(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyOperator{}).(string)
	return id, ok && id != ""
}

type credential struct {
	token    []byte
	operator string
}

var (
	errMalformed = errors.New("missing or malformed authorization header")
	errInvalid   = errors.New("invalid token")
)

// Authenticator resolves bearer tokens to operator ids.
type Authenticator struct {
	creds []credential
}

// NewAuthenticator creates an Authenticator from a token to operator map.
// Entries with an empty token or operator are dropped.
func NewAuthenticator(tokens map[string]string) *Authenticator {
	creds := make([]credential, 0, len(tokens))
	for tok, op := range tokens {
		if tok == "" || op == "" {
			continue
		}
		creds = append(creds, credential{token: []byte(tok), operator: op})
	}
	return &Authenticator{creds: creds}
}

// Resolve returns the operator for an Authorization header value.
// Comparison uses constant-time equality and visits every configured
// token.
func (a *Authenticator) Resolve(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errMalformed
	}
	got := []byte(header[len("Bearer "):])

	operator := ""
	for _, c := range a.creds {
		if subtle.ConstantTimeCompare(got, c.token) == 1 {
			operator = c.operator
		}
	}
	if operator == "" {
		return "", errInvalid
	}
	return operator, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// matching operator id in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, err := a.Resolve(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operator)))
	})
}

// BearerTokens returns middleware authenticating against tokens.
func BearerTokens(tokens map[string]string) func(http.Handler) http.Handler {
	return NewAuthenticator(tokens).Middleware
}
