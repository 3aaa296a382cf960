package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	ownerIDContextKey   contextKey = "owner_id"
	requestIDContextKey contextKey = "request_id"
)

// authenticator validates bearer tokens and resolves the owner behind
// a request. Tokens are HS256 with the owner id in the subject claim.
type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	return &authenticator{secret: []byte(secret)}
}

// IssueToken signs a token for the given owner. Used by tests and by
// operators provisioning API credentials.
func (a *authenticator) IssueToken(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

func (a *authenticator) validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// middleware rejects requests without a valid bearer token and puts
// the owner id on the request context.
func (a *authenticator) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" || tokenString == authHeader {
			writeErrorMessage(w, http.StatusUnauthorized, "malformed authorization header")
			return
		}

		ownerID, err := a.validate(tokenString)
		if err != nil {
			slog.WarnContext(r.Context(), "Token validation failed",
				"path", r.URL.Path,
				"error", err)
			writeErrorMessage(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDContextKey, ownerID)
		next(w, r.WithContext(ctx))
	}
}

// ownerID returns the authenticated owner for the request. Empty only
// when the auth middleware did not run.
func ownerID(r *http.Request) string {
	id, _ := r.Context().Value(ownerIDContextKey).(string)
	return id
}
