package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const accountIDKey contextKey = "account_id"

// accountIDPattern keeps account ids safe to embed in storage paths.
var accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// AuthMiddleware returns middleware that requires "Authorization: Bearer
// <token>". An empty token accepts any bearer token.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, prefix) {
				Unauthorized(w)
				return
			}
			bearer := authHeader[len(prefix):]
			if bearer == "" {
				Unauthorized(w)
				return
			}
			if token != "" && subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) != 1 {
				Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccountIDMiddleware extracts the account_id from the chi URL parameter
// and stores it in the request context.
func AccountIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "account_id")
		if accountID == "" {
			BadRequest(w, "account_id is required")
			return
		}
		if !accountIDPattern.MatchString(accountID) {
			BadRequest(w, "invalid account_id")
			return
		}
		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAccountID retrieves the account_id stored in the context by AccountIDMiddleware.
func GetAccountID(ctx context.Context) string {
	v, _ := ctx.Value(accountIDKey).(string)
	return v
}
