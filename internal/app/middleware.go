package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"chatmeter/internal/auth"
)

// ctxKey is the private type for request-context values.
type ctxKey int

const userIDKey ctxKey = iota

// requireAuth resolves the bearer token to a user ID and stores it in the
// request context. The wrapped handler never runs for unauthenticated
// requests.
func (a *App) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "invalid or missing authorization header")
			return
		}

		userID, err := a.auth.ValidateAccess(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				w.Header().Set("X-Token-Expired", "true")
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// userIDFrom returns the authenticated user ID stored by requireAuth.
func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}
