package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hongminglow/homeservices-identity/internal/account"
	"github.com/hongminglow/homeservices-identity/internal/models"
)

type userKey struct{}

// RequireUser resolves the bearer token to the current user before calling
// next. Missing or invalid tokens get 401; a token for a deleted account 404.
func RequireUser(svc *account.Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := svc.ResolveCurrentUser(r.Context(), bearerToken(r))
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

// currentUser returns the user stored by RequireUser.
func currentUser(r *http.Request) (models.User, bool) {
	user, ok := r.Context().Value(userKey{}).(models.User)
	return user, ok
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
