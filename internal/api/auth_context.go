package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/service"
)

// ctxKey is the type for context keys to avoid collisions.
type ctxKey string

// userKey is the context key for the authenticated user.
const userKey ctxKey = "user"

// withUser stores the user in context.
func withUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// userFrom returns the authenticated user from context, or nil.
func userFrom(ctx context.Context) *domain.User {
	user, _ := ctx.Value(userKey).(*domain.User)
	return user
}

// authMiddleware returns a middleware that validates Bearer tokens and stores
// the current user in context. Requests without a valid token continue
// anonymously; handlers use RequireUser to reject them.
func authMiddleware(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := auth.VerifyAccessToken(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

// RequireUser returns the authenticated user.
// Returns 401 if the request carried no valid token.
func RequireUser(ctx context.Context) (*domain.User, error) {
	user := userFrom(ctx)
	if user == nil {
		return nil, huma.Error401Unauthorized("Authentication required")
	}
	return user, nil
}

// RequireAdmin validates the user is authenticated and has the admin role.
func RequireAdmin(ctx context.Context) (*domain.User, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		return nil, domainerrors.Forbidden("Admin access required")
	}
	return user, nil
}
