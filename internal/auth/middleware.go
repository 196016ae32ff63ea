package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"authgate/internal/observability"
)

type contextKey struct{}

// Guard authenticates bearer tokens for protected routes.
type Guard struct {
	service       *Service
	requireActive bool
}

func NewGuard(service *Service, requireActive bool) *Guard {
	return &Guard{service: service, requireActive: requireActive}
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, ErrUnauthorized.Error())
			return
		}

		user, err := g.service.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				writeUnauthorized(w, ErrUnauthorized.Error())
				return
			}
			observability.CaptureError(err)
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
			return
		}

		if g.requireActive {
			if _, err := g.service.RequireActive(user); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the user stored by Guard.Middleware.
func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}
