package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Middleware provides HTTP authentication middleware. It is thin and
// delegates credential resolution to Service.
type Middleware struct {
	service Service
	logger  *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given Service.
func NewMiddleware(service Service, logger *zap.Logger) *Middleware {
	return &Middleware{service: service, logger: logger}
}

// ResolveUser resolves the bearer token, if any, and places the user in
// the request context. It never rejects: endpoints decide for themselves
// whether a user is required.
func (m *Middleware) ResolveUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := BearerToken(r.Header.Get("Authorization")); ok {
			if user, err := m.service.ResolveToken(r.Context(), token); err == nil {
				r = r.WithContext(WithUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser resolves the bearer token and rejects the request with 401
// before the wrapped handler runs if no user could be authenticated. The
// resolved user is placed in the request context.
func (m *Middleware) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			m.unauthorized(w)
			return
		}

		user, err := m.service.ResolveToken(r.Context(), token)
		if err != nil {
			m.unauthorized(w)
			return
		}

		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    "authentication_required",
		"message": "Authentication required",
	})
}
