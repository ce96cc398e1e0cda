package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/intermernet/climbsignups/internal/admin"
)

// contextKey is a custom type used for keys in context.Context. Using a custom
// type prevents collisions between context keys defined in different packages.
type contextKey string

// userContextKey is the specific key used to store the authenticated user's ID
// in the request context after successful authentication.
const userContextKey = contextKey("userID")

// bearerToken reads the session token from the Authorization header, or
// from the `token` query parameter for EventSource and WebSocket clients
// that cannot set headers.
func bearerToken(r *http.Request) string {
	headerParts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(headerParts) == 2 && strings.ToLower(headerParts[0]) == "bearer" {
		return headerParts[1]
	}
	return r.URL.Query().Get("token")
}

// authMiddleware rejects requests without a valid session token and puts
// the user id into the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			s.errorJSON(w, errors.New("authorization token is required"), http.StatusUnauthorized)
			return
		}

		cred, err := s.auth.Verify(tokenString)
		if err != nil {
			s.errorJSON(w, errors.New("invalid or expired token"), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, cred.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware only lets users on the admin allow-list through. It must
// run after authMiddleware.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.getUserIDFromContext(r)
		if err != nil {
			s.errorJSON(w, err, http.StatusUnauthorized)
			return
		}
		if !admin.IsAdmin(userID, s.config.AdminUserIDs) {
			s.errorJSON(w, errors.New("admin access required"), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getUserIDFromContext returns the user id stored by authMiddleware.
func (s *Server) getUserIDFromContext(r *http.Request) (string, error) {
	userID, ok := r.Context().Value(userContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("could not retrieve user ID from context")
	}
	return userID, nil
}
