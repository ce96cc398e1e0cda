package api

import (
	"errors"
	"net/http"

	"github.com/intermernet/climbsignups/internal/logger"
)

// customTokenPayload is the body of POST /auth/token.
type customTokenPayload struct {
	Token string `json:"token"`
}

// handleAnonymousSignIn creates a new anonymous user and returns its
// session credential.
func (s *Server) handleAnonymousSignIn(w http.ResponseWriter, r *http.Request) {
	cred, err := s.auth.SignInAnonymously(r.Context())
	if err != nil {
		logger.Error.Printf("Anonymous sign-in failed: %v", err)
		s.errorJSON(w, errors.New("could not sign in"))
		return
	}
	s.writeJSON(w, http.StatusCreated, envelope{"credential": cred})
}

// handleCustomTokenSignIn exchanges a custom token for a session
// credential of the user the token names.
func (s *Server) handleCustomTokenSignIn(w http.ResponseWriter, r *http.Request) {
	var payload customTokenPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if payload.Token == "" {
		s.errorJSON(w, errors.New("token is required"), http.StatusBadRequest)
		return
	}
	cred, err := s.auth.SignInWithCustomToken(r.Context(), payload.Token)
	if err != nil {
		logger.Warn.Printf("Custom token sign-in rejected: %v", err)
		s.errorJSON(w, errors.New("invalid or expired token"), http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"credential": cred})
}
