package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/intermernet/climbsignups/internal/app"
	"github.com/intermernet/climbsignups/internal/catalog"
	"github.com/intermernet/climbsignups/internal/profile"
)

// statusFor maps a view-machine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, profile.ErrMissingFields), errors.Is(err, profile.ErrWaiverRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrProfileMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, catalog.ErrSignupNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, app.ErrNotAdmin):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// withSession runs fn on the caller's loaded Session and answers with the
// resulting view, or with the error fn returned.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, okStatus int, fn func(*app.Session) error) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	var view app.View
	err = s.hub.Do(r.Context(), userID, func(sess *app.Session) error {
		if err := fn(sess); err != nil {
			return err
		}
		view = sess.View()
		return nil
	})
	if err != nil {
		s.errorJSON(w, err, statusFor(err))
		return
	}
	s.writeJSON(w, okStatus, envelope{"view": view})
}

// handleGetView returns the caller's current view once.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, http.StatusOK, func(*app.Session) error { return nil })
}

// handleCreateProfile creates (or overwrites) the caller's profile.
func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var form profile.Form
	if err := s.readJSON(w, r, &form); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	s.withSession(w, r, http.StatusCreated, func(sess *app.Session) error {
		return sess.CreateProfile(r.Context(), form)
	})
}

// handleSignUp signs the caller up for a session.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.withSession(w, r, http.StatusCreated, func(sess *app.Session) error {
		return sess.SignUp(r.Context(), sessionID)
	})
}

// handleCancelSignUp removes the caller's signup for a session.
func (s *Server) handleCancelSignUp(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.withSession(w, r, http.StatusOK, func(sess *app.Session) error {
		return sess.Cancel(r.Context(), sessionID)
	})
}
