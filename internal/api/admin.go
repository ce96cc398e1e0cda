package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/intermernet/climbsignups/internal/admin"
	"github.com/intermernet/climbsignups/internal/app"
	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/email"
	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/roster"
)

// qrSize is the edge length of the share-link QR code in pixels.
const qrSize = 256

// createSessionPayload is the admin "Create Session" form. sessionDate is
// a datetime-local value such as "2030-06-01T18:00".
type createSessionPayload struct {
	Name        string `json:"name"`
	SessionDate string `json:"sessionDate"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Price       string `json:"price"`
	WaiverLink  string `json:"waiverLink"`
	// TimeZone is the admin's IANA zone, used when SessionDate has no
	// offset.
	TimeZone string `json:"timeZone,omitempty"`
}

type tabPayload struct {
	Tab admin.Tab `json:"tab"`
}

type confirmPayload struct {
	OK bool `json:"ok"`
}

type shareEmailPayload struct {
	To string `json:"to"`
}

// adminStatusFor extends statusFor with the console errors.
func adminStatusFor(err error) int {
	switch {
	case errors.Is(err, admin.ErrMissingNameOrDate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, admin.ErrUnknownTab):
		return http.StatusBadRequest
	case errors.Is(err, admin.ErrEmptyRoster), errors.Is(err, app.ErrNoClient):
		return http.StatusConflict
	case errors.Is(err, app.ErrUnknownConfirmation):
		return http.StatusNotFound
	default:
		return statusFor(err)
	}
}

// handleCreateSession adds a session from the admin form.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload createSessionPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	loc := s.config.DateLocation()
	if payload.TimeZone != "" {
		zone, err := time.LoadLocation(payload.TimeZone)
		if err != nil {
			s.errorJSON(w, fmt.Errorf("unknown time zone %q", payload.TimeZone), http.StatusBadRequest)
			return
		}
		loc = zone
	}
	form := admin.SessionForm{
		Name:        payload.Name,
		SessionDate: admin.ParseDate(payload.SessionDate, loc),
		Description: payload.Description,
		Location:    payload.Location,
		Price:       payload.Price,
		WaiverLink:  payload.WaiverLink,
	}
	s.adminAction(w, r, http.StatusCreated, func(c *admin.Console) error {
		return c.CreateSession(r.Context(), form)
	})
}

// handleSetTab switches between the create and manage tabs.
func (s *Server) handleSetTab(w http.ResponseWriter, r *http.Request) {
	var payload tabPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	s.adminAction(w, r, http.StatusOK, func(c *admin.Console) error {
		return c.SetTab(payload.Tab)
	})
}

// handleToggleRoster opens or closes a session's roster.
func (s *Server) handleToggleRoster(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.adminAction(w, r, http.StatusOK, func(c *admin.Console) error {
		return c.ToggleRoster(r.Context(), sessionID)
	})
}

// handleCopyRoster copies a fetched roster to the admin's clipboard.
func (s *Server) handleCopyRoster(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.adminAction(w, r, http.StatusOK, func(c *admin.Console) error {
		return c.CopyRoster(r.Context(), sessionID)
	})
}

// handleCopyLink copies a session's public roster link.
func (s *Server) handleCopyLink(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.adminAction(w, r, http.StatusOK, func(c *admin.Console) error {
		return c.CopyLink(r.Context(), sessionID)
	})
}

// adminAction is withConsole with the console error statuses.
func (s *Server) adminAction(w http.ResponseWriter, r *http.Request, okStatus int, fn func(*admin.Console) error) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	var view app.View
	err = s.hub.Do(r.Context(), userID, func(sess *app.Session) error {
		console, err := sess.Console()
		if err != nil {
			return err
		}
		if err := fn(console); err != nil {
			return err
		}
		view = sess.View()
		return nil
	})
	if err != nil {
		s.errorJSON(w, err, adminStatusFor(err))
		return
	}
	s.writeJSON(w, okStatus, envelope{"view": view})
}

// handleDeleteSession starts a delete. The console first asks the admin's
// connected client for confirmation, so the delete runs in the background
// and the request returns at once.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	sess := s.hub.Acquire(userID)
	if _, err := sess.Console(); err != nil {
		s.hub.Release(userID)
		s.errorJSON(w, err, http.StatusForbidden)
		return
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer s.hub.Release(userID)
		if err := sess.WaitReady(ctx); err != nil {
			return
		}
		console, _ := sess.Console()
		deleted, err := console.DeleteSession(ctx, sessionID)
		switch {
		case err != nil:
			logger.Warn.Printf("Delete of session %s by %s failed: %v", sessionID, userID, err)
		case deleted:
			logger.Info.Printf("Session %s deleted by %s", sessionID, userID)
		default:
			logger.Info.Printf("Delete of session %s declined by %s", sessionID, userID)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, envelope{"message": admin.ConfirmDeleteMessage})
}

// handleAnswerConfirmation resolves a pending confirmation prompt.
func (s *Server) handleAnswerConfirmation(w http.ResponseWriter, r *http.Request) {
	var payload confirmPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	sess := s.hub.Acquire(userID)
	defer s.hub.Release(userID)
	if err := sess.Answer(chi.URLParam(r, "confirmationID"), payload.OK); err != nil {
		s.errorJSON(w, err, adminStatusFor(err))
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"answered": true})
}

// handleRosterTSV downloads a session's roster in the spreadsheet format.
func (s *Server) handleRosterTSV(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	signups, err := roster.Fetch(r.Context(), s.store, s.cols, sessionID)
	if err != nil {
		logger.Error.Printf("Roster export for %s failed: %v", sessionID, err)
		s.errorJSON(w, errors.New("could not fetch roster"))
		return
	}
	w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "roster-"+sessionID+".tsv"))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(roster.FormatTSV(signups)))
}

// handleShareQR renders the public roster link as a PNG QR code.
func (s *Server) handleShareQR(w http.ResponseWriter, r *http.Request) {
	link := roster.ShareLink(s.config.ParsedPublicBaseURL, chi.URLParam(r, "sessionID"))
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		s.errorJSON(w, fmt.Errorf("could not render QR code: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleShareEmail emails the public roster link, typically to the gym.
func (s *Server) handleShareEmail(w http.ResponseWriter, r *http.Request) {
	var payload shareEmailPayload
	if err := s.readJSON(w, r, &payload); err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	if _, err := email.CheckRecipient(payload.To); err != nil {
		s.errorJSON(w, err, http.StatusUnprocessableEntity)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	doc, err := s.store.Get(r.Context(), s.cols.Sessions, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		s.errorJSON(w, errors.New(roster.NotFoundMessage), http.StatusNotFound)
		return
	}
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	session, err := club.SessionFromDoc(doc)
	if err != nil {
		s.errorJSON(w, err)
		return
	}

	link := roster.ShareLink(s.config.ParsedPublicBaseURL, sessionID)
	msg, err := email.ShareRosterMessage(payload.To, session.Name, session.SessionDate, link)
	if err != nil {
		s.errorJSON(w, err)
		return
	}
	if err := s.email.Send(r.Context(), msg); err != nil {
		logger.Error.Printf("Could not email roster link for %s: %v", sessionID, err)
		s.errorJSON(w, errors.New("could not send email"), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"sent": true, "link": link})
}
