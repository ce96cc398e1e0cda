package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/intermernet/climbsignups/internal/app"
	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/roster"
)

// rosterLoadTimeout bounds how long a one-shot roster request waits for
// the first complete snapshot.
const rosterLoadTimeout = 10 * time.Second

//go:embed templates/*.html
var templateFS embed.FS

var rosterPage = template.Must(template.ParseFS(templateFS, "templates/roster.html"))

// rosterPageData is what the roster template renders.
type rosterPageData struct {
	roster.Snapshot
	DescriptionHTML template.HTML
	EmptyMessage    string
	StreamURL       string
}

// watchRoster starts a live roster and returns its snapshots, keeping only
// the latest undelivered one. The caller must Stop the view.
func (s *Server) watchRoster(ctx context.Context, sessionID string) (*roster.View, <-chan roster.Snapshot) {
	ch := make(chan roster.Snapshot, 1)
	v := roster.NewView(s.store, s.cols, sessionID, func(snap roster.Snapshot) {
		for {
			select {
			case ch <- snap:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	v.Start(ctx)
	return v, ch
}

// loadRoster waits for the first snapshot that is no longer loading.
func (s *Server) loadRoster(ctx context.Context, sessionID string) (roster.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, rosterLoadTimeout)
	defer cancel()
	v, snaps := s.watchRoster(ctx, sessionID)
	defer v.Stop()
	for {
		select {
		case snap := <-snaps:
			if !snap.Loading {
				return snap, nil
			}
		case <-ctx.Done():
			return roster.Snapshot{}, ctx.Err()
		}
	}
}

// handlePublicRoster returns a session's roster once. It needs no identity.
func (s *Server) handlePublicRoster(w http.ResponseWriter, r *http.Request) {
	snap, err := s.loadRoster(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.errorJSON(w, errors.New("roster is not available right now"), http.StatusServiceUnavailable)
		return
	}
	status := http.StatusOK
	if snap.NotFound {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, envelope{"roster": snap})
}

// handlePublicRosterStream streams every roster snapshot as a `roster`
// event.
func (s *Server) handlePublicRosterStream(w http.ResponseWriter, r *http.Request) {
	sink := s.startSSE(w)
	if sink == nil {
		return
	}
	v, snaps := s.watchRoster(r.Context(), chi.URLParam(r, "sessionID"))
	defer v.Stop()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-snaps:
			data, err := json.Marshal(snap)
			if err != nil {
				logger.Error.Printf("Could not encode roster snapshot: %v", err)
				return
			}
			if err := sink.send("roster", data); err != nil {
				return
			}
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				return
			}
		}
	}
}

// handleRoot serves the public roster page for ?page=roster&session=<id>
// and otherwise describes the app entry points.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	route := app.ParseRoute(r.URL.Query())
	if !route.IsRoster() {
		s.writeJSON(w, http.StatusOK, envelope{
			"app":      "Climb CCNY Sign-Ups",
			"route":    route,
			"stream":   "/api/v1/app/stream",
			"socket":   "/api/v1/app/ws",
			"tutorial": app.NewTutorial(false),
		})
		return
	}

	snap, err := s.loadRoster(r.Context(), route.SessionID)
	if err != nil {
		http.Error(w, "Roster is not available right now.", http.StatusServiceUnavailable)
		return
	}
	data := rosterPageData{
		Snapshot:        snap,
		DescriptionHTML: template.HTML(snap.DescriptionHTML), // rendered by goldmark, which drops raw HTML
		EmptyMessage:    roster.EmptyMessage,
		StreamURL:       "/api/v1/public/roster/" + url.PathEscape(route.SessionID) + "/stream",
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if snap.NotFound {
		w.WriteHeader(http.StatusNotFound)
	}
	if err := rosterPage.Execute(w, data); err != nil {
		logger.Error.Printf("Could not render roster page: %v", err)
	}
}
