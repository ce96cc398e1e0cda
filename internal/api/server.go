package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/intermernet/climbsignups/internal/app"
	"github.com/intermernet/climbsignups/internal/auth"
	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/config"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/email"
	"github.com/intermernet/climbsignups/internal/realtime"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// Server holds everything the HTTP handlers need. All of it is built once
// in main and injected here.
type Server struct {
	config *config.Config
	store  docstore.Database
	cols   club.Collections
	auth   *auth.Service
	hub    *app.Hub
	broker *realtime.Broker
	email  email.Sender
}

// NewServer wires the handlers to their dependencies.
func NewServer(cfg *config.Config, store docstore.Database, authSvc *auth.Service, hub *app.Hub, broker *realtime.Broker, sender email.Sender) *Server {
	return &Server{
		config: cfg,
		store:  store,
		cols:   club.NewCollections(cfg.AppID),
		auth:   authSvc,
		hub:    hub,
		broker: broker,
		email:  sender,
	}
}

// envelope is the top-level shape of every JSON response, e.g.
// `envelope{"view": v}` or `envelope{"error": "..."}`.
type envelope map[string]interface{}

// writeJSON sends data as indented JSON with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}, headers ...http.Header) {
	js, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		http.Error(w, "Internal Server Error: Failed to marshal JSON", http.StatusInternalServerError)
		return
	}

	if len(headers) > 0 {
		for key, value := range headers[0] {
			w.Header()[key] = value
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(js)
}

// errorJSON sends `{"error": "message"}`. The status defaults to 500.
func (s *Server) errorJSON(w http.ResponseWriter, err error, status ...int) {
	statusCode := http.StatusInternalServerError
	if len(status) > 0 {
		statusCode = status[0]
	}
	s.writeJSON(w, statusCode, envelope{"error": err.Error()})
}

// readJSON decodes a single JSON object from the request body into dst.
// Unknown fields are rejected.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body must not be empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}
