package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegisterRoutes sets up all the API endpoints and middleware for the application.
func (s *Server) RegisterRoutes(r *chi.Mux) {
	// --- Global Middleware (Applied to ALL routes) ---
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// The public roster page lives at /?page=roster&session=<id>.
	r.Get("/", s.handleRoot)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", s.config.OriginURL()},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))

		// Auth routes
		r.Post("/auth/anonymous", s.handleAnonymousSignIn)
		r.Post("/auth/token", s.handleCustomTokenSignIn)

		// Live views resolve their own identity from the token, if any.
		r.Get("/app/stream", s.handleAppStream)
		r.Get("/app/ws", s.handleAppSocket)

		// Public roster routes
		r.Get("/public/roster/{sessionID}", s.handlePublicRoster)
		r.Get("/public/roster/{sessionID}/stream", s.handlePublicRosterStream)

		// --- Authenticated REST Routes ---
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/app/view", s.handleGetView)
			r.Post("/profile", s.handleCreateProfile)
			r.Post("/sessions/{sessionID}/signup", s.handleSignUp)
			r.Delete("/sessions/{sessionID}/signup", s.handleCancelSignUp)

			// --- Admin Routes ---
			r.Route("/admin", func(r chi.Router) {
				r.Use(s.adminMiddleware)

				r.Post("/tab", s.handleSetTab)
				r.Post("/confirmations/{confirmationID}", s.handleAnswerConfirmation)
				r.Post("/sessions", s.handleCreateSession)
				r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
				r.Post("/sessions/{sessionID}/roster/toggle", s.handleToggleRoster)
				r.Post("/sessions/{sessionID}/copy-roster", s.handleCopyRoster)
				r.Post("/sessions/{sessionID}/copy-link", s.handleCopyLink)
				r.Get("/sessions/{sessionID}/roster.tsv", s.handleRosterTSV)
				r.Get("/sessions/{sessionID}/share.png", s.handleShareQR)
				r.Post("/sessions/{sessionID}/share-email", s.handleShareEmail)
			})
		})
	})
}
