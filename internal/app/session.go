package app

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/intermernet/climbsignups/internal/admin"
	"github.com/intermernet/climbsignups/internal/catalog"
	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/profile"
	"github.com/intermernet/climbsignups/internal/realtime"
)

// ErrNotAdmin is returned for console actions by users outside the
// allow-list.
var ErrNotAdmin = errors.New("admin access required")

// Config is shared by every Session of a Hub.
type Config struct {
	DB   docstore.Database
	Cols club.Collections
	// Events carries the per-user view, clipboard and confirm events to
	// the user's connections on this instance.
	Events   realtime.Publisher
	AdminIDs []string
	BaseURL  *url.URL
	Dedupe   bool

	Now            func() time.Time
	ConfirmTimeout time.Duration
	AfterFunc      func(d time.Duration, f func()) *time.Timer
}

// View is everything one user sees on the main page.
type View struct {
	UserID        string        `json:"userId"`
	IsAdmin       bool          `json:"isAdmin"`
	Profile       profile.View  `json:"profile"`
	Catalog       *catalog.View `json:"catalog,omitempty"`
	Admin         *admin.View   `json:"admin,omitempty"`
	Confirmations []Prompt      `json:"confirmations,omitempty"`
	Tutorial      Tutorial      `json:"tutorial"`
}

// Session holds the view machines of one user. The catalog is mounted
// while the profile exists; the console exists for admins only.
type Session struct {
	cfg     Config
	userID  string
	isAdmin bool

	ctx    context.Context
	cancel context.CancelFunc

	gate     *profile.Gate
	console  *admin.Console
	confirms *Confirmations

	mu      sync.Mutex
	catalog *catalog.Catalog
	stopped bool
}

func newSession(ctx context.Context, cfg Config, userID string) *Session {
	s := &Session{
		cfg:     cfg,
		userID:  userID,
		isAdmin: admin.IsAdmin(userID, cfg.AdminIDs),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	topic := UserTopic(userID)
	s.confirms = newConfirmations(cfg.Events, topic, cfg.ConfirmTimeout, s.publish)
	s.gate = profile.NewGate(cfg.DB, cfg.Cols, userID, s.reconcile)
	if s.isAdmin {
		s.console = admin.New(cfg.DB, cfg.Cols, userID, admin.Options{
			BaseURL:   cfg.BaseURL,
			Clipboard: clipboardBridge{pub: cfg.Events, topic: topic},
			Confirmer: s.confirms,
			OnChange:  s.publish,
			AfterFunc: cfg.AfterFunc,
		})
	}
	return s
}

func (s *Session) start() {
	logger.Debug.Printf("Mounting views for %s (admin=%t)", s.userID, s.isAdmin)
	s.gate.Start(s.ctx)
	if s.console != nil {
		s.console.Start(s.ctx)
	}
}

// stop unmounts every machine and ends their subscriptions.
func (s *Session) stop() {
	s.mu.Lock()
	s.stopped = true
	cat := s.catalog
	s.catalog = nil
	s.mu.Unlock()

	s.gate.Stop()
	if cat != nil {
		cat.Stop()
	}
	if s.console != nil {
		s.console.Stop()
	}
	s.cancel()
	logger.Debug.Printf("Unmounted views for %s", s.userID)
}

// reconcile mounts the catalog when the profile appears and unmounts it
// when the profile goes away.
func (s *Session) reconcile() {
	_, present := s.gate.Profile()

	var stale *catalog.Catalog
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	switch {
	case present && s.catalog == nil:
		s.catalog = catalog.New(s.cfg.DB, s.cfg.Cols, s.userID, s.gate, catalog.Options{
			Dedupe:   s.cfg.Dedupe,
			Now:      s.cfg.Now,
			OnChange: s.publish,
		})
		s.catalog.Start(s.ctx)
	case !present && s.catalog != nil:
		stale, s.catalog = s.catalog, nil
	}
	s.mu.Unlock()

	if stale != nil {
		stale.Stop()
	}
	s.publish()
}

func (s *Session) currentCatalog() *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog
}

// publish pushes the current view to the user's connections.
func (s *Session) publish() {
	msg, err := realtime.NewMessage(EventView, s.View())
	if err != nil {
		logger.Error.Printf("Could not encode view for %s: %v", s.userID, err)
		return
	}
	s.cfg.Events.Publish(s.ctx, UserTopic(s.userID), msg)
}

// UserID returns the id the session belongs to.
func (s *Session) UserID() string { return s.userID }

// IsAdmin reports whether the user is on the admin allow-list.
func (s *Session) IsAdmin() bool { return s.isAdmin }

// View returns the combined view.
func (s *Session) View() View {
	v := View{
		UserID:        s.userID,
		IsAdmin:       s.isAdmin,
		Profile:       s.gate.View(),
		Confirmations: s.confirms.Pending(),
		Tutorial:      NewTutorial(s.isAdmin),
	}
	if cat := s.currentCatalog(); cat != nil {
		cv := cat.View()
		v.Catalog = &cv
	}
	if s.console != nil {
		av := s.console.View()
		v.Admin = &av
	}
	return v
}

// WaitReady blocks until every mounted machine has its first data.
func (s *Session) WaitReady(ctx context.Context) error {
	if err := wait(ctx, s.gate.Loaded()); err != nil {
		return err
	}
	if cat := s.currentCatalog(); cat != nil {
		if err := wait(ctx, cat.Loaded()); err != nil {
			return err
		}
	}
	if s.console != nil {
		return wait(ctx, s.console.Loaded())
	}
	return nil
}

func wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateProfile submits the profile form.
func (s *Session) CreateProfile(ctx context.Context, form profile.Form) error {
	return s.gate.Create(ctx, form)
}

// SignUp signs the user up for sessionID.
func (s *Session) SignUp(ctx context.Context, sessionID string) error {
	cat := s.currentCatalog()
	if cat == nil {
		return catalog.ErrProfileMissing
	}
	return cat.SignUp(ctx, sessionID)
}

// Cancel removes the user's signup for sessionID.
func (s *Session) Cancel(ctx context.Context, sessionID string) error {
	cat := s.currentCatalog()
	if cat == nil {
		return catalog.ErrSignupNotFound
	}
	return cat.Cancel(ctx, sessionID)
}

// Console returns the admin console, or ErrNotAdmin.
func (s *Session) Console() (*admin.Console, error) {
	if s.console == nil {
		return nil, ErrNotAdmin
	}
	return s.console, nil
}

// Answer resolves a pending confirmation prompt.
func (s *Session) Answer(id string, ok bool) error {
	return s.confirms.Answer(id, ok)
}
