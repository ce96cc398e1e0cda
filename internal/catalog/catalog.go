// Package catalog is the member-facing list of upcoming sessions together
// with the user's own signups, and the sign-up and cancel operations.
package catalog

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/logger"
)

var (
	ErrProfileMissing = errors.New("profile missing")
	ErrSignupNotFound = errors.New("signup not found")
	// ErrInFlight is returned while a previous write for the same session
	// has not finished.
	ErrInFlight = errors.New("a request for this session is already in progress")
)

// Per-session status texts.
const (
	StatusSigningUp      = "Signing up..."
	StatusSignedUp       = "Signed up!"
	StatusCanceling      = "Canceling..."
	StatusCanceled       = "Canceled."
	StatusError          = "Error. Please try again."
	StatusProfileMissing = "Error: Profile missing."
	StatusNotFound       = "Error: Signup not found."
)

// ProfileSource hands the catalog the user's current profile.
type ProfileSource interface {
	Profile() (club.Profile, bool)
}

// Options tune a Catalog.
type Options struct {
	// Dedupe derives the signup id from (user, session) so a double
	// submit overwrites instead of duplicating.
	Dedupe bool
	// Now is the clock for the upcoming filter.
	Now func() time.Time
	// OnChange is called after every state change.
	OnChange func()
}

// SessionView is one upcoming session as the member sees it.
type SessionView struct {
	club.Session
	WaiverURL       string `json:"waiverUrl,omitempty"`
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
	SignedUp        bool   `json:"signedUp"`
	Busy            bool   `json:"busy"`
	Status          string `json:"status,omitempty"`
}

// View is the catalog as rendered.
type View struct {
	Loading  bool          `json:"loading"`
	Sessions []SessionView `json:"sessions"`
}

// Catalog holds the two live subscriptions for one user.
type Catalog struct {
	db      docstore.Database
	cols    club.Collections
	userID  string
	profile ProfileSource
	opts    Options

	mu            sync.Mutex
	loaded        bool
	signupsLoaded bool
	loadedCh      chan struct{}
	loadedOnce    sync.Once
	upcoming      []club.Session
	membership    map[string]string // sessionId -> signup doc id
	status        map[string]string
	inFlight      map[string]bool

	sessionsSub *docstore.Subscription
	signupsSub  *docstore.Subscription
	wg          sync.WaitGroup
}

// New creates a Catalog for userID.
func New(db docstore.Database, cols club.Collections, userID string, profile ProfileSource, opts Options) *Catalog {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnChange == nil {
		opts.OnChange = func() {}
	}
	return &Catalog{
		db:         db,
		cols:       cols,
		userID:     userID,
		profile:    profile,
		opts:       opts,
		membership: make(map[string]string),
		status:     make(map[string]string),
		inFlight:   make(map[string]bool),
		loadedCh:   make(chan struct{}),
	}
}

// Loaded is closed once both the sessions and the signups subscriptions
// have delivered their first snapshot.
func (c *Catalog) Loaded() <-chan struct{} {
	return c.loadedCh
}

// checkLoaded must be called with c.mu held.
func (c *Catalog) checkLoaded() {
	if c.loaded && c.signupsLoaded {
		c.loadedOnce.Do(func() { close(c.loadedCh) })
	}
}

// Start subscribes to all sessions and to the user's signups.
func (c *Catalog) Start(ctx context.Context) {
	c.sessionsSub = c.db.Watch(ctx, docstore.Collection(c.cols.Sessions))
	c.signupsSub = c.db.Watch(ctx, docstore.Collection(c.cols.Signups).Where("userId", c.userID))

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for snap := range c.sessionsSub.C {
			c.applySessions(snap)
			c.opts.OnChange()
		}
	}()
	go func() {
		defer c.wg.Done()
		for snap := range c.signupsSub.C {
			c.applySignups(snap)
			c.opts.OnChange()
		}
	}()
}

// Stop tears both subscriptions down.
func (c *Catalog) Stop() {
	if c.sessionsSub == nil {
		return
	}
	c.sessionsSub.Close()
	c.signupsSub.Close()
	c.wg.Wait()
}

func (c *Catalog) applySessions(snap docstore.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	c.checkLoaded()
	if snap.Err != nil {
		logger.Error.Printf("Error fetching sessions: %v", snap.Err)
		return
	}
	c.upcoming = Upcoming(club.DecodeAll(snap.Docs, club.SessionFromDoc), c.opts.Now())
}

func (c *Catalog) applySignups(snap docstore.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signupsLoaded = true
	c.checkLoaded()
	if snap.Err != nil {
		logger.Error.Printf("Error fetching signups for %s: %v", c.userID, snap.Err)
		return
	}
	c.membership = Membership(club.DecodeAll(snap.Docs, club.SignupFromDoc))
}

// Upcoming keeps the sessions dated at or after now, earliest first.
func Upcoming(sessions []club.Session, now time.Time) []club.Session {
	out := make([]club.Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.SessionDate.Before(now) {
			out = append(out, s)
		}
	}
	club.SortSessionsAscending(out)
	return out
}

// Membership maps session id to signup document id.
func Membership(signups []club.Signup) map[string]string {
	m := make(map[string]string, len(signups))
	for _, s := range signups {
		m[s.SessionID] = s.ID
	}
	return m
}

// SignupID is the deterministic signup id used when dedupe is on.
func SignupID(userID, sessionID string) string {
	sum := blake2b.Sum256([]byte(userID + "\x00" + sessionID))
	return hex.EncodeToString(sum[:])
}

// View returns the current catalog.
func (c *Catalog) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{Loading: !c.loaded, Sessions: make([]SessionView, 0, len(c.upcoming))}
	for _, s := range c.upcoming {
		_, signedUp := c.membership[s.ID]
		v.Sessions = append(v.Sessions, SessionView{
			Session:         s,
			WaiverURL:       s.WaiverURL(),
			DescriptionHTML: string(s.DescriptionHTML()),
			SignedUp:        signedUp,
			Busy:            c.inFlight[s.ID],
			Status:          c.status[s.ID],
		})
	}
	return v
}

// SignedUp reports whether the user has a signup for sessionID, and its
// document id.
func (c *Catalog) SignedUp(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.membership[sessionID]
	return id, ok
}

// SignUp writes a signup for sessionID with a copy of the user's profile.
// The view only changes to "signed up" once the live signups snapshot
// delivers the new document.
func (c *Catalog) SignUp(ctx context.Context, sessionID string) error {
	p, ok := c.profile.Profile()
	if !ok {
		c.finish(sessionID, StatusProfileMissing, false)
		return ErrProfileMissing
	}
	if !c.begin(sessionID, StatusSigningUp) {
		return ErrInFlight
	}

	fields := club.SignupFields(c.userID, sessionID, p)
	var err error
	if c.opts.Dedupe {
		err = c.db.Set(ctx, c.cols.Signups, SignupID(c.userID, sessionID), fields)
	} else {
		_, err = c.db.Add(ctx, c.cols.Signups, fields)
	}
	if err != nil {
		logger.Error.Printf("Error signing up %s for %s: %v", c.userID, sessionID, err)
		c.finish(sessionID, StatusError, true)
		return fmt.Errorf("sign up: %w", err)
	}
	c.finish(sessionID, StatusSignedUp, true)
	return nil
}

// Cancel deletes the user's signup for sessionID.
func (c *Catalog) Cancel(ctx context.Context, sessionID string) error {
	signupID, ok := c.SignedUp(sessionID)
	if !ok {
		c.finish(sessionID, StatusNotFound, false)
		return ErrSignupNotFound
	}
	if !c.begin(sessionID, StatusCanceling) {
		return ErrInFlight
	}

	if err := c.db.Delete(ctx, c.cols.Signups, signupID); err != nil {
		logger.Error.Printf("Error canceling signup %s: %v", signupID, err)
		c.finish(sessionID, StatusError, true)
		return fmt.Errorf("cancel signup: %w", err)
	}
	c.finish(sessionID, StatusCanceled, true)
	return nil
}

// begin marks sessionID as busy. It fails if a write is already running.
func (c *Catalog) begin(sessionID, status string) bool {
	c.mu.Lock()
	if c.inFlight[sessionID] {
		c.mu.Unlock()
		return false
	}
	c.inFlight[sessionID] = true
	c.status[sessionID] = status
	c.mu.Unlock()
	c.opts.OnChange()
	return true
}

func (c *Catalog) finish(sessionID, status string, wasBusy bool) {
	c.mu.Lock()
	if wasBusy {
		delete(c.inFlight, sessionID)
	} else if c.inFlight[sessionID] {
		// Leave the running write's status alone.
		c.mu.Unlock()
		return
	}
	c.status[sessionID] = status
	c.mu.Unlock()
	c.opts.OnChange()
}
