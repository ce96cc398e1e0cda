// Package admin is the privileged console: creating sessions, listing
// every session with its roster, deleting sessions and exporting rosters.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/roster"
)

var (
	ErrMissingNameOrDate = errors.New("name and date are required")
	ErrUnknownTab        = errors.New("unknown tab")
	ErrEmptyRoster       = errors.New("roster is empty")
)

// Status and dialog texts.
const (
	StatusMissingNameOrDate = "Please add a name and date."
	StatusCreating          = "Creating session..."
	StatusCreated           = "Session created successfully!"
	StatusCreateFailed      = "Error creating session."
	StatusDeleteFailed      = "Error deleting session."
	ConfirmDeleteMessage    = "Are you sure you want to delete this session? This will not delete the sign-ups, but the session will be gone."

	CopyOK     = "Copied!"
	CopyFailed = "Failed."
	CopyEmpty  = "Empty."
)

// Copy targets, used as keys of a row's copy status.
const (
	CopyRoster = "roster"
	CopyLink   = "link"
)

// Timings of the transient UI states.
const (
	SwitchTabDelay  = 1500 * time.Millisecond
	CopyStatusClear = 2000 * time.Millisecond
)

// Tab is the active console tab.
type Tab string

const (
	TabCreate Tab = "create"
	TabManage Tab = "manage"
)

// IsAdmin reports whether userID is in the allow-list. It only decides
// what is shown; the store does not enforce it.
func IsAdmin(userID string, allowList []string) bool {
	if userID == "" {
		return false
	}
	for _, id := range allowList {
		if id == userID {
			return true
		}
	}
	return false
}

// Clipboard writes text to the admin's clipboard.
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Confirmer asks the admin a yes/no question and waits for the answer.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// ErrNoClipboard is returned when the console has nowhere to copy to.
var ErrNoClipboard = errors.New("no clipboard available")

type noClipboard struct{}

func (noClipboard) WriteText(context.Context, string) error { return ErrNoClipboard }

type denyAll struct{}

func (denyAll) Confirm(context.Context, string) (bool, error) { return false, nil }

// SessionForm is the create-session form. SessionDate is zero when the
// date field is empty or unparseable.
type SessionForm struct {
	Name        string    `json:"name"`
	SessionDate time.Time `json:"sessionDate"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Price       string    `json:"price"`
	WaiverLink  string    `json:"waiverLink"`
}

// Date layouts accepted from the form, most specific first. The last two
// are what an HTML datetime-local input sends.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"}

// ParseDate parses a form date in loc. It returns the zero time for an
// empty or unrecognised value.
func ParseDate(s string, loc *time.Location) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Options configures a Console.
type Options struct {
	// BaseURL is the app URL the share links point at.
	BaseURL   *url.URL
	Clipboard Clipboard
	Confirmer Confirmer
	OnChange  func()
	// AfterFunc schedules the delayed status changes. Defaults to
	// time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

// Row is one session in the manage tab.
type Row struct {
	club.Session
	WaiverURL     string            `json:"waiverUrl,omitempty"`
	ShareLink     string            `json:"shareLink"`
	Expanded      bool              `json:"expanded"`
	LoadingRoster bool              `json:"loadingRoster"`
	Roster        []club.Signup     `json:"roster"`
	RosterCount   int               `json:"rosterCount"`
	CopyStatus    map[string]string `json:"copyStatus,omitempty"`
	Status        string            `json:"status,omitempty"`
}

// View is the console as rendered.
type View struct {
	Tab      Tab    `json:"tab"`
	Status   string `json:"status,omitempty"`
	Loading  bool   `json:"loading"`
	Sessions []Row  `json:"sessions"`
}

// Console is one admin's console.
type Console struct {
	db     docstore.Database
	cols   club.Collections
	userID string
	opts   Options

	mu             sync.Mutex
	tab            Tab
	status         string
	loaded         bool
	sessions       []club.Session // latest first
	expanded       string
	rosters        map[string][]club.Signup
	loadingRosters map[string]bool
	// rosterGen is the generation of the newest fetch started per session;
	// an older fetch finishing later is discarded.
	rosterGen  map[string]uint64
	rosterSeq  uint64
	copyStatus map[string]map[string]string
	rowStatus  map[string]string

	sub        *docstore.Subscription
	wg         sync.WaitGroup
	loadedCh   chan struct{}
	loadedOnce sync.Once
	// fetchCtx outlives Stop: roster fetches are not cancelled.
	fetchCtx context.Context
}

// New creates a Console for the admin userID.
func New(db docstore.Database, cols club.Collections, userID string, opts Options) *Console {
	if opts.OnChange == nil {
		opts.OnChange = func() {}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = time.AfterFunc
	}
	if opts.BaseURL == nil {
		opts.BaseURL = &url.URL{Path: "/"}
	}
	if opts.Clipboard == nil {
		opts.Clipboard = noClipboard{}
	}
	if opts.Confirmer == nil {
		opts.Confirmer = denyAll{}
	}
	return &Console{
		db:             db,
		cols:           cols,
		userID:         userID,
		opts:           opts,
		tab:            TabCreate,
		rosters:        make(map[string][]club.Signup),
		loadingRosters: make(map[string]bool),
		rosterGen:      make(map[string]uint64),
		copyStatus:     make(map[string]map[string]string),
		rowStatus:      make(map[string]string),
		fetchCtx:       context.Background(),
		loadedCh:       make(chan struct{}),
	}
}

// Loaded is closed once the first sessions snapshot has been applied.
func (c *Console) Loaded() <-chan struct{} {
	return c.loadedCh
}

// Start subscribes to all sessions.
func (c *Console) Start(ctx context.Context) {
	c.fetchCtx = context.WithoutCancel(ctx)
	c.sub = c.db.Watch(ctx, docstore.Collection(c.cols.Sessions))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for snap := range c.sub.C {
			c.applySessions(snap)
			c.opts.OnChange()
		}
	}()
}

// Stop tears the subscription down and waits for pending roster fetches.
func (c *Console) Stop() {
	if c.sub != nil {
		c.sub.Close()
	}
	c.wg.Wait()
}

func (c *Console) applySessions(snap docstore.Snapshot) {
	c.mu.Lock()
	c.loaded = true
	c.loadedOnce.Do(func() { close(c.loadedCh) })
	if snap.Err != nil {
		c.mu.Unlock()
		logger.Error.Printf("Error fetching all sessions: %v", snap.Err)
		return
	}
	sessions := club.DecodeAll(snap.Docs, club.SessionFromDoc)
	club.SortSessionsDescending(sessions)
	c.sessions = sessions

	alive := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		alive[s.ID] = true
	}
	for id := range c.rosters {
		if !alive[id] {
			delete(c.rosters, id)
			delete(c.loadingRosters, id)
		}
	}
	for id := range c.rosterGen {
		if !alive[id] {
			delete(c.rosterGen, id)
		}
	}
	for id := range c.copyStatus {
		if !alive[id] {
			delete(c.copyStatus, id)
		}
	}
	refetch := ""
	var gen uint64
	if c.expanded != "" {
		if alive[c.expanded] {
			refetch = c.expanded
			gen = c.beginRosterFetch(refetch)
		} else {
			c.expanded = ""
		}
	}
	c.mu.Unlock()

	if refetch != "" {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_ = c.fetchRoster(c.fetchCtx, refetch, gen)
			c.opts.OnChange()
		}()
	}
}

// View returns the current console.
func (c *Console) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{Tab: c.tab, Status: c.status, Loading: !c.loaded, Sessions: make([]Row, 0, len(c.sessions))}
	for _, s := range c.sessions {
		r := Row{
			Session:       s,
			WaiverURL:     s.WaiverURL(),
			ShareLink:     roster.ShareLink(c.opts.BaseURL, s.ID),
			Expanded:      c.expanded == s.ID,
			LoadingRoster: c.loadingRosters[s.ID],
			Status:        c.rowStatus[s.ID],
		}
		if signups, ok := c.rosters[s.ID]; ok {
			r.Roster = append([]club.Signup(nil), signups...)
			r.RosterCount = len(signups)
		}
		if cs := c.copyStatus[s.ID]; len(cs) > 0 {
			r.CopyStatus = make(map[string]string, len(cs))
			for k, val := range cs {
				r.CopyStatus[k] = val
			}
		}
		v.Sessions = append(v.Sessions, r)
	}
	return v
}

// SetTab switches the active tab.
func (c *Console) SetTab(tab Tab) error {
	if tab != TabCreate && tab != TabManage {
		return fmt.Errorf("%w: %q", ErrUnknownTab, tab)
	}
	c.mu.Lock()
	c.tab = tab
	c.mu.Unlock()
	c.opts.OnChange()
	return nil
}

// CreateSession validates and writes a new session. On success the
// console switches to the manage tab after SwitchTabDelay.
func (c *Console) CreateSession(ctx context.Context, form SessionForm) error {
	if strings.TrimSpace(form.Name) == "" || form.SessionDate.IsZero() {
		c.setStatus(StatusMissingNameOrDate)
		return ErrMissingNameOrDate
	}
	c.setStatus(StatusCreating)

	s := club.Session{
		Name:        form.Name,
		SessionDate: form.SessionDate,
		Description: club.OptionalString(form.Description),
		Location:    club.OptionalString(form.Location),
		Price:       club.OptionalString(form.Price),
		WaiverLink:  club.OptionalString(form.WaiverLink),
		CreatedBy:   c.userID,
	}
	if _, err := c.db.Add(ctx, c.cols.Sessions, club.SessionFields(s)); err != nil {
		logger.Error.Printf("Error creating session: %v", err)
		c.setStatus(StatusCreateFailed)
		return fmt.Errorf("create session: %w", err)
	}
	c.setStatus(StatusCreated)

	c.opts.AfterFunc(SwitchTabDelay, func() {
		c.mu.Lock()
		c.status = ""
		c.tab = TabManage
		c.mu.Unlock()
		c.opts.OnChange()
	})
	return nil
}

// ToggleRoster opens or closes a session's roster. Opening fetches the
// roster once; the fetch runs to completion even if the roster is closed
// again meanwhile.
func (c *Console) ToggleRoster(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.expanded == sessionID {
		c.expanded = ""
		c.mu.Unlock()
		c.opts.OnChange()
		return nil
	}
	c.expanded = sessionID
	gen := c.beginRosterFetch(sessionID)
	c.mu.Unlock()
	c.opts.OnChange()

	err := c.fetchRoster(context.WithoutCancel(ctx), sessionID, gen)
	c.opts.OnChange()
	return err
}

// beginRosterFetch marks a roster as loading and returns the generation of
// the new fetch. c.mu must be held.
func (c *Console) beginRosterFetch(sessionID string) uint64 {
	c.rosterSeq++
	c.rosterGen[sessionID] = c.rosterSeq
	c.loadingRosters[sessionID] = true
	return c.rosterSeq
}

func (c *Console) fetchRoster(ctx context.Context, sessionID string, gen uint64) error {
	docs, err := c.db.Query(ctx, docstore.Collection(c.cols.Signups).Where("sessionId", sessionID))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rosterGen[sessionID] != gen {
		// A newer fetch has started; its result wins.
		return nil
	}
	c.loadingRosters[sessionID] = false
	if err != nil {
		logger.Error.Printf("Error fetching roster for %s: %v", sessionID, err)
		return fmt.Errorf("fetch roster: %w", err)
	}
	c.rosters[sessionID] = club.DecodeAll(docs, club.SignupFromDoc)
	return nil
}

// Roster returns the cached roster of a session, if it was fetched.
func (c *Console) Roster(sessionID string) ([]club.Signup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rosters[sessionID]
	return append([]club.Signup(nil), r...), ok
}

// DeleteSession asks for confirmation and then deletes the session
// document. Signups of the session are left in place. It reports whether
// the session was deleted.
func (c *Console) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	ok, err := c.opts.Confirmer.Confirm(ctx, ConfirmDeleteMessage)
	if err != nil || !ok {
		return false, err
	}
	if err := c.db.Delete(ctx, c.cols.Sessions, sessionID); err != nil {
		logger.Error.Printf("Error deleting session %s: %v", sessionID, err)
		c.mu.Lock()
		c.rowStatus[sessionID] = StatusDeleteFailed
		c.mu.Unlock()
		c.opts.OnChange()
		return false, fmt.Errorf("delete session: %w", err)
	}
	return true, nil
}

// RosterTSV returns the spreadsheet export of a fetched roster.
func (c *Console) RosterTSV(sessionID string) (string, error) {
	signups, _ := c.Roster(sessionID)
	if len(signups) == 0 {
		return "", ErrEmptyRoster
	}
	return roster.FormatTSV(signups), nil
}

// ShareLink returns the public roster link of a session.
func (c *Console) ShareLink(sessionID string) string {
	return roster.ShareLink(c.opts.BaseURL, sessionID)
}

// CopyRoster copies the fetched roster of a session as TSV.
func (c *Console) CopyRoster(ctx context.Context, sessionID string) error {
	text, err := c.RosterTSV(sessionID)
	if err != nil {
		c.setCopyStatus(sessionID, CopyRoster, CopyEmpty)
		return err
	}
	return c.copy(ctx, sessionID, CopyRoster, text)
}

// CopyLink copies the public roster link of a session.
func (c *Console) CopyLink(ctx context.Context, sessionID string) error {
	return c.copy(ctx, sessionID, CopyLink, c.ShareLink(sessionID))
}

func (c *Console) copy(ctx context.Context, sessionID, kind, text string) error {
	err := c.opts.Clipboard.WriteText(ctx, text)
	if err != nil {
		logger.Warn.Printf("Failed to copy %s for %s: %v", kind, sessionID, err)
		c.setCopyStatus(sessionID, kind, CopyFailed)
	} else {
		c.setCopyStatus(sessionID, kind, CopyOK)
	}
	c.opts.AfterFunc(CopyStatusClear, func() {
		c.setCopyStatus(sessionID, kind, "")
	})
	return err
}

func (c *Console) setCopyStatus(sessionID, kind, text string) {
	c.mu.Lock()
	if c.copyStatus[sessionID] == nil {
		c.copyStatus[sessionID] = make(map[string]string)
	}
	if text == "" {
		delete(c.copyStatus[sessionID], kind)
	} else {
		c.copyStatus[sessionID][kind] = text
	}
	c.mu.Unlock()
	c.opts.OnChange()
}

func (c *Console) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	c.opts.OnChange()
}
