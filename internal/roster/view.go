// Package roster is the public, identity-free live roster of one session
// and the export formats the admin console copies from it.
package roster

import (
	"context"
	"sync"
	"time"

	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/logger"
)

// NotFoundMessage is shown for a session id that does not exist.
const NotFoundMessage = "Error: Session not found. The link may be incorrect."

// EmptyMessage is shown when nobody has signed up yet.
const EmptyMessage = "No one has signed up for this session yet."

// Row is one numbered roster line.
type Row struct {
	Number  int         `json:"number"`
	Signup  club.Signup `json:"signup"`
	Columns []string    `json:"columns"`
}

// Snapshot is the roster page at one point in time.
type Snapshot struct {
	Loading         bool          `json:"loading"`
	NotFound        bool          `json:"notFound"`
	Message         string        `json:"message,omitempty"`
	Session         *club.Session `json:"session,omitempty"`
	WaiverURL       string        `json:"waiverUrl,omitempty"`
	DescriptionHTML string        `json:"descriptionHtml,omitempty"`
	Header          []string      `json:"header"`
	Rows            []Row         `json:"rows"`
	Count           int           `json:"count"`
	LastUpdated     time.Time     `json:"lastUpdated"`
}

// View watches one session document and its signups.
type View struct {
	db        docstore.Database
	cols      club.Collections
	sessionID string
	now       func() time.Time
	onChange  func(Snapshot)

	mu            sync.Mutex
	sessionLoaded bool
	session       *club.Session
	signupsLoaded bool
	signups       []club.Signup
	lastUpdated   time.Time

	sessionSub *docstore.Subscription
	signupsSub *docstore.Subscription
	wg         sync.WaitGroup
}

// NewView creates a View for sessionID. onChange, if set, receives every
// new snapshot.
func NewView(db docstore.Database, cols club.Collections, sessionID string, onChange func(Snapshot)) *View {
	if onChange == nil {
		onChange = func(Snapshot) {}
	}
	return &View{
		db:        db,
		cols:      cols,
		sessionID: sessionID,
		now:       time.Now,
		onChange:  onChange,
	}
}

// Start subscribes to the session and its signups.
func (v *View) Start(ctx context.Context) {
	v.sessionSub = v.db.Watch(ctx, docstore.Doc(v.cols.Sessions, v.sessionID))
	v.signupsSub = v.db.Watch(ctx, docstore.Collection(v.cols.Signups).Where("sessionId", v.sessionID))

	v.wg.Add(2)
	go func() {
		defer v.wg.Done()
		for snap := range v.sessionSub.C {
			v.applySession(snap)
			v.onChange(v.Snapshot())
		}
	}()
	go func() {
		defer v.wg.Done()
		for snap := range v.signupsSub.C {
			v.applySignups(snap)
			v.onChange(v.Snapshot())
		}
	}()
}

// Stop tears the subscriptions down.
func (v *View) Stop() {
	if v.sessionSub == nil {
		return
	}
	v.sessionSub.Close()
	v.signupsSub.Close()
	v.wg.Wait()
}

func (v *View) applySession(snap docstore.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessionLoaded = true
	v.session = nil
	if snap.Err != nil {
		logger.Error.Printf("Error fetching session details for %s: %v", v.sessionID, snap.Err)
		return
	}
	if !snap.Exists() {
		return
	}
	s, err := club.SessionFromDoc(snap.Docs[0])
	if err != nil {
		logger.Warn.Printf("Unreadable session %s: %v", v.sessionID, err)
		return
	}
	v.session = &s
	v.lastUpdated = v.now()
}

func (v *View) applySignups(snap docstore.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.signupsLoaded = true
	if snap.Err != nil {
		logger.Error.Printf("Error fetching live roster for %s: %v", v.sessionID, snap.Err)
		return
	}
	signups := club.DecodeAll(snap.Docs, club.SignupFromDoc)
	club.SortSignups(signups)
	v.signups = signups
	v.lastUpdated = v.now()
}

// Snapshot returns the current page state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snap := Snapshot{Header: Header, Rows: []Row{}, LastUpdated: v.lastUpdated}
	switch {
	case v.session != nil:
		s := *v.session
		snap.Session = &s
		snap.WaiverURL = s.WaiverURL()
		snap.DescriptionHTML = string(s.DescriptionHTML())
		for i, su := range v.signups {
			snap.Rows = append(snap.Rows, Row{Number: i + 1, Signup: su, Columns: Columns(su)})
		}
		snap.Count = len(snap.Rows)
		if snap.Count == 0 {
			snap.Message = EmptyMessage
		}
		snap.Loading = !v.signupsLoaded
	case !v.sessionLoaded:
		snap.Loading = true
	default:
		snap.NotFound = true
		snap.Message = NotFoundMessage
	}
	return snap
}
