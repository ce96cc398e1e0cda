// Package profile gates the member views on the existence of the user's
// profile and creates that profile.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/logger"
)

// Validation errors. Neither reaches the store.
var (
	ErrMissingFields  = errors.New("please fill out all fields")
	ErrWaiverRequired = errors.New("waiver must be confirmed")
)

// Status texts shown under the profile form.
const (
	StatusMissingFields = "Please fill out all fields."
	StatusWaiver        = "You must confirm you have filled out the waiver to create a profile."
	StatusCreating      = "Creating profile..."
	StatusCreated       = "Profile created successfully!"
	StatusCreateFailed  = "Error creating profile. Please try again."
)

// State is what the gate knows about the profile.
type State string

const (
	StateLoading State = "loading"
	StateMissing State = "missing"
	StatePresent State = "present"
)

// Form is the profile creation form.
type Form struct {
	Name             string `json:"name"`
	Emplid           string `json:"emplid"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	Citymail         string `json:"citymail"`
	Address          string `json:"address"`
	EmergencyContact string `json:"emergencyContact"`
	WaiverChecked    bool   `json:"waiverChecked"`
}

// Validate checks that every text field is filled in and the waiver is
// confirmed. Whitespace-only values count as empty.
func (f Form) Validate() error {
	for _, v := range []string{f.Name, f.Emplid, f.Phone, f.Email, f.Citymail, f.Address, f.EmergencyContact} {
		if strings.TrimSpace(v) == "" {
			return ErrMissingFields
		}
	}
	if !f.WaiverChecked {
		return ErrWaiverRequired
	}
	return nil
}

func (f Form) profile() club.Profile {
	return club.Profile{
		Name:             f.Name,
		Emplid:           f.Emplid,
		Phone:            f.Phone,
		Email:            f.Email,
		Citymail:         f.Citymail,
		Address:          f.Address,
		EmergencyContact: f.EmergencyContact,
		WaiverChecked:    f.WaiverChecked,
	}
}

// View is the gate's state as shown to the user.
type View struct {
	State   State         `json:"state"`
	Profile *club.Profile `json:"profile,omitempty"`
	Status  string        `json:"status,omitempty"`
}

// Gate watches one user's profile document.
type Gate struct {
	db       docstore.Database
	cols     club.Collections
	userID   string
	onChange func()

	mu      sync.Mutex
	state   State
	profile *club.Profile
	status  string

	sub        *docstore.Subscription
	done       chan struct{}
	loaded     chan struct{}
	loadedOnce sync.Once
}

// NewGate creates a gate for userID. onChange is called after every state
// change, without the gate's lock held.
func NewGate(db docstore.Database, cols club.Collections, userID string, onChange func()) *Gate {
	if onChange == nil {
		onChange = func() {}
	}
	return &Gate{
		db:       db,
		cols:     cols,
		userID:   userID,
		onChange: onChange,
		state:    StateLoading,
		loaded:   make(chan struct{}),
	}
}

// Loaded is closed once the first profile snapshot has been applied and
// onChange has returned for it.
func (g *Gate) Loaded() <-chan struct{} {
	return g.loaded
}

// Start subscribes to the profile document.
func (g *Gate) Start(ctx context.Context) {
	g.sub = g.db.Watch(ctx, docstore.Doc(g.cols.Profiles, g.userID))
	g.done = make(chan struct{})
	go g.run()
}

// Stop ends the subscription and waits for the gate to wind down.
func (g *Gate) Stop() {
	if g.sub == nil {
		return
	}
	g.sub.Close()
	<-g.done
}

func (g *Gate) run() {
	defer close(g.done)
	for snap := range g.sub.C {
		g.apply(snap)
		g.onChange()
		g.loadedOnce.Do(func() { close(g.loaded) })
	}
}

func (g *Gate) apply(snap docstore.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if snap.Err != nil {
		logger.Error.Printf("Error fetching profile for %s: %v", g.userID, snap.Err)
		g.state, g.profile = StateMissing, nil
		return
	}
	if !snap.Exists() {
		g.state, g.profile = StateMissing, nil
		return
	}
	p, err := club.ProfileFromDoc(snap.Docs[0])
	if err != nil {
		logger.Warn.Printf("Unreadable profile for %s: %v", g.userID, err)
		g.state, g.profile = StateMissing, nil
		return
	}
	g.state, g.profile = StatePresent, &p
}

// View returns the current state.
func (g *Gate) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := View{State: g.state, Status: g.status}
	if g.profile != nil {
		p := *g.profile
		v.Profile = &p
	}
	return v
}

// Profile returns the loaded profile, if any.
func (g *Gate) Profile() (club.Profile, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.profile == nil {
		return club.Profile{}, false
	}
	return *g.profile, true
}

// Create validates the form and writes the profile keyed by the user id.
// Writing again overwrites the same document.
func (g *Gate) Create(ctx context.Context, form Form) error {
	if err := form.Validate(); err != nil {
		if errors.Is(err, ErrWaiverRequired) {
			g.setStatus(StatusWaiver)
		} else {
			g.setStatus(StatusMissingFields)
		}
		return err
	}

	g.setStatus(StatusCreating)
	if err := g.db.Set(ctx, g.cols.Profiles, g.userID, club.ProfileFields(form.profile())); err != nil {
		logger.Error.Printf("Error creating profile for %s: %v", g.userID, err)
		g.setStatus(StatusCreateFailed)
		return fmt.Errorf("create profile: %w", err)
	}
	g.setStatus(StatusCreated)
	return nil
}

func (g *Gate) setStatus(s string) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
	g.onChange()
}
