package roster

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/database"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/realtime"
)

var cols = club.NewCollections("test")

func newStore(t *testing.T, now func() time.Time) *docstore.Store {
	t.Helper()
	backend, err := database.NewService(":memory:")
	require.NoError(t, err)
	s := docstore.NewStore(backend, realtime.NewBroker(8), docstore.WithClock(now))
	t.Cleanup(func() { s.Close() })
	return s
}

func signup(name string) club.Signup {
	return club.Signup{
		ProfileName:             club.OptionalString(name),
		ProfileEmplid:           club.OptionalString("1"),
		ProfilePhone:            club.OptionalString("555"),
		ProfileEmail:            club.OptionalString("a@x"),
		ProfileCitymail:         club.OptionalString("a@c"),
		ProfileAddress:          club.OptionalString("1 St"),
		ProfileEmergencyContact: club.OptionalString("Bob"),
	}
}

func TestFormatTSV_LineCountAndColumns(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		signups := make([]club.Signup, n)
		for i := range signups {
			signups[i] = signup("Ada")
		}
		lines := strings.Split(FormatTSV(signups), "\n")
		require.Len(t, lines, n+1)
		assert.Equal(t, "Name\tEMPLID\tPhone\tPersonal Email\tCitymail\tAddress\tEmergency Contact", lines[0])
		for _, l := range lines[1:] {
			assert.Equal(t, "Ada\t1\t555\ta@x\ta@c\t1 St\tBob", l)
		}
	}
}

func TestFormatTSV_MissingAndMultilineValues(t *testing.T) {
	s := club.Signup{
		ProfileName:             club.OptionalString("Ada"),
		ProfileAddress:          club.OptionalString("1 St\nApt 2"),
		ProfileEmergencyContact: club.OptionalString("Bob\t555"),
	}
	lines := strings.Split(FormatTSV([]club.Signup{s}), "\n")
	require.Len(t, lines, 2)
	cells := strings.Split(lines[1], "\t")
	require.Len(t, cells, 7)
	assert.Equal(t, []string{"Ada", "N/A", "N/A", "N/A", "N/A", "1 St Apt 2", "Bob 555"}, cells)
}

func TestShareLink(t *testing.T) {
	base, err := url.Parse("https://climb.example.org/app/")
	require.NoError(t, err)
	assert.Equal(t, "https://climb.example.org/app/?page=roster&session=abc", ShareLink(base, "abc"))

	withQuery, _ := url.Parse("https://climb.example.org/?x=1#frag")
	assert.Equal(t, "https://climb.example.org/?page=roster&session=a+b", ShareLink(withQuery, "a b"))
}

func waitFor(t *testing.T, v *View, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = v.Snapshot()
		return cond(snap)
	}, time.Second, 5*time.Millisecond)
	return snap
}

func TestView_NotFound(t *testing.T) {
	db := newStore(t, time.Now)
	// Orphaned signups for the missing session must not show.
	_, err := db.Add(context.Background(), cols.Signups, club.SignupFields("u1", "gone", club.Profile{Name: "Ada"}))
	require.NoError(t, err)

	v := NewView(db, cols, "gone", nil)
	v.Start(context.Background())
	defer v.Stop()

	snap := waitFor(t, v, func(s Snapshot) bool { return !s.Loading })
	assert.True(t, snap.NotFound)
	assert.Contains(t, snap.Message, "Session not found")
	assert.Empty(t, snap.Rows)
	assert.Zero(t, snap.Count)
}

func TestView_LiveRosterSortedBySignupTime(t *testing.T) {
	clock := &tickClock{t: time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)}
	db := newStore(t, clock.Now)
	ctx := context.Background()

	sid, err := db.Add(ctx, cols.Sessions, club.SessionFields(club.Session{
		Name: "Weekly Climb", SessionDate: clock.Now().Add(24 * time.Hour), WaiverLink: club.OptionalString("waiver.example.org"),
	}))
	require.NoError(t, err)
	_, err = db.Add(ctx, cols.Signups, club.SignupFields("u1", sid, club.Profile{Name: "First"}))
	require.NoError(t, err)

	var pushed atomic.Int32
	v := NewView(db, cols, sid, func(Snapshot) { pushed.Add(1) })
	v.Start(ctx)
	defer v.Stop()

	snap := waitFor(t, v, func(s Snapshot) bool { return s.Count == 1 })
	assert.Equal(t, "Weekly Climb", snap.Session.Name)
	assert.Equal(t, "https://waiver.example.org", snap.WaiverURL)

	_, err = db.Add(ctx, cols.Signups, club.SignupFields("u2", sid, club.Profile{Name: "Second"}))
	require.NoError(t, err)
	snap = waitFor(t, v, func(s Snapshot) bool { return s.Count == 2 })
	assert.Equal(t, 1, snap.Rows[0].Number)
	assert.Equal(t, "First", snap.Rows[0].Signup.ProfileName.OrElse(""))
	assert.Equal(t, "Second", snap.Rows[1].Signup.ProfileName.OrElse(""))
	assert.Equal(t, "N/A", snap.Rows[1].Columns[1])
	assert.False(t, snap.LastUpdated.IsZero())
	assert.Positive(t, pushed.Load())

	require.NoError(t, db.Delete(ctx, cols.Sessions, sid))
	snap = waitFor(t, v, func(s Snapshot) bool { return s.NotFound })
	assert.Empty(t, snap.Rows)
}

// tickClock advances one second on every reading.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}
