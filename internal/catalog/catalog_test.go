package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/database"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/realtime"
)

var (
	cols = club.NewCollections("test")
	now  = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
)

func newStore(t *testing.T) *docstore.Store {
	t.Helper()
	backend, err := database.NewService(":memory:")
	require.NoError(t, err)
	s := docstore.NewStore(backend, realtime.NewBroker(8))
	t.Cleanup(func() { s.Close() })
	return s
}

type staticProfile struct {
	p  club.Profile
	ok bool
}

func (s staticProfile) Profile() (club.Profile, bool) { return s.p, s.ok }

var ada = staticProfile{ok: true, p: club.Profile{
	Name: "Ada", Emplid: "1", Phone: "555", Email: "ada@x", Citymail: "ada@c", Address: "1 St", EmergencyContact: "Bob",
}}

func addSession(t *testing.T, db docstore.Database, name string, at time.Time) string {
	t.Helper()
	id, err := db.Add(context.Background(), cols.Sessions, club.SessionFields(club.Session{Name: name, SessionDate: at}))
	require.NoError(t, err)
	return id
}

func startCatalog(t *testing.T, db docstore.Database, uid string, profile ProfileSource, opts Options) *Catalog {
	t.Helper()
	opts.Now = func() time.Time { return now }
	c := New(db, cols, uid, profile, opts)
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func sessionNames(v View) []string {
	out := make([]string, 0, len(v.Sessions))
	for _, s := range v.Sessions {
		out = append(out, s.Name)
	}
	return out
}

func TestUpcoming_FilterAndOrder(t *testing.T) {
	sessions := []club.Session{
		{ID: "later", SessionDate: now.Add(48 * time.Hour)},
		{ID: "past", SessionDate: now.Add(-time.Minute)},
		{ID: "now", SessionDate: now},
		{ID: "soon", SessionDate: now.Add(time.Hour)},
	}
	got := Upcoming(sessions, now)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"now", "soon", "later"}, ids)
}

func TestCatalog_ListsUpcomingAscending(t *testing.T) {
	db := newStore(t)
	addSession(t, db, "Two days", now.Add(48*time.Hour))
	addSession(t, db, "Yesterday", now.Add(-24*time.Hour))
	addSession(t, db, "Tomorrow", now.Add(24*time.Hour))

	c := startCatalog(t, db, "u1", ada, Options{})
	require.Eventually(t, func() bool { return len(c.View().Sessions) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Tomorrow", "Two days"}, sessionNames(c.View()))
	assert.False(t, c.View().Loading)
}

func TestCatalog_SignUpThenCancel(t *testing.T) {
	db := newStore(t)
	sid := addSession(t, db, "Weekly Climb", now.Add(24*time.Hour))
	c := startCatalog(t, db, "u1", ada, Options{})

	require.NoError(t, c.SignUp(context.Background(), sid))
	require.Eventually(t, func() bool { _, ok := c.SignedUp(sid); return ok }, time.Second, 5*time.Millisecond)

	signups, err := db.Query(context.Background(), docstore.Collection(cols.Signups).Where("userId", "u1").Where("sessionId", sid))
	require.NoError(t, err)
	require.Len(t, signups, 1)
	assert.Equal(t, "Ada", signups[0].Fields["profileName"])
	assert.Equal(t, "Bob", signups[0].Fields["profileEmergencyContact"])

	require.Eventually(t, func() bool {
		v := c.View()
		return len(v.Sessions) == 1 && v.Sessions[0].SignedUp && v.Sessions[0].Status == StatusSignedUp
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Cancel(context.Background(), sid))
	require.Eventually(t, func() bool { _, ok := c.SignedUp(sid); return !ok }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusCanceled, c.View().Sessions[0].Status)

	signups, err = db.Query(context.Background(), docstore.Collection(cols.Signups).Where("userId", "u1"))
	require.NoError(t, err)
	assert.Empty(t, signups)
}

func TestCatalog_OtherUsersSignupsAreNotMine(t *testing.T) {
	db := newStore(t)
	sid := addSession(t, db, "Weekly Climb", now.Add(24*time.Hour))
	other := startCatalog(t, db, "u2", ada, Options{})
	require.NoError(t, other.SignUp(context.Background(), sid))

	mine := startCatalog(t, db, "u1", ada, Options{})
	require.Eventually(t, func() bool { return len(mine.View().Sessions) == 1 }, time.Second, 5*time.Millisecond)
	_, ok := mine.SignedUp(sid)
	assert.False(t, ok)
}

func TestCatalog_ProfileMissing(t *testing.T) {
	db := newStore(t)
	sid := addSession(t, db, "Weekly Climb", now.Add(24*time.Hour))
	c := startCatalog(t, db, "u1", staticProfile{}, Options{})
	require.Eventually(t, func() bool { return len(c.View().Sessions) == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, c.SignUp(context.Background(), sid), ErrProfileMissing)
	assert.Equal(t, StatusProfileMissing, c.View().Sessions[0].Status)
	docs, err := db.Query(context.Background(), docstore.Collection(cols.Signups))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCatalog_CancelWithoutSignup(t *testing.T) {
	db := newStore(t)
	sid := addSession(t, db, "Weekly Climb", now.Add(24*time.Hour))
	c := startCatalog(t, db, "u1", ada, Options{})
	require.Eventually(t, func() bool { return len(c.View().Sessions) == 1 }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, c.Cancel(context.Background(), sid), ErrSignupNotFound)
	assert.Equal(t, StatusNotFound, c.View().Sessions[0].Status)
}

// gatedDB blocks Add until release is closed.
type gatedDB struct {
	docstore.Database
	entered chan struct{}
	release chan struct{}
	err     error
}

func (g *gatedDB) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	g.entered <- struct{}{}
	<-g.release
	if g.err != nil {
		return "", g.err
	}
	return g.Database.Add(ctx, collection, fields)
}

func TestCatalog_InFlightDisablesAction(t *testing.T) {
	db := &gatedDB{Database: newStore(t), entered: make(chan struct{}, 1), release: make(chan struct{}), err: errors.New("network")}
	sid := addSession(t, db.Database, "Weekly Climb", now.Add(24*time.Hour))
	c := startCatalog(t, db, "u1", ada, Options{})
	require.Eventually(t, func() bool { return len(c.View().Sessions) == 1 }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = c.SignUp(context.Background(), sid)
	}()
	<-db.entered

	v := c.View().Sessions[0]
	assert.True(t, v.Busy)
	assert.Equal(t, StatusSigningUp, v.Status)
	assert.ErrorIs(t, c.SignUp(context.Background(), sid), ErrInFlight)

	close(db.release)
	wg.Wait()
	assert.Error(t, firstErr)
	v = c.View().Sessions[0]
	assert.False(t, v.Busy)
	assert.Equal(t, StatusError, v.Status)
	assert.False(t, v.SignedUp, "no optimistic mutation")
}

func TestCatalog_DedupeCollapsesDoubleSubmit(t *testing.T) {
	db := newStore(t)
	sid := addSession(t, db, "Weekly Climb", now.Add(24*time.Hour))
	c := startCatalog(t, db, "u1", ada, Options{Dedupe: true})

	require.NoError(t, c.SignUp(context.Background(), sid))
	require.NoError(t, c.SignUp(context.Background(), sid))

	docs, err := db.Query(context.Background(), docstore.Collection(cols.Signups))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, SignupID("u1", sid), docs[0].ID)
}

func TestCatalog_WithoutDedupeDoubleSubmitDuplicates(t *testing.T) {
	db := newStore(t)
	sid := addSession(t, db, "Weekly Climb", now.Add(24*time.Hour))
	c := startCatalog(t, db, "u1", ada, Options{})

	require.NoError(t, c.SignUp(context.Background(), sid))
	require.NoError(t, c.SignUp(context.Background(), sid))

	docs, err := db.Query(context.Background(), docstore.Collection(cols.Signups))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestSignupID(t *testing.T) {
	assert.Equal(t, SignupID("a", "b"), SignupID("a", "b"))
	assert.NotEqual(t, SignupID("a", "b"), SignupID("b", "a"))
	assert.NotEqual(t, SignupID("ab", "c"), SignupID("a", "bc"))
	assert.Len(t, SignupID("a", "b"), 64)
}
