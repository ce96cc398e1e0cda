package app

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/climbsignups/internal/admin"
	"github.com/intermernet/climbsignups/internal/catalog"
	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/database"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/profile"
	"github.com/intermernet/climbsignups/internal/realtime"
	"github.com/intermernet/climbsignups/internal/roster"
)

var cols = club.NewCollections("test")

type env struct {
	db     *docstore.Store
	broker *realtime.Broker
	hub    *Hub
}

func newEnv(t *testing.T, admins ...string) *env {
	t.Helper()
	backend, err := database.NewService(":memory:")
	require.NoError(t, err)
	broker := realtime.NewBroker(64)
	db := docstore.NewStore(backend, broker)
	base, _ := url.Parse("https://climb.example.org/")
	hub := NewHub(context.Background(), Config{
		DB:             db,
		Cols:           cols,
		Events:         broker,
		AdminIDs:       admins,
		BaseURL:        base,
		ConfirmTimeout: time.Second,
		AfterFunc:      func(time.Duration, func()) *time.Timer { return nil },
	})
	t.Cleanup(func() {
		hub.Close()
		db.Close()
	})
	return &env{db: db, broker: broker, hub: hub}
}

func validForm(name string) profile.Form {
	return profile.Form{
		Name: name, Emplid: "123", Phone: "555", Email: "a@x.org", Citymail: "a@c.edu",
		Address: "1 St", EmergencyContact: "Bob", WaiverChecked: true,
	}
}

func eventually(t *testing.T, s *Session, cond func(View) bool) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		v = s.View()
		return cond(v)
	}, 2*time.Second, 5*time.Millisecond)
	return v
}

func TestParseRoute(t *testing.T) {
	r := ParseRoute(url.Values{"page": {"roster"}, "session": {"abc"}})
	assert.True(t, r.Public())
	assert.True(t, r.IsRoster())
	assert.Equal(t, "abc", r.SessionID)

	r = ParseRoute(url.Values{"page": {"roster"}})
	assert.True(t, r.Public())
	assert.False(t, r.IsRoster())

	r = ParseRoute(url.Values{"session": {"abc"}})
	assert.Equal(t, PageMain, r.Page)
	assert.False(t, r.Public())
}

func TestTutorial_AdminSectionOnlyForAdmins(t *testing.T) {
	assert.Empty(t, NewTutorial(false).Admins)
	assert.NotEmpty(t, NewTutorial(true).Admins)
	assert.NotEmpty(t, NewTutorial(true).Tasks)
}

func TestClipboardBridge(t *testing.T) {
	broker := realtime.NewBroker(4)
	cb := clipboardBridge{pub: broker, topic: UserTopic("u1")}
	assert.ErrorIs(t, cb.WriteText(context.Background(), "x"), ErrNoClient)

	id, ch := broker.Subscribe(UserTopic("u1"))
	defer broker.Unsubscribe(UserTopic("u1"), id)
	require.NoError(t, cb.WriteText(context.Background(), "hello"))
	msg := <-ch
	assert.Equal(t, EventClipboard, msg.Type)
	assert.JSONEq(t, `{"text":"hello"}`, string(msg.Payload))
}

func TestConfirmations(t *testing.T) {
	broker := realtime.NewBroker(4)
	topic := UserTopic("u1")
	c := newConfirmations(broker, topic, 50*time.Millisecond, nil)

	ok, err := c.Confirm(context.Background(), "sure?")
	assert.ErrorIs(t, err, ErrNoClient)
	assert.False(t, ok)

	id, ch := broker.Subscribe(topic)
	defer broker.Unsubscribe(topic, id)

	go func() {
		msg := <-ch
		var p Prompt
		if json.Unmarshal(msg.Payload, &p) == nil {
			_ = c.Answer(p.ID, true)
		}
	}()
	ok, err = c.Confirm(context.Background(), "sure?")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, c.Pending())

	// Nobody answers: the timeout is a no.
	ok, err = c.Confirm(context.Background(), "again?")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, c.Answer("nope", true), ErrUnknownConfirmation)
}

func TestHub_RefCounting(t *testing.T) {
	e := newEnv(t)
	a := e.hub.Acquire("u1")
	b := e.hub.Acquire("u1")
	assert.Same(t, a, b)
	assert.Equal(t, 1, e.hub.Active())

	e.hub.Release("u1")
	assert.Equal(t, 1, e.hub.Active())
	e.hub.Release("u1")
	assert.Equal(t, 0, e.hub.Active())

	// Unknown releases are ignored.
	e.hub.Release("u1")

	c := e.hub.Acquire("u1")
	assert.NotSame(t, a, c)
	e.hub.Release("u1")
}

func TestSession_CatalogFollowsProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.hub.Acquire("m1")
	defer e.hub.Release("m1")
	require.NoError(t, s.WaitReady(ctx))

	v := s.View()
	assert.Equal(t, "m1", v.UserID)
	assert.Equal(t, profile.StateMissing, v.Profile.State)
	assert.Nil(t, v.Catalog)
	assert.Nil(t, v.Admin)
	assert.ErrorIs(t, s.SignUp(ctx, "any"), catalog.ErrProfileMissing)
	_, err := s.Console()
	assert.ErrorIs(t, err, ErrNotAdmin)

	assert.ErrorIs(t, s.CreateProfile(ctx, profile.Form{Name: "Ada"}), profile.ErrMissingFields)
	require.NoError(t, s.CreateProfile(ctx, validForm("Ada")))
	eventually(t, s, func(v View) bool { return v.Catalog != nil && !v.Catalog.Loading })

	require.NoError(t, e.db.Delete(ctx, cols.Profiles, "m1"))
	eventually(t, s, func(v View) bool { return v.Catalog == nil && v.Profile.State == profile.StateMissing })
}

func TestSession_PublishesViews(t *testing.T) {
	e := newEnv(t)
	id, ch := e.broker.Subscribe(UserTopic("m1"))
	defer e.broker.Unsubscribe(UserTopic("m1"), id)

	s := e.hub.Acquire("m1")
	defer e.hub.Release("m1")
	require.NoError(t, s.WaitReady(context.Background()))

	select {
	case msg := <-ch:
		assert.Equal(t, EventView, msg.Type)
		var v View
		require.NoError(t, json.Unmarshal(msg.Payload, &v))
		assert.Equal(t, "m1", v.UserID)
	case <-time.After(time.Second):
		t.Fatal("no view published")
	}
}

func TestSession_SlowReaderEndsOnLatestView(t *testing.T) {
	e := newEnv(t, "admin1")
	id, ch := e.broker.Subscribe(UserTopic("admin1"))
	defer e.broker.Unsubscribe(UserTopic("admin1"), id)

	s := e.hub.Acquire("admin1")
	defer e.hub.Release("admin1")
	require.NoError(t, s.WaitReady(context.Background()))
	console, err := s.Console()
	require.NoError(t, err)

	// Flip the tab more times than the subscriber buffer holds, without reading.
	for i := 0; i < 69; i++ {
		tab := admin.TabManage
		if i%2 == 1 {
			tab = admin.TabCreate
		}
		require.NoError(t, console.SetTab(tab))
	}
	want := s.View().Admin.Tab
	assert.Equal(t, admin.TabManage, want)

	var last View
	require.Eventually(t, func() bool {
		for {
			select {
			case msg := <-ch:
				if msg.Type == EventView {
					last = View{}
					if json.Unmarshal(msg.Payload, &last) != nil {
						return false
					}
				}
			default:
				return last.Admin != nil && last.Admin.Tab == want
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}

// The full member and admin flow against one store.
func TestScenario_CreateSignUpRosterDelete(t *testing.T) {
	e := newEnv(t, "admin1")
	ctx := context.Background()
	now := time.Now()

	adm := e.hub.Acquire("admin1")
	defer e.hub.Release("admin1")
	require.NoError(t, adm.WaitReady(ctx))
	assert.True(t, adm.View().IsAdmin)
	console, err := adm.Console()
	require.NoError(t, err)

	require.NoError(t, console.CreateSession(ctx, admin.SessionForm{Name: "Late", SessionDate: now.Add(72 * time.Hour)}))
	require.NoError(t, console.CreateSession(ctx, admin.SessionForm{Name: "Early", SessionDate: now.Add(24 * time.Hour), Location: "Gym"}))
	require.NoError(t, console.CreateSession(ctx, admin.SessionForm{Name: "Past", SessionDate: now.Add(-24 * time.Hour)}))
	av := eventually(t, adm, func(v View) bool { return v.Admin != nil && len(v.Admin.Sessions) == 3 })
	assert.Equal(t, "Late", av.Admin.Sessions[0].Name)
	assert.Equal(t, "Past", av.Admin.Sessions[2].Name)
	late := av.Admin.Sessions[0].ID

	member := e.hub.Acquire("m1")
	defer e.hub.Release("m1")
	require.NoError(t, member.WaitReady(ctx))
	require.NoError(t, member.CreateProfile(ctx, validForm("Ada")))
	mv := eventually(t, member, func(v View) bool { return v.Catalog != nil && len(v.Catalog.Sessions) == 2 })
	assert.Equal(t, "Early", mv.Catalog.Sessions[0].Name)
	assert.Equal(t, "Late", mv.Catalog.Sessions[1].Name)

	require.NoError(t, member.SignUp(ctx, late))
	eventually(t, member, func(v View) bool { return v.Catalog.Sessions[1].SignedUp })

	require.NoError(t, console.ToggleRoster(ctx, late))
	signups, ok := console.Roster(late)
	require.True(t, ok)
	require.Len(t, signups, 1)
	assert.Equal(t, "Ada", signups[0].ProfileName.OrElse(""))
	tsv, err := console.RosterTSV(late)
	require.NoError(t, err)
	assert.Len(t, strings.Split(tsv, "\n"), 2)

	// Answer the delete prompt like a connected client would.
	id, ch := e.broker.Subscribe(UserTopic("admin1"))
	defer e.broker.Unsubscribe(UserTopic("admin1"), id)
	go func() {
		for msg := range ch {
			if msg.Type != EventConfirm {
				continue
			}
			var p Prompt
			if json.Unmarshal(msg.Payload, &p) == nil {
				_ = adm.Answer(p.ID, true)
			}
			return
		}
	}()
	deleted, err := console.DeleteSession(ctx, late)
	require.NoError(t, err)
	assert.True(t, deleted)

	mv = eventually(t, member, func(v View) bool { return len(v.Catalog.Sessions) == 1 })
	assert.Equal(t, "Early", mv.Catalog.Sessions[0].Name)

	rv := roster.NewView(e.db, cols, late, nil)
	rv.Start(ctx)
	defer rv.Stop()
	require.Eventually(t, func() bool { return rv.Snapshot().NotFound }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, rv.Snapshot().Count)
}
