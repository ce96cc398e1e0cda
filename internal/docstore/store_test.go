package docstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/climbsignups/internal/database"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/realtime"
)

var fixedNow = time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *docstore.Store {
	t.Helper()
	backend, err := database.NewService(":memory:")
	require.NoError(t, err)
	s := docstore.NewStore(backend, realtime.NewBroker(8), docstore.WithClock(func() time.Time { return fixedNow }))
	t.Cleanup(func() { s.Close() })
	return s
}

func next(t *testing.T, sub *docstore.Subscription) docstore.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return docstore.Snapshot{}
	}
}

func TestStore_ServerTimestampAndAdd(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "signups", docstore.Fields{"userId": "u1", "signedUpAt": docstore.ServerTimestamp})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	doc, err := s.Get(ctx, "signups", id)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), doc.Fields["signedUpAt"])

	id2, err := s.Add(ctx, "signups", docstore.Fields{"userId": "u1"})
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestStore_QueryRejectsBadField(t *testing.T) {
	s := newStore(t)
	_, err := s.Query(context.Background(), docstore.Collection("signups").Where("a'b", "x"))
	assert.ErrorIs(t, err, docstore.ErrInvalidField)
}

func TestStore_WatchDeliversInitialAndChanges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sub := s.Watch(ctx, docstore.Collection("signups").Where("userId", "u1"))
	defer sub.Close()

	first := next(t, sub)
	require.NoError(t, first.Err)
	assert.Empty(t, first.Docs)

	require.NoError(t, s.Set(ctx, "signups", "s1", docstore.Fields{"userId": "u1"}))
	snap := next(t, sub)
	require.Len(t, snap.Docs, 1)
	assert.Equal(t, "s1", snap.Docs[0].ID)

	require.NoError(t, s.Delete(ctx, "signups", "s1"))
	snap = next(t, sub)
	assert.Empty(t, snap.Docs)
}

func TestStore_WatchDoc(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sub := s.Watch(ctx, docstore.Doc("sessions", "x"))
	defer sub.Close()
	assert.False(t, next(t, sub).Exists())

	require.NoError(t, s.Set(ctx, "sessions", "x", docstore.Fields{"name": "Boulder"}))
	snap := next(t, sub)
	require.True(t, snap.Exists())
	assert.Equal(t, "Boulder", snap.Docs[0].Fields["name"])
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	s := newStore(t)
	sub := s.Watch(context.Background(), docstore.Collection("sessions"))
	next(t, sub)
	sub.Close()

	_, open := <-sub.C
	assert.False(t, open)
	// Writes after close must not block or panic.
	require.NoError(t, s.Set(context.Background(), "sessions", "y", docstore.Fields{}))
}

func TestQuery_WhereDoesNotAlias(t *testing.T) {
	base := docstore.Collection("signups").Where("userId", "u1")
	a := base.Where("sessionId", "a")
	b := base.Where("sessionId", "b")
	assert.Equal(t, "a", a.Filters[1].Value)
	assert.Equal(t, "b", b.Filters[1].Value)
	assert.Len(t, base.Filters, 1)
}
