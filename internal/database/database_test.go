package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intermernet/climbsignups/internal/docstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backendContract exercises the behaviour every docstore.Backend must share.
func backendContract(t *testing.T, b docstore.Backend) {
	ctx := context.Background()
	col := "contract_" + time.Now().Format("150405.000000")
	t0 := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := b.Get(ctx, col, "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, b.Put(ctx, col, "a", []byte(`{"userId":"u1","n":1}`), t0))
	require.NoError(t, b.Put(ctx, col, "b", []byte(`{"userId":"u2"}`), t0.Add(time.Second)))

	doc, err := b.Get(ctx, col, "a")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.Fields["userId"])
	assert.EqualValues(t, 1, doc.Fields["n"])
	assert.True(t, doc.CreateTime.Equal(t0))

	// Overwrite replaces the body and keeps the create time.
	require.NoError(t, b.Put(ctx, col, "a", []byte(`{"userId":"u3"}`), t0.Add(time.Minute)))
	doc, err = b.Get(ctx, col, "a")
	require.NoError(t, err)
	assert.Equal(t, docstore.Fields{"userId": "u3"}, doc.Fields)
	assert.True(t, doc.CreateTime.Equal(t0))
	assert.True(t, doc.UpdateTime.Equal(t0.Add(time.Minute)))

	all, err := b.Query(ctx, docstore.Collection(col))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	only, err := b.Query(ctx, docstore.Collection(col).Where("userId", "u2"))
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "b", only[0].ID)

	one, err := b.Query(ctx, docstore.Doc(col, "b"))
	require.NoError(t, err)
	require.Len(t, one, 1)

	require.NoError(t, b.Delete(ctx, col, "a"))
	require.NoError(t, b.Delete(ctx, col, "a"), "deleting a missing document is not an error")
	_, err = b.Get(ctx, col, "a")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestService_Backend(t *testing.T) {
	backendContract(t, newTestService(t))
}

func TestService_QueryOtherCollectionsIsolated(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Put(ctx, "sessions", "x", []byte(`{"name":"A"}`), now))
	require.NoError(t, s.Put(ctx, "signups", "x", []byte(`{"sessionId":"x"}`), now))

	docs, err := s.Query(ctx, docstore.Collection("sessions"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "A", docs[0].Fields["name"])
}

func TestPgService_Backend(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPgService(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
	}
	defer s.Close()
	backendContract(t, s)
}
