package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
	"github.com/OwlAIhub/OwlAI-sub003/store"
)

// newKeyStore builds a store for key and codec tests; nothing here
// touches the network.
func newKeyStore(cfg Config) *RedisStore {
	return NewFromClient(redis.NewClient(&redis.Options{Addr: cfg.Addr}), cfg)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.KeyPrefix = ""
	assert.Error(t, cfg.Validate())
}

func TestDefaultConfigIndexes(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"userId"}, cfg.IndexFields["sessions"])
	assert.Equal(t, []string{"sessionId"}, cfg.IndexFields["messages"])
}

func TestKeyLayout(t *testing.T) {
	s := newKeyStore(DefaultConfig())

	assert.Equal(t, "owlai:doc:sessions:s1", s.DocKey("sessions", "s1"))
	assert.Equal(t, "owlai:idx:messages", s.IndexKey("messages"))
	assert.Equal(t, "owlai:idx:messages:sessionId:s1",
		s.FilterIndexKey("messages", "sessionId", "s1"))
}

func TestKeyPrefixNamespacesEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyPrefix = "tenant42"
	s := newKeyStore(cfg)

	assert.Equal(t, "tenant42:doc:messages:m1", s.DocKey("messages", "m1"))
	assert.Equal(t, "tenant42:idx:sessions", s.IndexKey("sessions"))
}

func TestIndexedFields(t *testing.T) {
	s := newKeyStore(DefaultConfig())

	assert.True(t, s.indexed("messages", "sessionId"))
	assert.False(t, s.indexed("messages", "userId"))
	assert.False(t, s.indexed("unknown", "sessionId"))
}

func TestEncodeFields(t *testing.T) {
	fields, err := encodeFields(map[string]any{
		"title":        "algebra",
		"messageCount": 3,
		"archived":     false,
	})
	require.NoError(t, err)

	// Integers must encode as bare digits so HINCRBY stays valid
	assert.Equal(t, "3", fields["messageCount"])
	assert.Equal(t, `"algebra"`, fields["title"])
	assert.Equal(t, "false", fields["archived"])
}

func TestEncodeFields_RejectsUnmarshalable(t *testing.T) {
	_, err := encodeFields(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestDecodeRoundTrip(t *testing.T) {
	s := newKeyStore(DefaultConfig())

	doc, err := s.decode("s1", map[string]string{
		"title":        `"algebra"`,
		"messageCount": "7",
		"userId":       `"u1"`,
		updatedField:   "2026-08-30T10:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "s1", doc.ID)
	assert.Equal(t, "algebra", doc.Data["title"])
	assert.Equal(t, float64(7), doc.Data["messageCount"], "bare HINCRBY counters decode as numbers")
	assert.Equal(t, "u1", doc.Data["userId"])
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), doc.UpdatedAt)
	_, reserved := doc.Data[updatedField]
	assert.False(t, reserved, "the update-time field stays out of Data")
}

func TestDecodeToleratesInvalidJSON(t *testing.T) {
	s := newKeyStore(DefaultConfig())

	doc, err := s.decode("m1", map[string]string{"legacy": "not json {"})
	require.NoError(t, err)
	assert.Equal(t, "not json {", doc.Data["legacy"])
}

// newLiveStore backs the store with an in-process Redis so Query and
// CommitBatch run against real command semantics.
func newLiveStore(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	return NewFromClient(client, cfg), client
}

func createMessages(t *testing.T, s *RedisStore, sessionID string, n int) {
	t.Helper()
	ops := make([]store.BatchOp, n)
	for i := range ops {
		ops[i] = store.BatchOp{
			Kind:       store.OpCreate,
			Collection: "messages",
			ID:         fmt.Sprintf("m-%02d", i),
			Payload:    map[string]any{"sessionId": sessionID, "content": fmt.Sprintf("hello %d", i)},
		}
	}
	require.NoError(t, s.CommitBatch(context.Background(), ops))
}

func TestCommitBatch_CreateGetRoundTrip(t *testing.T) {
	s, _ := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, []store.BatchOp{{
		Kind:       store.OpCreate,
		Collection: "sessions",
		ID:         "s1",
		Payload:    map[string]any{"userId": "u1", "title": "algebra", "messageCount": 0},
	}}))

	doc, err := s.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", doc.ID)
	assert.Equal(t, "u1", doc.Data["userId"])
	assert.Equal(t, "algebra", doc.Data["title"])
	assert.False(t, doc.UpdatedAt.IsZero())
}

func TestGet_MissingDocument(t *testing.T) {
	s, _ := newLiveStore(t)

	_, err := s.Get(context.Background(), "sessions", "nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestCommitBatch_IncrementInsideTransaction(t *testing.T) {
	s, _ := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, []store.BatchOp{
		{
			Kind:       store.OpCreate,
			Collection: "sessions",
			ID:         "s1",
			Payload:    map[string]any{"userId": "u1", "messageCount": 0},
		},
		{Kind: store.OpIncrement, Collection: "sessions", ID: "s1", Field: "messageCount", Delta: 2},
	}))

	doc, err := s.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc.Data["messageCount"])
}

func TestCommitBatch_UpdateMergesFields(t *testing.T) {
	s, _ := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, []store.BatchOp{{
		Kind:       store.OpCreate,
		Collection: "sessions",
		ID:         "s1",
		Payload:    map[string]any{"userId": "u1", "title": "algebra"},
	}}))
	require.NoError(t, s.CommitBatch(ctx, []store.BatchOp{{
		Kind:       store.OpUpdate,
		Collection: "sessions",
		ID:         "s1",
		Payload:    map[string]any{"title": "calculus"},
	}}))

	doc, err := s.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, "calculus", doc.Data["title"])
	assert.Equal(t, "u1", doc.Data["userId"], "untouched fields survive an update")
}

func TestQuery_CursorPagination(t *testing.T) {
	s, _ := newLiveStore(t)
	ctx := context.Background()
	createMessages(t, s, "s1", 5)

	page1, err := s.Query(ctx, store.Query{Collection: "messages", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Docs, 2)
	assert.Equal(t, "m-00", page1.Docs[0].ID)
	assert.Equal(t, "m-01", page1.Docs[1].ID)
	require.NotEmpty(t, page1.Cursor)

	// The cursor is exclusive: the next page starts past m-01
	page2, err := s.Query(ctx, store.Query{Collection: "messages", Limit: 2, Cursor: page1.Cursor})
	require.NoError(t, err)
	require.Len(t, page2.Docs, 2)
	assert.Equal(t, "m-02", page2.Docs[0].ID)
	assert.Equal(t, "m-03", page2.Docs[1].ID)

	page3, err := s.Query(ctx, store.Query{Collection: "messages", Limit: 2, Cursor: page2.Cursor})
	require.NoError(t, err)
	require.Len(t, page3.Docs, 1)
	assert.Equal(t, "m-04", page3.Docs[0].ID)
}

func TestQuery_DescendingOrder(t *testing.T) {
	s, _ := newLiveStore(t)
	ctx := context.Background()
	createMessages(t, s, "s1", 3)

	page, err := s.Query(ctx, store.Query{Collection: "messages", Limit: 2, Descending: true})
	require.NoError(t, err)
	require.Len(t, page.Docs, 2)
	assert.Equal(t, "m-02", page.Docs[0].ID)
	assert.Equal(t, "m-01", page.Docs[1].ID)

	next, err := s.Query(ctx, store.Query{Collection: "messages", Limit: 2, Descending: true, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, next.Docs, 1)
	assert.Equal(t, "m-00", next.Docs[0].ID)
}

func TestQuery_FilterUsesPerFieldIndex(t *testing.T) {
	s, _ := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, []store.BatchOp{
		{Kind: store.OpCreate, Collection: "messages", ID: "a1", Payload: map[string]any{"sessionId": "s1", "content": "x"}},
		{Kind: store.OpCreate, Collection: "messages", ID: "b1", Payload: map[string]any{"sessionId": "s2", "content": "y"}},
		{Kind: store.OpCreate, Collection: "messages", ID: "a2", Payload: map[string]any{"sessionId": "s1", "content": "z"}},
	}))

	page, err := s.Query(ctx, store.Query{
		Collection: "messages",
		Filters:    map[string]any{"sessionId": "s1"},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, page.Docs, 2)
	assert.Equal(t, "a1", page.Docs[0].ID)
	assert.Equal(t, "a2", page.Docs[1].ID)

	_, err = s.Query(ctx, store.Query{
		Collection: "messages",
		Filters:    map[string]any{"content": "x"},
		Limit:      10,
	})
	assert.Error(t, err, "filtering on an unindexed field is rejected")
}

func TestQuery_SkipsOrphanedIndexEntries(t *testing.T) {
	s, client := newLiveStore(t)
	ctx := context.Background()
	createMessages(t, s, "s1", 3)

	// Delete one hash out of band, leaving its index entry dangling
	require.NoError(t, client.Del(ctx, s.DocKey("messages", "m-01")).Err())

	page, err := s.Query(ctx, store.Query{Collection: "messages", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Docs, 2)
	assert.Equal(t, "m-00", page.Docs[0].ID)
	assert.Equal(t, "m-02", page.Docs[1].ID)
}

func TestCommitBatch_DeleteCleansIndexes(t *testing.T) {
	s, client := newLiveStore(t)
	ctx := context.Background()
	createMessages(t, s, "s1", 2)

	require.NoError(t, s.CommitBatch(ctx, []store.BatchOp{{
		Kind:       store.OpDelete,
		Collection: "messages",
		ID:         "m-00",
		Payload:    map[string]any{"sessionId": "s1"},
	}}))

	_, err := s.Get(ctx, "messages", "m-00")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	page, err := s.Query(ctx, store.Query{Collection: "messages", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Docs, 1)
	assert.Equal(t, "m-01", page.Docs[0].ID)

	members, err := client.ZRange(ctx, s.FilterIndexKey("messages", "sessionId", "s1"), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"m-01"}, members)
}
