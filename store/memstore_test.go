package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	owlerrors "github.com/OwlAIhub/OwlAI-sub003/errors"
)

func seedDocs(t *testing.T, m *Mem, collection string, n int, data func(i int) map[string]any) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := m.CommitBatch(context.Background(), []BatchOp{{
			Kind:       OpCreate,
			Collection: collection,
			ID:         fmt.Sprintf("doc-%03d", i),
			Payload:    data(i),
		}})
		require.NoError(t, err)
	}
}

func TestMem_GetNotFound(t *testing.T) {
	m := NewMem()
	_, err := m.Get(context.Background(), "sessions", "missing")
	assert.ErrorIs(t, err, owlerrors.ErrNotFound)
}

func TestMem_CreateAndGet(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	err := m.CommitBatch(ctx, []BatchOp{{
		Kind:       OpCreate,
		Collection: "sessions",
		ID:         "s1",
		Payload:    map[string]any{"userId": "u1", "title": "New Chat"},
	}})
	require.NoError(t, err)

	doc, err := m.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.Data["userId"])
	assert.False(t, doc.UpdatedAt.IsZero())
}

func TestMem_CreateOverwrites(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpCreate, Collection: "sessions", ID: "s1",
		Payload: map[string]any{"title": "first", "extra": "kept?"},
	}}))
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpCreate, Collection: "sessions", ID: "s1",
		Payload: map[string]any{"title": "second"},
	}}))

	doc, err := m.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, "second", doc.Data["title"])
	_, hasExtra := doc.Data["extra"]
	assert.False(t, hasExtra, "create replaces the whole document")
}

func TestMem_UpdateMergesAndUpserts(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpCreate, Collection: "sessions", ID: "s1",
		Payload: map[string]any{"title": "orig", "userId": "u1"},
	}}))
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpUpdate, Collection: "sessions", ID: "s1",
		Payload: map[string]any{"title": "renamed"},
	}}))

	doc, err := m.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", doc.Data["title"])
	assert.Equal(t, "u1", doc.Data["userId"], "unmentioned fields survive a merge")

	// Updating a missing document creates it
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpUpdate, Collection: "sessions", ID: "s2",
		Payload: map[string]any{"title": "upserted"},
	}}))
	doc, err = m.Get(ctx, "sessions", "s2")
	require.NoError(t, err)
	assert.Equal(t, "upserted", doc.Data["title"])
}

func TestMem_IncrementFromMissingField(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpIncrement, Collection: "sessions", ID: "s1",
		Field: "messageCount", Delta: 1,
	}}))
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpIncrement, Collection: "sessions", ID: "s1",
		Field: "messageCount", Delta: 2,
	}}))
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpIncrement, Collection: "sessions", ID: "s1",
		Field: "messageCount", Delta: -1,
	}}))

	doc, err := m.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Data["messageCount"])
}

func TestMem_DeleteIsIdempotent(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpCreate, Collection: "messages", ID: "m1",
		Payload: map[string]any{"content": "hi"},
	}}))
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpDelete, Collection: "messages", ID: "m1",
	}}))
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpDelete, Collection: "messages", ID: "m1",
	}}))

	_, err := m.Get(ctx, "messages", "m1")
	assert.ErrorIs(t, err, owlerrors.ErrNotFound)
}

func TestMem_CommitBatchAtomicOnFailure(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpCreate, Collection: "sessions", ID: "s1",
		Payload: map[string]any{"messageCount": 0},
	}}))

	hookErr := errors.New("injected failure")
	m.SetCommitHook(func(ops []BatchOp) error { return hookErr })

	err := m.CommitBatch(ctx, []BatchOp{
		{Kind: OpCreate, Collection: "messages", ID: "m1", Payload: map[string]any{"content": "hi"}},
		{Kind: OpIncrement, Collection: "sessions", ID: "s1", Field: "messageCount", Delta: 1},
	})
	assert.ErrorIs(t, err, hookErr)

	// Nothing from the failed batch is visible
	_, err = m.Get(ctx, "messages", "m1")
	assert.ErrorIs(t, err, owlerrors.ErrNotFound)
	doc, err := m.Get(ctx, "sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Data["messageCount"])
}

func TestMem_UnknownOpKindRejectsBatch(t *testing.T) {
	m := NewMem()
	err := m.CommitBatch(context.Background(), []BatchOp{
		{Kind: OpCreate, Collection: "sessions", ID: "s1", Payload: map[string]any{"a": 1}},
		{Kind: OpKind("merge"), Collection: "sessions", ID: "s1"},
	})
	assert.Error(t, err)

	_, err = m.Get(context.Background(), "sessions", "s1")
	assert.ErrorIs(t, err, owlerrors.ErrNotFound, "valid ops in a rejected batch must not apply")
}

func TestMem_QueryFiltersAndOrder(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	seedDocs(t, m, "messages", 5, func(i int) map[string]any {
		return map[string]any{"sessionId": "s1", "idx": i}
	})
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{
		Kind: OpCreate, Collection: "messages", ID: "other",
		Payload: map[string]any{"sessionId": "s2"},
	}}))

	res, err := m.Query(ctx, Query{
		Collection: "messages",
		Filters:    map[string]any{"sessionId": "s1"},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, res.Docs, 5)
	assert.Equal(t, "doc-000", res.Docs[0].ID, "ascending order is oldest first")

	res, err = m.Query(ctx, Query{
		Collection: "messages",
		Filters:    map[string]any{"sessionId": "s1"},
		Descending: true,
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-004", res.Docs[0].ID, "descending order is newest first")
}

func TestMem_QueryCursorPagination(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	seedDocs(t, m, "messages", 7, func(i int) map[string]any {
		return map[string]any{"sessionId": "s1"}
	})

	var all []string
	cursor := ""
	for {
		res, err := m.Query(ctx, Query{
			Collection: "messages",
			Filters:    map[string]any{"sessionId": "s1"},
			Limit:      3,
			Cursor:     cursor,
		})
		require.NoError(t, err)
		if len(res.Docs) == 0 {
			break
		}
		for _, doc := range res.Docs {
			all = append(all, doc.ID)
		}
		if len(res.Docs) < 3 {
			break
		}
		cursor = res.Cursor
	}

	require.Len(t, all, 7)
	seen := map[string]bool{}
	for _, id := range all {
		assert.False(t, seen[id], "cursor must not repeat documents")
		seen[id] = true
	}
}

func TestMem_QueryLimitValidation(t *testing.T) {
	m := NewMem()
	_, err := m.Query(context.Background(), Query{Collection: "messages"})
	assert.Error(t, err)

	_, err = m.Query(context.Background(), Query{Collection: "messages", Limit: 5, Cursor: "bogus"})
	assert.Error(t, err)
}

func TestMem_CommitsRecorder(t *testing.T) {
	m := NewMem()
	ctx := context.Background()

	require.NoError(t, m.CommitBatch(ctx, []BatchOp{{Kind: OpCreate, Collection: "a", ID: "1", Payload: map[string]any{}}}))
	require.NoError(t, m.CommitBatch(ctx, []BatchOp{
		{Kind: OpCreate, Collection: "a", ID: "2", Payload: map[string]any{}},
		{Kind: OpDelete, Collection: "a", ID: "1"},
	}))

	commits := m.Commits()
	require.Len(t, commits, 2)
	assert.Len(t, commits[0], 1)
	assert.Len(t, commits[1], 2)
}
