package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecordFilterKeepsSegmentsApart(t *testing.T) {
	first := recordFilter("alice/items/bob", "items", "x")
	second := recordFilter("alice", "items", "bob/items/x")
	require.NotEqual(t, first, second)
	require.Equal(t, bson.M{"user_id": "alice", "collection": "items", "doc_id": "bob/items/x"}, second)
}

func TestUpsertFiltersOnIdentifyingFields(t *testing.T) {
	store := &Store{}
	filter, update := store.upsert("alice", documents.Write{
		Collection: "items",
		DocID:      "a/b",
		Data:       map[string]any{"title": "Dentist"},
	}, testNow)

	require.Equal(t, recordFilter("alice", "items", "a/b"), filter)
	require.Equal(t, bson.M{fieldCreatedAt: testNow}, update["$setOnInsert"])
	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	require.Equal(t, testNow, set[fieldUpdatedAt])
	require.Contains(t, set, fieldData)
}

func TestCommitModelsRejectBatchWithInvalidWrite(t *testing.T) {
	store := &Store{}
	models, err := store.commitModels("alice", []documents.Write{
		{Collection: "items", DocID: "one", Data: map[string]any{"title": "ok"}},
		{Collection: "items", DocID: ""},
	}, testNow)
	require.ErrorIs(t, err, documents.ErrInvalidDocumentID)
	require.Nil(t, models)

	models, err = store.commitModels("alice", []documents.Write{
		{Collection: "items", DocID: "one", Data: map[string]any{"title": "ok"}},
		{Collection: "items", DocID: "two", Delete: true},
	}, testNow)
	require.NoError(t, err)
	require.Len(t, models, 2)
}

// newLiveStore connects to the server named by REMINDFUL_TEST_MONGO_URI. The
// server must be a replica set for Commit.
func newLiveStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("REMINDFUL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("REMINDFUL_TEST_MONGO_URI is not set")
	}
	ctx := context.Background()
	store, err := New(ctx, Config{
		URI:      uri,
		Database: fmt.Sprintf("remindful_test_%d", time.Now().UnixNano()),
		Clock:    func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.coll.Database().Drop(context.Background())
		_ = store.Close(context.Background())
	})
	return store
}

func TestLiveSlashedIdentifiersDoNotCollide(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	_, err := store.Set(ctx, "alice/items/bob", documents.Write{Collection: "items", DocID: "x", Data: map[string]any{"title": "first"}})
	require.NoError(t, err)
	_, err = store.Set(ctx, "alice", documents.Write{Collection: "items", DocID: "bob/items/x", Data: map[string]any{"title": "second"}})
	require.NoError(t, err)

	first, found, err := store.Get(ctx, "alice/items/bob", "items", "x")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "first", first.Data["title"])

	second, found, err := store.Get(ctx, "alice", "items", "bob/items/x")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "second", second.Data["title"])
}

func TestLiveCommitAppliesBatch(t *testing.T) {
	store := newLiveStore(t)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, "alice", []documents.Write{
		{Collection: "items", DocID: "one", Data: map[string]any{"title": "one"}},
		{Collection: "items", DocID: "two", Data: map[string]any{"title": "two"}},
	}))
	require.NoError(t, store.Commit(ctx, "alice", []documents.Write{
		{Collection: "items", DocID: "one", Delete: true},
	}))

	listed, err := store.List(ctx, "alice", "items", documents.Query{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "two", listed[0].ID)
}
