package documents

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testUserID = "user-1"

func newTestStore(t *testing.T, clock func() time.Time) *SQLiteStore {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "documents.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewSQLiteStore(SQLiteStoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func fixedClock(value time.Time) func() time.Time {
	return func() time.Time {
		return value
	}
}

func TestSQLiteStoreListOrdersByNumericField(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	for docID, position := range map[string]float64{"c": 196608, "a": 65536, "b": 98304.5} {
		if _, err := store.Set(ctx, testUserID, Write{
			Collection: "groups",
			DocID:      docID,
			Data:       map[string]any{"name": docID, "position": position},
		}); err != nil {
			t.Fatalf("set %s: %v", docID, err)
		}
	}

	documents, err := store.List(ctx, testUserID, "groups", Query{OrderBy: "position"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(documents) != len(want) {
		t.Fatalf("expected %d documents, got %d", len(want), len(documents))
	}
	for index, id := range want {
		if documents[index].ID != id {
			t.Fatalf("position %d: expected %s, got %s", index, id, documents[index].ID)
		}
	}
}

func TestSQLiteStoreListOrdersByTimestampField(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	stamps := map[string]map[string]any{
		"late":  {"seconds": int64(300), "nanoseconds": int64(0)},
		"early": {"seconds": int64(100), "nanoseconds": int64(5)},
		"mid":   {"seconds": int64(100), "nanoseconds": int64(9)},
	}
	for docID, stamp := range stamps {
		if _, err := store.Set(ctx, testUserID, Write{Collection: "items", DocID: docID, Data: map[string]any{"remindAt": stamp}}); err != nil {
			t.Fatalf("set %s: %v", docID, err)
		}
	}

	documents, err := store.List(ctx, testUserID, "items", Query{OrderBy: "remindAt"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for index, id := range []string{"early", "mid", "late"} {
		if documents[index].ID != id {
			t.Fatalf("position %d: expected %s, got %s", index, id, documents[index].ID)
		}
	}
}

func TestSQLiteStoreListFiltersExistsAndMissing(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	writes := []Write{
		{Collection: "items", DocID: "legacy", Data: map[string]any{"date": map[string]any{"seconds": 1}}},
		{Collection: "items", DocID: "migrated", Data: map[string]any{"date": map[string]any{"seconds": 1}, "remindAt": map[string]any{"seconds": 1}}},
		{Collection: "items", DocID: "current", Data: map[string]any{"remindAt": map[string]any{"seconds": 2}}},
		{Collection: "items", DocID: "null-remind", Data: map[string]any{"date": map[string]any{"seconds": 3}, "remindAt": nil}},
	}
	if err := store.Commit(ctx, testUserID, writes); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	documents, err := store.List(ctx, testUserID, "items", Query{Exists: []string{"date"}, Missing: []string{"remindAt"}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(documents) != 2 || documents[0].ID != "legacy" || documents[1].ID != "null-remind" {
		t.Fatalf("unexpected legacy documents: %+v", documents)
	}
}

func TestSQLiteStoreMergeKeepsUnmentionedFields(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.Set(ctx, testUserID, Write{
		Collection: "profile",
		DocID:      "settings",
		Data:       map[string]any{"itemSortOption": "titleAsc", "pushToken": "token-1"},
	}); err != nil {
		t.Fatalf("initial set failed: %v", err)
	}
	if _, err := store.Set(ctx, testUserID, Write{
		Collection: "profile",
		DocID:      "settings",
		Data:       map[string]any{"itemSortOption": "title-asc"},
		Merge:      true,
	}); err != nil {
		t.Fatalf("merge set failed: %v", err)
	}

	document, found, err := store.Get(ctx, testUserID, "profile", "settings")
	if err != nil || !found {
		t.Fatalf("expected profile document, found=%v err=%v", found, err)
	}
	if document.Data["itemSortOption"] != "title-asc" {
		t.Fatalf("expected sort option to be replaced, got %v", document.Data["itemSortOption"])
	}
	if document.Data["pushToken"] != "token-1" {
		t.Fatalf("expected push token to survive merge, got %v", document.Data["pushToken"])
	}
}

func TestSQLiteStoreFillsServerTimestamps(t *testing.T) {
	writeTime := time.Date(2026, 10, 1, 12, 0, 0, 500, time.UTC)
	store := newTestStore(t, fixedClock(writeTime))

	document, err := store.Set(context.Background(), testUserID, Write{
		Collection:       "items",
		DocID:            "item-1",
		Data:             map[string]any{"title": "x"},
		ServerTimestamps: []string{"updatedAt"},
	})
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	stamp, ok := document.Data["updatedAt"].(map[string]any)
	if !ok {
		t.Fatalf("expected server timestamp object, got %T", document.Data["updatedAt"])
	}
	if stamp["seconds"] != float64(writeTime.Unix()) || stamp["nanoseconds"] != float64(500) {
		t.Fatalf("unexpected server timestamp %v", stamp)
	}
	if !document.UpdateTime.Equal(writeTime) {
		t.Fatalf("expected update time %s, got %s", writeTime, document.UpdateTime)
	}
}

func TestSQLiteStoreIsolatesUsers(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.Set(ctx, "user-a", Write{Collection: "groups", DocID: "g", Data: map[string]any{"position": 1}}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	documents, err := store.List(ctx, "user-b", "groups", Query{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(documents) != 0 {
		t.Fatalf("expected no documents for another user, got %d", len(documents))
	}
}

func TestSQLiteStoreCommitDeletesAndRejectsOversizedBatch(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.Set(ctx, testUserID, Write{Collection: "items", DocID: "gone", Data: map[string]any{"title": "x"}}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Commit(ctx, testUserID, []Write{{Collection: "items", DocID: "gone", Delete: true}}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if _, found, _ := store.Get(ctx, testUserID, "items", "gone"); found {
		t.Fatalf("expected document to be deleted")
	}

	oversized := make([]Write, MaxBatchWrites+1)
	for index := range oversized {
		oversized[index] = Write{Collection: "items", DocID: "x", Data: map[string]any{}}
	}
	err := store.Commit(ctx, testUserID, oversized)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected batch too large error, got %v", err)
	}
	if ErrorCode(err) != "documents.commit.batch_too_large" {
		t.Fatalf("unexpected error code %q", ErrorCode(err))
	}
}

func TestSQLiteStoreRejectsUnsafeFieldNames(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.List(context.Background(), testUserID, "items", Query{OrderBy: "x') OR 1=1 --"})
	if !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected invalid field error, got %v", err)
	}
}

func TestSQLiteStoreListDueSpansUsers(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Unix(1_800_000_000, 0)

	writes := map[string][]Write{
		"user-a": {
			{Collection: "items", DocID: "due", Data: map[string]any{"notifyEnabled": true, "nextNotifyAt": map[string]any{"seconds": now.Unix() - 60}}},
			{Collection: "items", DocID: "future", Data: map[string]any{"notifyEnabled": true, "nextNotifyAt": map[string]any{"seconds": now.Unix() + 60}}},
		},
		"user-b": {
			{Collection: "items", DocID: "due", Data: map[string]any{"notifyEnabled": true, "nextNotifyAt": map[string]any{"seconds": now.Unix()}}},
			{Collection: "items", DocID: "disabled", Data: map[string]any{"notifyEnabled": false, "nextNotifyAt": map[string]any{"seconds": now.Unix() - 60}}},
		},
	}
	for userID, userWrites := range writes {
		if err := store.Commit(ctx, userID, userWrites); err != nil {
			t.Fatalf("commit for %s failed: %v", userID, err)
		}
	}

	due, err := store.ListDue(ctx, "items", now)
	if err != nil {
		t.Fatalf("list due failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due documents, got %d", len(due))
	}
	if due[0].UserID != "user-a" || due[1].UserID != "user-b" {
		t.Fatalf("unexpected due owners %s, %s", due[0].UserID, due[1].UserID)
	}
}
