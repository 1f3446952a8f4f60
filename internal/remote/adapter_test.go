package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents/documentstest"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	"github.com/stretchr/testify/require"
)

const testUserID = "user-1"

func newTestAdapter(t *testing.T) (*Adapter, *documentstest.SpyStore) {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)
	spy := documentstest.NewSpyStore(documentstest.NewSQLiteStore(t, func() time.Time { return now }))
	adapter, err := NewAdapter(AdapterConfig{Store: spy})
	require.NoError(t, err)
	return adapter, spy
}

func TestListGroupsOrdersByPosition(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.SaveGroup(ctx, testUserID, reminders.Group{ID: "b", Name: "Work", Position: 131072}))
	require.NoError(t, adapter.SaveGroup(ctx, testUserID, reminders.Group{ID: "a", Name: "Home", Position: 65536}))
	require.NoError(t, adapter.SaveGroup(ctx, testUserID, reminders.Group{ID: "c", Name: "Misc", Position: 32768}))

	groups, err := adapter.ListGroups(ctx, testUserID)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, []string{groups[0].ID, groups[1].ID, groups[2].ID})
}

func TestSaveItemStampsUpdatedAt(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	stale := reminders.TimestampFromUnix(1)
	saved, err := adapter.SaveItem(ctx, testUserID, reminders.Item{
		ID:        "item-1",
		Title:     "Dentist",
		RemindAt:  reminders.TimestampFromUnix(1800000000),
		UpdatedAt: &stale,
	})
	require.NoError(t, err)
	require.NotNil(t, saved.UpdatedAt)
	require.Equal(t, reminders.Timestamp{Seconds: 1767323045, Nanoseconds: 600}, *saved.UpdatedAt)
}

func TestListItemsReadsLegacyDate(t *testing.T) {
	adapter, spy := newTestAdapter(t)
	ctx := context.Background()

	_, err := spy.Inner.Set(ctx, testUserID, documents.Write{
		Collection: reminders.CollectionItems,
		DocID:      "legacy",
		Data: map[string]any{
			reminders.FieldTitle:      "Old",
			reminders.FieldLegacyDate: map[string]any{"seconds": 1600000000, "nanoseconds": 0},
		},
	})
	require.NoError(t, err)
	_, err = adapter.SaveItem(ctx, testUserID, reminders.Item{ID: "current", Title: "New", RemindAt: reminders.TimestampFromUnix(1700000000)})
	require.NoError(t, err)

	items, err := adapter.ListItems(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	legacy, err := adapter.ListLegacyItems(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	require.Equal(t, "legacy", legacy[0].ID)
}

func TestDeleteGroupCascadesItemsInOneCommit(t *testing.T) {
	adapter, spy := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.SaveGroup(ctx, testUserID, reminders.Group{ID: "g1", Position: 65536}))
	require.NoError(t, adapter.SaveGroup(ctx, testUserID, reminders.Group{ID: "g2", Position: 131072}))
	for index, groupID := range []string{"g1", "g1", "g2"} {
		_, err := adapter.SaveItem(ctx, testUserID, reminders.Item{
			ID:       fmt.Sprintf("item-%d", index),
			GroupID:  reminders.StringPointer(groupID),
			RemindAt: reminders.TimestampFromUnix(int64(1700000000 + index)),
		})
		require.NoError(t, err)
	}
	_, err := adapter.SaveItem(ctx, testUserID, reminders.Item{ID: "loose", RemindAt: reminders.TimestampFromUnix(1)})
	require.NoError(t, err)

	commitsBefore := spy.Commits()
	require.NoError(t, adapter.DeleteGroup(ctx, testUserID, "g1"))
	require.Equal(t, commitsBefore+1, spy.Commits())

	groups, err := adapter.ListGroups(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "g2", groups[0].ID)

	items, err := adapter.ListItems(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		require.False(t, item.InGroup("g1"))
	}
}

func TestDeleteItemsChunksLargeBatches(t *testing.T) {
	adapter, spy := newTestAdapter(t)
	ctx := context.Background()

	ids := make([]string, documents.MaxBatchWrites+3)
	for index := range ids {
		ids[index] = fmt.Sprintf("item-%04d", index)
	}
	require.NoError(t, adapter.DeleteItems(ctx, testUserID, ids))
	require.Equal(t, 2, spy.Commits())
}

func TestSavePreferencesPreservesProfileFields(t *testing.T) {
	adapter, spy := newTestAdapter(t)
	ctx := context.Background()

	_, found, err := adapter.GetPreferences(ctx, testUserID)
	require.NoError(t, err)
	require.False(t, found)

	_, err = spy.Inner.Set(ctx, testUserID, documents.Write{
		Collection: reminders.CollectionProfile,
		DocID:      reminders.ProfileDocumentID,
		Data: map[string]any{
			reminders.FieldPushToken:      "ExponentPushToken[abc]",
			reminders.FieldItemSortOption: "titleAsc",
		},
	})
	require.NoError(t, err)

	preferences, found, err := adapter.GetPreferences(ctx, testUserID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, reminders.SortOption("titleAsc"), preferences.ItemSortOption)

	require.NoError(t, adapter.SavePreferences(ctx, testUserID, reminders.Preferences{ItemSortOption: reminders.SortTitleAsc}))
	doc, _, err := spy.Inner.Get(ctx, testUserID, reminders.CollectionProfile, reminders.ProfileDocumentID)
	require.NoError(t, err)
	require.Equal(t, "ExponentPushToken[abc]", doc.Data[reminders.FieldPushToken])
	require.Equal(t, "title-asc", doc.Data[reminders.FieldItemSortOption])
}

func TestCommitItemPatchesRejectsOversizedBatch(t *testing.T) {
	adapter, spy := newTestAdapter(t)
	patches := make([]ItemPatch, documents.MaxBatchWrites+1)
	err := adapter.CommitItemPatches(context.Background(), testUserID, patches)
	require.True(t, errors.Is(err, ErrTooManyPatches))
	require.Zero(t, spy.Commits())
}

func TestReadErrorsPropagate(t *testing.T) {
	adapter, spy := newTestAdapter(t)
	failure := errors.New("offline")
	spy.FailReads(failure)

	_, err := adapter.ListItems(context.Background(), testUserID)
	require.ErrorIs(t, err, failure)
}
