package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/logging"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newMemoryStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	store, err := NewStore(StoreConfig{Backend: backend})
	require.NoError(t, err)
	return store, backend
}

func newSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "cache.db")), &gorm.Config{Logger: logging.NewGormLogger(nil)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Entry{}))
	backend, err := NewSQLiteBackend(db, func() time.Time { return time.Unix(1700000000, 0) })
	require.NoError(t, err)
	return backend
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Backend: newSQLiteBackend(t)})
	require.NoError(t, err)
	return store
}

func sampleItems() []reminders.Item {
	next := reminders.TimestampFromUnix(1699990000)
	return []reminders.Item{
		{
			ID:            "item-1",
			Title:         "Dentist",
			GroupID:       reminders.StringPointer("group-1"),
			RemindAt:      reminders.Timestamp{Seconds: 1700000000, Nanoseconds: 123},
			NotifyEnabled: true,
			NextNotifyAt:  &next,
			NotifyTiming:  reminders.NotifyDayBefore,
		},
		{
			ID:           "item-2",
			Title:        "Taxes",
			Content:      reminders.StringPointer("receipts"),
			RemindAt:     reminders.TimestampFromUnix(1710000000),
			NotifyTiming: reminders.NotifyOnDay,
		},
	}
}

func TestItemsRoundTripAcrossBackends(t *testing.T) {
	memoryStore, _ := newMemoryStore(t)
	backends := map[string]*Store{
		"memory": memoryStore,
		"sqlite": newSQLiteStore(t),
	}
	for name, store := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			items := NewItems(store)

			_, found := items.Get(ctx, "user-1")
			require.False(t, found)

			require.NoError(t, items.Set(ctx, "user-1", sampleItems()))
			got, found := items.Get(ctx, "user-1")
			require.True(t, found)
			require.Equal(t, sampleItems(), got)

			require.NoError(t, items.Set(ctx, "user-1", sampleItems()[:1]))
			got, _ = items.Get(ctx, "user-1")
			require.Len(t, got, 1)
		})
	}
}

func TestEmptySnapshotIsDistinctFromMissing(t *testing.T) {
	store, _ := newMemoryStore(t)
	groups := NewGroups(store)
	ctx := context.Background()

	require.NoError(t, groups.Set(ctx, "user-1", nil))
	got, found := groups.Get(ctx, "user-1")
	require.True(t, found)
	require.Empty(t, got)
}

func TestCorruptEntryIsDroppedIndividually(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()
	groups := NewGroups(store)

	require.NoError(t, groups.Set(ctx, "user-1", []reminders.Group{
		{ID: "a", Name: "Home", Position: 65536},
		{ID: "b", Name: "Work", Position: 131072},
		{ID: "c", Name: "Misc", Position: 196608},
	}))

	raw, found, err := backend.Get(ctx, Key("user-1", KindGroups))
	require.NoError(t, err)
	require.True(t, found)

	var decoded envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	decoded.Entries[1] = json.RawMessage(`{"id":"b","name":"Work","position":"not-a-number"}`)
	corrupted, err := json.Marshal(decoded)
	require.NoError(t, err)
	require.NoError(t, backend.Set(ctx, Key("user-1", KindGroups), corrupted))

	got, found := groups.Get(ctx, "user-1")
	require.True(t, found)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "c", got[1].ID)
}

func TestUnreadableSnapshotIsAMiss(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, Key("user-1", KindItems), []byte("{not json")))
	_, found := NewItems(store).Get(ctx, "user-1")
	require.False(t, found)

	require.NoError(t, backend.Set(ctx, Key("user-1", KindItems), []byte(`{"schema_version":9,"kind":"items","entries":[]}`)))
	_, found = NewItems(store).Get(ctx, "user-1")
	require.False(t, found)
}

func TestLegacySnapshotIsUpgradedOnRead(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()

	legacy := `[{"id":"item-1","title":"Dentist","group_id":"g","date":{"seconds":1700000000,"nanoseconds":5}}]`
	require.NoError(t, backend.Set(ctx, Key("user-1", KindItems), []byte(legacy)))

	got, found := NewItems(store).Get(ctx, "user-1")
	require.True(t, found)
	require.Len(t, got, 1)
	require.Equal(t, reminders.Timestamp{Seconds: 1700000000, Nanoseconds: 5}, got[0].RemindAt)

	require.NoError(t, NewItems(store).Set(ctx, "user-1", got))
	raw, _, err := backend.Get(ctx, Key("user-1", KindItems))
	require.NoError(t, err)
	var decoded envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, SchemaVersion, decoded.SchemaVersion)
	require.Equal(t, KindItems, decoded.Kind)
	require.NotContains(t, string(decoded.Entries[0]), `"date"`)
}

func TestPreferencesKeepRawSortOption(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	preferences := NewPreferences(store)

	_, found := preferences.Get(ctx, "user-1")
	require.False(t, found)

	require.NoError(t, preferences.Set(ctx, "user-1", reminders.Preferences{ItemSortOption: "titleAsc"}))
	got, found := preferences.Get(ctx, "user-1")
	require.True(t, found)
	require.Equal(t, reminders.SortOption("titleAsc"), got.ItemSortOption)
}

func TestClearIsScopedToUser(t *testing.T) {
	for name, store := range map[string]*Store{"memory": func() *Store { s, _ := newMemoryStore(t); return s }(), "sqlite": newSQLiteStore(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			groups := NewGroups(store)
			items := NewItems(store)

			require.NoError(t, groups.Set(ctx, "user-1", []reminders.Group{{ID: "a", Position: 1}}))
			require.NoError(t, items.Set(ctx, "user-1", sampleItems()))
			require.NoError(t, groups.Set(ctx, "user-10", []reminders.Group{{ID: "b", Position: 1}}))

			require.NoError(t, store.Clear(ctx, "user-1"))

			_, found := groups.Get(ctx, "user-1")
			require.False(t, found)
			_, found = items.Get(ctx, "user-1")
			require.False(t, found)
			other, found := groups.Get(ctx, "user-10")
			require.True(t, found)
			require.Len(t, other, 1)
		})
	}
}

func TestClearDoesNotReachUsersSharingAPrefix(t *testing.T) {
	for name, store := range map[string]*Store{"memory": func() *Store { s, _ := newMemoryStore(t); return s }(), "sqlite": newSQLiteStore(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			groups := NewGroups(store)

			require.NoError(t, groups.Set(ctx, "team", []reminders.Group{{ID: "a", Position: 1}}))
			require.NoError(t, groups.Set(ctx, "team:alice", []reminders.Group{{ID: "b", Position: 1}}))

			require.NoError(t, store.Clear(ctx, "team"))

			_, found := groups.Get(ctx, "team")
			require.False(t, found)
			other, found := groups.Get(ctx, "team:alice")
			require.True(t, found)
			require.Equal(t, "b", other[0].ID)
		})
	}
}

func TestKeyEscapesUserSegment(t *testing.T) {
	require.Equal(t, "remindful:team%3Aalice:groups", Key("team:alice", KindGroups))
	require.NotEqual(t, Key("a:b", KindGroups), Key("a", Kind("b:groups")))
}

func TestClearRemovesNonASCIIUser(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	groups := NewGroups(store)

	require.NoError(t, groups.Set(ctx, "josé", []reminders.Group{{ID: "a", Position: 1}}))
	require.NoError(t, groups.Set(ctx, "josef", []reminders.Group{{ID: "b", Position: 1}}))
	require.NoError(t, store.Clear(ctx, "josé"))

	_, found := groups.Get(ctx, "josé")
	require.False(t, found)
	_, found = groups.Get(ctx, "josef")
	require.True(t, found)
}

func TestSQLiteDeletePrefixComparesBytes(t *testing.T) {
	ctx := context.Background()
	backend := newSQLiteBackend(t)
	for _, key := range []string{"café:1", "café:2", "cafe:1", "caféx"} {
		require.NoError(t, backend.Set(ctx, key, []byte("{}")))
	}

	require.NoError(t, backend.DeletePrefix(ctx, "café:"))

	for key, want := range map[string]bool{"café:1": false, "café:2": false, "cafe:1": true, "caféx": true} {
		_, found, err := backend.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, want, found, key)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	upper, ok := prefixUpperBound("ab")
	require.True(t, ok)
	require.Equal(t, "ac", upper)

	upper, ok = prefixUpperBound("a\xff")
	require.True(t, ok)
	require.Equal(t, "b", upper)

	_, ok = prefixUpperBound("\xff\xff")
	require.False(t, ok)
}

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `remindful:a\*b\?:`, escapeGlob("remindful:a*b?:"))
}
