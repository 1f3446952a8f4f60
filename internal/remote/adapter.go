// Package remote maps the reminder domain onto the per-user document store.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("remote: document store is required")
	// ErrTooManyPatches indicates a patch batch above the store commit limit.
	ErrTooManyPatches = errors.New("remote: too many patches in one commit")
)

// ItemPatch merges Fields into an existing item document.
type ItemPatch struct {
	ItemID string
	Fields map[string]any
}

// AdapterConfig describes the adapter dependencies.
type AdapterConfig struct {
	Store  documents.Store
	Logger *zap.Logger
}

// Adapter exposes typed reads and writes over a documents.Store.
type Adapter struct {
	store  documents.Store
	logger *zap.Logger
}

// NewAdapter constructs an Adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{store: cfg.Store, logger: logger}, nil
}

// ListGroups returns the user's groups ordered by position. Documents that
// cannot be decoded are skipped.
func (a *Adapter) ListGroups(ctx context.Context, userID string) ([]reminders.Group, error) {
	docs, err := a.store.List(ctx, userID, reminders.CollectionGroups, documents.Query{OrderBy: reminders.FieldPosition})
	if err != nil {
		return nil, fmt.Errorf("remote: list groups: %w", err)
	}
	groups := make([]reminders.Group, 0, len(docs))
	for _, doc := range docs {
		group, err := reminders.GroupFromFields(doc.ID, doc.Data)
		if err != nil {
			a.logger.Warn("skipping undecodable group", zap.String("user_id", userID), zap.String("group_id", doc.ID), zap.Error(err))
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// SaveGroup replaces a group document.
func (a *Adapter) SaveGroup(ctx context.Context, userID string, group reminders.Group) error {
	_, err := a.store.Set(ctx, userID, documents.Write{
		Collection: reminders.CollectionGroups,
		DocID:      group.ID,
		Data:       reminders.GroupFields(group),
	})
	if err != nil {
		return fmt.Errorf("remote: save group %s: %w", group.ID, err)
	}
	return nil
}

// DeleteGroup removes a group together with every item that references it.
// When the cascade fits one commit it is atomic; larger cascades delete items
// first and the group last.
func (a *Adapter) DeleteGroup(ctx context.Context, userID, groupID string) error {
	docs, err := a.store.List(ctx, userID, reminders.CollectionItems, documents.Query{})
	if err != nil {
		return fmt.Errorf("remote: list items of group %s: %w", groupID, err)
	}
	writes := make([]documents.Write, 0, len(docs)+1)
	for _, doc := range docs {
		if owner, _ := doc.Data[reminders.FieldGroupID].(string); owner == groupID {
			writes = append(writes, documents.Write{Collection: reminders.CollectionItems, DocID: doc.ID, Delete: true})
		}
	}
	writes = append(writes, documents.Write{Collection: reminders.CollectionGroups, DocID: groupID, Delete: true})
	if err := a.commitChunked(ctx, userID, writes); err != nil {
		return fmt.Errorf("remote: delete group %s: %w", groupID, err)
	}
	return nil
}

// ListItems returns the user's items ordered by reminder time.
func (a *Adapter) ListItems(ctx context.Context, userID string) ([]reminders.Item, error) {
	docs, err := a.store.List(ctx, userID, reminders.CollectionItems, documents.Query{OrderBy: reminders.FieldRemindAt})
	if err != nil {
		return nil, fmt.Errorf("remote: list items: %w", err)
	}
	items := make([]reminders.Item, 0, len(docs))
	for _, doc := range docs {
		item, err := reminders.ItemFromFields(doc.ID, doc.Data)
		if err != nil {
			a.logger.Warn("skipping undecodable item", zap.String("user_id", userID), zap.String("item_id", doc.ID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// SaveItem replaces an item document and returns it as stored, including the
// server assigned updatedAt.
func (a *Adapter) SaveItem(ctx context.Context, userID string, item reminders.Item) (reminders.Item, error) {
	fields := reminders.ItemFields(item)
	delete(fields, reminders.FieldUpdatedAt)
	doc, err := a.store.Set(ctx, userID, documents.Write{
		Collection:       reminders.CollectionItems,
		DocID:            item.ID,
		Data:             fields,
		ServerTimestamps: []string{reminders.FieldUpdatedAt},
	})
	if err != nil {
		return reminders.Item{}, fmt.Errorf("remote: save item %s: %w", item.ID, err)
	}
	saved, err := reminders.ItemFromFields(doc.ID, doc.Data)
	if err != nil {
		return reminders.Item{}, fmt.Errorf("remote: decode saved item %s: %w", item.ID, err)
	}
	return saved, nil
}

// DeleteItem removes one item.
func (a *Adapter) DeleteItem(ctx context.Context, userID, itemID string) error {
	if err := a.store.Delete(ctx, userID, reminders.CollectionItems, itemID); err != nil {
		return fmt.Errorf("remote: delete item %s: %w", itemID, err)
	}
	return nil
}

// DeleteItems removes many items in store sized batches.
func (a *Adapter) DeleteItems(ctx context.Context, userID string, itemIDs []string) error {
	writes := make([]documents.Write, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		writes = append(writes, documents.Write{Collection: reminders.CollectionItems, DocID: itemID, Delete: true})
	}
	if err := a.commitChunked(ctx, userID, writes); err != nil {
		return fmt.Errorf("remote: delete items: %w", err)
	}
	return nil
}

// GetPreferences reads the profile document. The boolean reports whether a
// profile exists; the sort option is returned exactly as stored.
func (a *Adapter) GetPreferences(ctx context.Context, userID string) (reminders.Preferences, bool, error) {
	doc, found, err := a.store.Get(ctx, userID, reminders.CollectionProfile, reminders.ProfileDocumentID)
	if err != nil {
		return reminders.Preferences{}, false, fmt.Errorf("remote: get preferences: %w", err)
	}
	if !found {
		return reminders.DefaultPreferences(), false, nil
	}
	return reminders.PreferencesFromFields(doc.Data), true, nil
}

// SavePreferences merges preferences into the profile, leaving other profile
// fields such as the push token untouched.
func (a *Adapter) SavePreferences(ctx context.Context, userID string, preferences reminders.Preferences) error {
	_, err := a.store.Set(ctx, userID, documents.Write{
		Collection: reminders.CollectionProfile,
		DocID:      reminders.ProfileDocumentID,
		Data:       reminders.PreferencesFields(preferences),
		Merge:      true,
	})
	if err != nil {
		return fmt.Errorf("remote: save preferences: %w", err)
	}
	return nil
}

// ListLegacyItems returns raw item documents that still carry only the legacy
// date field.
func (a *Adapter) ListLegacyItems(ctx context.Context, userID string) ([]documents.Document, error) {
	docs, err := a.store.List(ctx, userID, reminders.CollectionItems, documents.Query{
		Exists:  []string{reminders.FieldLegacyDate},
		Missing: []string{reminders.FieldRemindAt},
	})
	if err != nil {
		return nil, fmt.Errorf("remote: list legacy items: %w", err)
	}
	return docs, nil
}

// CommitItemPatches merges every patch in a single atomic commit.
func (a *Adapter) CommitItemPatches(ctx context.Context, userID string, patches []ItemPatch) error {
	if len(patches) > documents.MaxBatchWrites {
		return fmt.Errorf("%w: %d", ErrTooManyPatches, len(patches))
	}
	writes := make([]documents.Write, 0, len(patches))
	for _, patch := range patches {
		writes = append(writes, documents.Write{
			Collection: reminders.CollectionItems,
			DocID:      patch.ItemID,
			Data:       patch.Fields,
			Merge:      true,
		})
	}
	if err := a.store.Commit(ctx, userID, writes); err != nil {
		return fmt.Errorf("remote: commit item patches: %w", err)
	}
	return nil
}

func (a *Adapter) commitChunked(ctx context.Context, userID string, writes []documents.Write) error {
	for start := 0; start < len(writes); start += documents.MaxBatchWrites {
		end := start + documents.MaxBatchWrites
		if end > len(writes) {
			end = len(writes)
		}
		if err := a.store.Commit(ctx, userID, writes[start:end]); err != nil {
			return err
		}
	}
	return nil
}
