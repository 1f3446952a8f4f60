package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/collection"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
)

// ItemDraft holds the user supplied fields of a new item.
type ItemDraft struct {
	Title         string
	Content       *string
	GroupID       *string
	RemindAt      reminders.Timestamp
	NotifyEnabled bool
	NotifyTiming  reminders.NotifyTiming
}

// Items is the user's item collection.
type Items struct {
	deps        dependencies
	controller  *collection.Controller[reminders.Item]
	preferences *Preferences
	groups      groupLookup
}

type groupLookup interface {
	has(id string) bool
}

func newItems(deps dependencies, store *cache.Collection[reminders.Item], preferences *Preferences) (*Items, error) {
	items := &Items{deps: deps, preferences: preferences}
	controller, err := collection.New(controllerConfig[reminders.Item](deps, cache.KindItems, store, items.fetch))
	if err != nil {
		return nil, err
	}
	items.controller = controller
	return items, nil
}

func (i *Items) fetch(ctx context.Context) ([]reminders.Item, error) {
	return i.deps.remote.ListItems(ctx, i.deps.userID)
}

// List returns the items in their stored order.
func (i *Items) List() []reminders.Item {
	return i.controller.Snapshot()
}

// Sorted returns the items ordered by the user's sort preference.
func (i *Items) Sorted() []reminders.Item {
	return reminders.SortItems(i.controller.Snapshot(), i.preferences.Get().ItemSortOption)
}

// ByGroup returns the sorted items of one group.
func (i *Items) ByGroup(groupID string) []reminders.Item {
	sorted := i.Sorted()
	return slices.DeleteFunc(sorted, func(item reminders.Item) bool {
		return !item.InGroup(groupID)
	})
}

// IsHydrated reports whether the collection has been hydrated.
func (i *Items) IsHydrated() bool {
	return i.controller.IsHydrated()
}

// HydratedFromCache reports whether hydration found a cached snapshot.
func (i *Items) HydratedFromCache() bool {
	return i.controller.HydratedFromCache()
}

// Load replaces the items with the remote collection.
func (i *Items) Load(ctx context.Context) error {
	return i.controller.Load(ctx)
}

// Create adds an item. The collection is reloaded once the write lands so the
// server assigned update time is visible.
func (i *Items) Create(ctx context.Context, draft ItemDraft) (reminders.Item, *PendingWrite, error) {
	if err := draft.RemindAt.Validate(); err != nil {
		return reminders.Item{}, nil, err
	}
	if err := i.checkGroup(draft.GroupID); err != nil {
		return reminders.Item{}, nil, err
	}
	id, err := i.deps.ids.NewID()
	if err != nil {
		return reminders.Item{}, nil, err
	}
	item := i.withSchedule(reminders.Item{
		ID:            id,
		Title:         draft.Title,
		Content:       draft.Content,
		GroupID:       draft.GroupID,
		RemindAt:      draft.RemindAt,
		NotifyEnabled: draft.NotifyEnabled,
		NotifyTiming:  reminders.ParseNotifyTiming(string(draft.NotifyTiming)),
	})
	next := append(i.controller.Snapshot(), item)
	pending, err := i.controller.MutateAndRefresh(ctx, "create", next, i.save(item))
	if err != nil {
		return reminders.Item{}, nil, err
	}
	return item, pending, nil
}

// Update replaces an existing item with the provided fields.
func (i *Items) Update(ctx context.Context, item reminders.Item) (*PendingWrite, error) {
	if err := item.RemindAt.Validate(); err != nil {
		return nil, err
	}
	if err := i.checkGroup(item.GroupID); err != nil {
		return nil, err
	}
	current := i.controller.Snapshot()
	index := indexOfItem(current, item.ID)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, item.ID)
	}
	item.NotifyTiming = reminders.ParseNotifyTiming(string(item.NotifyTiming))
	item = i.withSchedule(item)
	current[index] = item
	return i.controller.MutateAndRefresh(ctx, "update", current, i.save(item))
}

// Delete removes one item.
func (i *Items) Delete(ctx context.Context, id string) (*PendingWrite, error) {
	current := i.controller.Snapshot()
	index := indexOfItem(current, id)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	next := slices.Delete(current, index, index+1)
	return i.controller.Mutate(ctx, "delete", next, func(ctx context.Context) error {
		return i.deps.remote.DeleteItem(ctx, i.deps.userID, id)
	})
}

// DeleteMany removes every listed item. Unknown identifiers are ignored
// locally and still sent to the remote store.
func (i *Items) DeleteMany(ctx context.Context, ids []string) (*PendingWrite, error) {
	doomed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		doomed[id] = struct{}{}
	}
	next := slices.DeleteFunc(i.controller.Snapshot(), func(item reminders.Item) bool {
		_, ok := doomed[item.ID]
		return ok
	})
	targets := slices.Clone(ids)
	return i.controller.Mutate(ctx, "delete_many", next, func(ctx context.Context) error {
		return i.deps.remote.DeleteItems(ctx, i.deps.userID, targets)
	})
}

// dropGroup removes a group's items locally. The remote side is deleted by
// the group cascade.
func (i *Items) dropGroup(ctx context.Context, groupID string) error {
	next := slices.DeleteFunc(i.controller.Snapshot(), func(item reminders.Item) bool {
		return item.InGroup(groupID)
	})
	_, err := i.controller.Mutate(ctx, "delete_group_items", next, nil)
	return err
}

// checkGroup rejects a group reference that names no known group. A nil
// reference leaves the item ungrouped.
func (i *Items) checkGroup(groupID *string) error {
	if groupID == nil || i.groups == nil {
		return nil
	}
	if !i.groups.has(*groupID) {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, *groupID)
	}
	return nil
}

func (i *Items) save(item reminders.Item) collection.WriteFunc {
	return func(ctx context.Context) error {
		_, err := i.deps.remote.SaveItem(ctx, i.deps.userID, item)
		return err
	}
}

func (i *Items) withSchedule(item reminders.Item) reminders.Item {
	if !item.NotifyEnabled {
		item.NextNotifyAt = nil
		return item
	}
	next := reminders.NextNotification(item.RemindAt, item.NotifyTiming, i.deps.clock())
	item.NextNotifyAt = &next
	return item
}

func indexOfItem(items []reminders.Item, id string) int {
	return slices.IndexFunc(items, func(item reminders.Item) bool {
		return item.ID == id
	})
}
