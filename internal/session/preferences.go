package session

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/collection"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
)

// Preferences is the user's settings record.
type Preferences struct {
	deps       dependencies
	controller *collection.Controller[reminders.Preferences]
}

type valueCache struct {
	value *cache.Value[reminders.Preferences]
}

func (c valueCache) Get(ctx context.Context, userID string) ([]reminders.Preferences, bool) {
	preferences, found := c.value.Get(ctx, userID)
	if !found {
		return nil, false
	}
	return []reminders.Preferences{preferences}, true
}

func (c valueCache) Set(ctx context.Context, userID string, values []reminders.Preferences) error {
	if len(values) == 0 {
		return nil
	}
	return c.value.Set(ctx, userID, values[0])
}

func newPreferences(deps dependencies, value *cache.Value[reminders.Preferences]) (*Preferences, error) {
	preferences := &Preferences{deps: deps}
	controller, err := collection.New(controllerConfig[reminders.Preferences](deps, cache.KindPreferences, valueCache{value: value}, preferences.fetch))
	if err != nil {
		return nil, err
	}
	preferences.controller = controller
	return preferences, nil
}

func (p *Preferences) fetch(ctx context.Context) ([]reminders.Preferences, error) {
	preferences, _, err := p.deps.remote.GetPreferences(ctx, p.deps.userID)
	if err != nil {
		return nil, err
	}
	return []reminders.Preferences{preferences}, nil
}

// Get returns the current preferences with a canonical sort option. It never
// blocks on the remote store.
func (p *Preferences) Get() reminders.Preferences {
	snapshot := p.controller.Snapshot()
	if len(snapshot) == 0 {
		return reminders.DefaultPreferences()
	}
	canonical, _ := reminders.NormalizeSortOption(string(snapshot[0].ItemSortOption))
	return reminders.Preferences{ItemSortOption: canonical}
}

// SetSortOption stores a new item sort order.
func (p *Preferences) SetSortOption(ctx context.Context, raw string) (*PendingWrite, error) {
	option, known := reminders.NormalizeSortOption(raw)
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSortOption, raw)
	}
	next := reminders.Preferences{ItemSortOption: option}
	return p.controller.Mutate(ctx, "set_sort_option", []reminders.Preferences{next}, func(ctx context.Context) error {
		return p.deps.remote.SavePreferences(ctx, p.deps.userID, next)
	})
}

// Load refreshes the preferences from the remote profile.
func (p *Preferences) Load(ctx context.Context) error {
	return p.controller.Load(ctx)
}
