package session

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/collection"
	"github.com/MarcoPoloResearchLab/remindful/internal/ordering"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
)

// Groups is the user's ordered group collection.
type Groups struct {
	deps       dependencies
	controller *collection.Controller[reminders.Group]
	items      *Items
}

func newGroups(deps dependencies, store *cache.Collection[reminders.Group], items *Items) (*Groups, error) {
	groups := &Groups{deps: deps, items: items}
	controller, err := collection.New(controllerConfig[reminders.Group](deps, cache.KindGroups, store, groups.fetch))
	if err != nil {
		return nil, err
	}
	groups.controller = controller
	return groups, nil
}

func (g *Groups) fetch(ctx context.Context) ([]reminders.Group, error) {
	return g.deps.remote.ListGroups(ctx, g.deps.userID)
}

// List returns the groups ordered by position.
func (g *Groups) List() []reminders.Group {
	return sortByPosition(g.controller.Snapshot())
}

// IsHydrated reports whether the collection has been hydrated.
func (g *Groups) IsHydrated() bool {
	return g.controller.IsHydrated()
}

// HydratedFromCache reports whether hydration found a cached snapshot.
func (g *Groups) HydratedFromCache() bool {
	return g.controller.HydratedFromCache()
}

// Load replaces the groups with the remote collection.
func (g *Groups) Load(ctx context.Context) error {
	return g.controller.Load(ctx)
}

// Create appends a new group after every existing one.
func (g *Groups) Create(ctx context.Context, name, color string) (reminders.Group, *PendingWrite, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return reminders.Group{}, nil, ErrInvalidName
	}
	id, err := g.deps.ids.NewID()
	if err != nil {
		return reminders.Group{}, nil, err
	}
	current := g.List()
	group := reminders.Group{
		ID:       id,
		Name:     name,
		Color:    color,
		Position: ordering.AppendPosition(positions(current)),
	}
	pending, err := g.controller.Mutate(ctx, "create", append(current, group), func(ctx context.Context) error {
		return g.deps.remote.SaveGroup(ctx, g.deps.userID, group)
	})
	if err != nil {
		return reminders.Group{}, nil, err
	}
	return group, pending, nil
}

// Update renames or recolors a group without moving it.
func (g *Groups) Update(ctx context.Context, id, name, color string) (*PendingWrite, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	current := g.List()
	index := indexOfGroup(current, id)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	updated := current[index]
	updated.Name = name
	updated.Color = color
	current[index] = updated
	return g.controller.Mutate(ctx, "update", current, func(ctx context.Context) error {
		return g.deps.remote.SaveGroup(ctx, g.deps.userID, updated)
	})
}

// Move places a group at toIndex of the ordered list and assigns it a
// position between its new neighbours. Other groups keep their positions.
func (g *Groups) Move(ctx context.Context, id string, toIndex int) (reminders.Group, *PendingWrite, error) {
	current := g.List()
	from := indexOfGroup(current, id)
	if from < 0 {
		return reminders.Group{}, nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if toIndex < 0 || toIndex >= len(current) {
		return reminders.Group{}, nil, fmt.Errorf("%w: %d", ordering.ErrIndexOutOfRange, toIndex)
	}

	moved := current[from]
	target := slices.Delete(slices.Clone(current), from, from+1)
	target = slices.Insert(target, toIndex, moved)
	position, err := ordering.MovePosition(toIndex, positions(target))
	if err != nil {
		return reminders.Group{}, nil, err
	}
	moved.Position = position
	target[toIndex] = moved

	pending, err := g.controller.Mutate(ctx, "move", target, func(ctx context.Context) error {
		return g.deps.remote.SaveGroup(ctx, g.deps.userID, moved)
	})
	if err != nil {
		return reminders.Group{}, nil, err
	}
	return moved, pending, nil
}

// Delete removes a group and every item in it.
func (g *Groups) Delete(ctx context.Context, id string) (*PendingWrite, error) {
	current := g.List()
	index := indexOfGroup(current, id)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if err := g.items.dropGroup(ctx, id); err != nil {
		return nil, err
	}
	next := slices.Delete(current, index, index+1)
	return g.controller.Mutate(ctx, "delete", next, func(ctx context.Context) error {
		return g.deps.remote.DeleteGroup(ctx, g.deps.userID, id)
	})
}

func (g *Groups) has(id string) bool {
	return indexOfGroup(g.controller.Snapshot(), id) >= 0
}

func sortByPosition(groups []reminders.Group) []reminders.Group {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Position != groups[j].Position {
			return groups[i].Position < groups[j].Position
		}
		return groups[i].ID < groups[j].ID
	})
	return groups
}

func positions(groups []reminders.Group) []float64 {
	values := make([]float64, len(groups))
	for index, group := range groups {
		values[index] = group.Position
	}
	return values
}

func indexOfGroup(groups []reminders.Group, id string) int {
	return slices.IndexFunc(groups, func(group reminders.Group) bool {
		return group.ID == id
	})
}
