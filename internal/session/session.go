// Package session wires the per-user data layer: one Session is built at
// login, owns the group, item and preference collections, and is closed at
// logout.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/collection"
	"github.com/MarcoPoloResearchLab/remindful/internal/migration"
	"github.com/MarcoPoloResearchLab/remindful/internal/notices"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	"github.com/MarcoPoloResearchLab/remindful/internal/remote"
	"go.uber.org/zap"
)

var (
	// ErrGroupNotFound indicates an unknown group identifier.
	ErrGroupNotFound = errors.New("session: group not found")
	// ErrItemNotFound indicates an unknown item identifier.
	ErrItemNotFound = errors.New("session: item not found")
	// ErrUnknownSortOption indicates a sort option with no canonical mapping.
	ErrUnknownSortOption = errors.New("session: unknown sort option")
	// ErrInvalidName indicates an empty group name.
	ErrInvalidName = errors.New("session: group name is required")

	errMissingRemote = errors.New("session: remote adapter is required")
	errMissingCache  = errors.New("session: cache store is required")
)

// Config describes a Session.
type Config struct {
	UserID    string
	Remote    *remote.Adapter
	Cache     *cache.Store
	Migration *migration.Runner
	Notices   *notices.Dispatcher
	IDs       reminders.IDProvider
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Session is the data layer of one signed-in user.
type Session struct {
	userID      string
	groups      *Groups
	items       *Items
	preferences *Preferences
	migration   *migration.Runner
	notices     *notices.Dispatcher
	logger      *zap.Logger

	mu           sync.Mutex
	migrationErr error
}

// New builds a Session. Nothing is read until Open.
func New(cfg Config) (*Session, error) {
	userID, err := reminders.NewUserID(cfg.UserID)
	if err != nil {
		return nil, err
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("user_id", userID.String()))
	dispatcher := cfg.Notices
	if dispatcher == nil {
		dispatcher = notices.NewDispatcher()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = reminders.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	deps := dependencies{
		userID:  userID.String(),
		remote:  cfg.Remote,
		notices: dispatcher,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}

	preferences, err := newPreferences(deps, cache.NewPreferences(cfg.Cache))
	if err != nil {
		return nil, err
	}
	items, err := newItems(deps, cache.NewItems(cfg.Cache), preferences)
	if err != nil {
		return nil, err
	}
	groups, err := newGroups(deps, cache.NewGroups(cfg.Cache), items)
	if err != nil {
		return nil, err
	}
	items.groups = groups

	return &Session{
		userID:      userID.String(),
		groups:      groups,
		items:       items,
		preferences: preferences,
		migration:   cfg.Migration,
		notices:     dispatcher,
		logger:      logger,
	}, nil
}

type dependencies struct {
	userID  string
	remote  *remote.Adapter
	notices notices.Publisher
	ids     reminders.IDProvider
	clock   func() time.Time
	logger  *zap.Logger
}

func controllerConfig[T any](deps dependencies, kind cache.Kind, store collection.Cache[T], load collection.Loader[T]) collection.Config[T] {
	return collection.Config[T]{
		UserID:  deps.userID,
		Kind:    string(kind),
		Cache:   store,
		Load:    load,
		Notices: deps.notices,
		Logger:  deps.logger,
		Clock:   deps.clock,
	}
}

// UserID returns the session owner.
func (s *Session) UserID() string {
	return s.userID
}

// Groups returns the group collection.
func (s *Session) Groups() *Groups {
	return s.groups
}

// Items returns the item collection.
func (s *Session) Items() *Items {
	return s.items
}

// Preferences returns the user preferences.
func (s *Session) Preferences() *Preferences {
	return s.preferences
}

// Open runs the migration and hydrates every collection from the cache. A
// migration failure is logged and does not keep the session closed; it is
// available from MigrationErr.
func (s *Session) Open(ctx context.Context) {
	if s.migration != nil {
		if err := s.migration.Run(ctx, s.userID); err != nil {
			s.logger.Warn("migration failed, continuing with fallback reads", zap.Error(err))
			s.mu.Lock()
			s.migrationErr = err
			s.mu.Unlock()
		}
	}
	s.preferences.controller.Hydrate(ctx)
	s.groups.controller.Hydrate(ctx)
	s.items.controller.Hydrate(ctx)
}

// MigrationErr returns the error of the last migration attempt, if any.
func (s *Session) MigrationErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrationErr
}

// Refresh reloads every collection from the remote store. Each collection is
// attempted; failures leave that collection as it was.
func (s *Session) Refresh(ctx context.Context) error {
	return errors.Join(
		s.preferences.Load(ctx),
		s.groups.Load(ctx),
		s.items.Load(ctx),
	)
}

// Notices subscribes to background write failures of this session.
func (s *Session) Notices(ctx context.Context) (<-chan notices.Notice, func()) {
	return s.notices.Subscribe(ctx, s.userID)
}

// Close stops applying late results and waits for in-flight writes until ctx
// ends. Writes still running when ctx ends keep running.
func (s *Session) Close(ctx context.Context) error {
	controllers := []interface {
		Close()
		Flush(context.Context) error
	}{s.preferences.controller, s.groups.controller, s.items.controller}
	for _, controller := range controllers {
		controller.Close()
	}
	var flushErr error
	for _, controller := range controllers {
		if err := controller.Flush(ctx); err != nil {
			flushErr = err
		}
	}
	return flushErr
}

// PendingWrite is the background remote write started by a mutation.
type PendingWrite = collection.PendingWrite
