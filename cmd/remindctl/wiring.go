package main

import (
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/MarcoPoloResearchLab/remindful/internal/migration"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	"github.com/MarcoPoloResearchLab/remindful/internal/remote"
	"github.com/MarcoPoloResearchLab/remindful/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sessionDeps struct {
	userID  string
	store   documents.Store
	backend cache.Backend
	ledger  *gorm.DB
	ids     reminders.IDProvider
	clock   func() time.Time
	logger  *zap.Logger
}

func buildSession(deps sessionDeps) (*session.Session, error) {
	adapter, err := remote.NewAdapter(remote.AdapterConfig{Store: deps.store, Logger: deps.logger})
	if err != nil {
		return nil, err
	}
	cacheStore, err := cache.NewStore(cache.StoreConfig{Backend: deps.backend, Logger: deps.logger})
	if err != nil {
		return nil, err
	}
	ledger, err := migration.NewLedger(deps.ledger, deps.clock)
	if err != nil {
		return nil, err
	}
	runner, err := migration.NewRunner(migration.Config{
		Remote:      adapter,
		Items:       cache.NewItems(cacheStore),
		Preferences: cache.NewPreferences(cacheStore),
		Flags:       ledger,
		Logger:      deps.logger,
	})
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		UserID:    deps.userID,
		Remote:    adapter,
		Cache:     cacheStore,
		Migration: runner,
		IDs:       deps.ids,
		Clock:     deps.clock,
		Logger:    deps.logger,
	})
}
