package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/remindful/internal/cache"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/MarcoPoloResearchLab/remindful/internal/logging"
	"github.com/MarcoPoloResearchLab/remindful/internal/migration"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The same schema serves the document API server and the local client
// database, which holds the cache snapshots and the migration ledger.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logging.NewGormLogger(logger)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&documents.Record{}, &cache.Entry{}, &migration.Record{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
