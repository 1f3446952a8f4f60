package database

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestOpenSQLiteAppliesMigrationsOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "remindful.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	var indexCount int64
	if err := database.Raw("SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?", "idx_documents_due_notification").Scan(&indexCount).Error; err != nil {
		testContext.Fatalf("failed to inspect indexes: %v", err)
	}
	if indexCount != 1 {
		testContext.Fatalf("expected due notification index, found %d", indexCount)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationDueNotificationIndex).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second migration pass failed: %v", err)
	}
	var recordCount int64
	if err := database.Model(&migrationRecord{}).Count(&recordCount).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if recordCount != 1 {
		testContext.Fatalf("expected one migration record, found %d", recordCount)
	}

	for _, table := range []string{"documents", "cache_entries", "client_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
}
