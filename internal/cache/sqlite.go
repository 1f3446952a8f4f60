package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is the persisted form of one cached snapshot.
type Entry struct {
	Key        string `gorm:"column:cache_key;primaryKey;size:256"`
	Value      []byte `gorm:"column:value;not null"`
	UpdatedAtS int64  `gorm:"column:updated_at_s;not null"`
}

// TableName binds Entry to cache_entries.
func (Entry) TableName() string {
	return "cache_entries"
}

// SQLiteBackend persists snapshots in the cache_entries table.
type SQLiteBackend struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLiteBackend wraps db. The cache_entries table must already exist.
func NewSQLiteBackend(db *gorm.DB, clock func() time.Time) (*SQLiteBackend, error) {
	if db == nil {
		return nil, errors.New("cache: database is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SQLiteBackend{db: db, clock: clock}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry Entry
	err := b.db.WithContext(ctx).Where("cache_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Value, true, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	entry := Entry{Key: key, Value: value, UpdatedAtS: b.clock().UTC().Unix()}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&entry).Error
}

// DeletePrefix removes keys in the byte range [prefix, upper bound), which
// SQLite's binary text comparison evaluates without character counting.
func (b *SQLiteBackend) DeletePrefix(ctx context.Context, prefix string) error {
	statement := b.db.WithContext(ctx).Where("cache_key >= ?", prefix)
	if upper, ok := prefixUpperBound(prefix); ok {
		statement = statement.Where("cache_key < ?", upper)
	}
	return statement.Delete(&Entry{}).Error
}

// prefixUpperBound returns the smallest string greater than every string
// starting with prefix. ok is false when no such bound exists.
func prefixUpperBound(prefix string) (string, bool) {
	bound := []byte(prefix)
	for index := len(bound) - 1; index >= 0; index-- {
		if bound[index] < 0xff {
			bound[index]++
			return string(bound[:index+1]), true
		}
	}
	return "", false
}

var _ Backend = (*SQLiteBackend)(nil)
