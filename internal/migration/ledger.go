package migration

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record marks a client migration as applied for one user.
type Record struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

// TableName binds Record to client_migrations.
func (Record) TableName() string {
	return "client_migrations"
}

// Flags is the durable per-user idempotency flag store.
type Flags interface {
	IsDone(ctx context.Context, userID, name string) (bool, error)
	MarkDone(ctx context.Context, userID, name string) error
}

// Ledger stores flags in the client_migrations table.
type Ledger struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewLedger wraps db. The client_migrations table must already exist.
func NewLedger(db *gorm.DB, clock func() time.Time) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("migration: database is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{db: db, clock: clock}, nil
}

// IsDone reports whether name has been applied for userID.
func (l *Ledger) IsDone(ctx context.Context, userID, name string) (bool, error) {
	var record Record
	err := l.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).Take(&record).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// MarkDone records name as applied for userID. Marking twice is a no-op.
func (l *Ledger) MarkDone(ctx context.Context, userID, name string) error {
	record := Record{UserID: userID, Name: name, AppliedAtSeconds: l.clock().UTC().Unix()}
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

var _ Flags = (*Ledger)(nil)
