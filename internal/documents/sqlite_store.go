package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	fieldUserID       = "user_id"
	fieldCollection   = "collection"
	fieldDocID        = "doc_id"
	queryUserColl     = fieldUserID + " = ? AND " + fieldCollection + " = ?"
	queryUserCollDoc  = queryUserColl + " AND " + fieldDocID + " = ?"
	reasonMissingDB   = "missing_database"
	reasonInvalid     = "invalid_request"
	reasonQueryFailed = "query_failed"
	reasonDecode      = "decode_failed"
	reasonEncode      = "encode_failed"
	reasonSaveFailed  = "save_failed"
	reasonDelete      = "delete_failed"
	reasonTooLarge    = "batch_too_large"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// Record is the gorm model for a stored document.
type Record struct {
	UserID         string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Collection     string `gorm:"column:collection;primaryKey;size:64;not null"`
	DocID          string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	PayloadJSON    string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtNanos int64  `gorm:"column:created_at_ns;not null"`
	UpdatedAtNanos int64  `gorm:"column:updated_at_ns;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "documents"
}

// SQLiteStoreConfig describes the dependencies of the SQLite backend.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLiteStore keeps documents as JSON payloads in a single gorm table and
// evaluates queries with SQLite JSON functions.
type SQLiteStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLiteStore constructs the SQLite backend.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError("documents.new", reasonMissingDB, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLiteStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// List returns the documents of a collection matching query.
func (s *SQLiteStore) List(ctx context.Context, userID, collection string, query Query) ([]Document, error) {
	if err := validateScope(userID, collection); err != nil {
		return nil, newServiceError(opList, reasonInvalid, err)
	}
	if err := validateQuery(query); err != nil {
		return nil, newServiceError(opList, reasonInvalid, err)
	}

	statement := s.db.WithContext(ctx).Where(queryUserColl, userID, collection)
	for _, field := range query.Exists {
		statement = statement.Where(fmt.Sprintf("COALESCE(json_type(payload_json, '$.%s'), 'null') <> 'null'", field))
	}
	for _, field := range query.Missing {
		statement = statement.Where(fmt.Sprintf("COALESCE(json_type(payload_json, '$.%s'), 'null') = 'null'", field))
	}
	if query.OrderBy != "" {
		statement = statement.
			Order(fmt.Sprintf("COALESCE(json_extract(payload_json, '$.%[1]s.seconds'), json_extract(payload_json, '$.%[1]s')) ASC", query.OrderBy)).
			Order(fmt.Sprintf("json_extract(payload_json, '$.%s.nanoseconds') ASC", query.OrderBy))
	}
	statement = statement.Order(fieldDocID + " ASC")

	var records []Record
	if err := statement.Find(&records).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.String(fieldUserID, userID), zap.String(fieldCollection, collection))
		return nil, newServiceError(opList, reasonQueryFailed, err)
	}

	documents := make([]Document, 0, len(records))
	for _, record := range records {
		document, err := record.document()
		if err != nil {
			s.logError(opList, reasonDecode, err, zap.String(fieldUserID, userID), zap.String(fieldDocID, record.DocID))
			return nil, newServiceError(opList, reasonDecode, err)
		}
		documents = append(documents, document)
	}
	return documents, nil
}

// Get returns a single document and whether it exists.
func (s *SQLiteStore) Get(ctx context.Context, userID, collection, docID string) (Document, bool, error) {
	if err := validateScope(userID, collection); err != nil {
		return Document{}, false, newServiceError(opGet, reasonInvalid, err)
	}
	if docID == "" {
		return Document{}, false, newServiceError(opGet, reasonInvalid, ErrInvalidDocumentID)
	}

	var record Record
	err := s.db.WithContext(ctx).Where(queryUserCollDoc, userID, collection, docID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, false, nil
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.String(fieldUserID, userID), zap.String(fieldDocID, docID))
		return Document{}, false, newServiceError(opGet, reasonQueryFailed, err)
	}
	document, err := record.document()
	if err != nil {
		return Document{}, false, newServiceError(opGet, reasonDecode, err)
	}
	return document, true, nil
}

// Set applies a single write and returns the stored document.
func (s *SQLiteStore) Set(ctx context.Context, userID string, write Write) (Document, error) {
	if err := validateWriteScope(userID, write); err != nil {
		return Document{}, newServiceError(opSet, reasonInvalid, err)
	}
	if write.Delete {
		if err := s.Delete(ctx, userID, write.Collection, write.DocID); err != nil {
			return Document{}, err
		}
		return Document{ID: write.DocID}, nil
	}

	var stored Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.applyWrite(tx, userID, write, s.clock().UTC())
		stored = record
		return err
	})
	if err != nil {
		s.logError(opSet, reasonSaveFailed, err, zap.String(fieldUserID, userID), zap.String(fieldDocID, write.DocID))
		return Document{}, newServiceError(opSet, reasonSaveFailed, err)
	}
	document, err := stored.document()
	if err != nil {
		return Document{}, newServiceError(opSet, reasonDecode, err)
	}
	return document, nil
}

// Delete removes a document; deleting a missing document succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, userID, collection, docID string) error {
	if err := validateScope(userID, collection); err != nil {
		return newServiceError(opDelete, reasonInvalid, err)
	}
	if docID == "" {
		return newServiceError(opDelete, reasonInvalid, ErrInvalidDocumentID)
	}
	if err := s.db.WithContext(ctx).Where(queryUserCollDoc, userID, collection, docID).Delete(&Record{}).Error; err != nil {
		s.logError(opDelete, reasonDelete, err, zap.String(fieldUserID, userID), zap.String(fieldDocID, docID))
		return newServiceError(opDelete, reasonDelete, err)
	}
	return nil
}

// Commit applies writes atomically.
func (s *SQLiteStore) Commit(ctx context.Context, userID string, writes []Write) error {
	if len(writes) > MaxBatchWrites {
		return newServiceError(opCommit, reasonTooLarge, fmt.Errorf("%w: %d writes", ErrBatchTooLarge, len(writes)))
	}
	for _, write := range writes {
		if err := validateWriteScope(userID, write); err != nil {
			return newServiceError(opCommit, reasonInvalid, err)
		}
	}
	if len(writes) == 0 {
		return nil
	}

	now := s.clock().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, write := range writes {
			if write.Delete {
				if err := tx.Where(queryUserCollDoc, userID, write.Collection, write.DocID).Delete(&Record{}).Error; err != nil {
					return err
				}
				continue
			}
			if _, err := s.applyWrite(tx, userID, write, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logError(opCommit, reasonSaveFailed, err, zap.String(fieldUserID, userID), zap.Int("writes", len(writes)))
		return newServiceError(opCommit, reasonSaveFailed, err)
	}
	return nil
}

// ListDue returns documents across all users whose notification is enabled
// and whose nextNotifyAt is not after before.
func (s *SQLiteStore) ListDue(ctx context.Context, collection string, before time.Time) ([]UserDocument, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, newServiceError(opDue, reasonInvalid, err)
	}

	var records []Record
	err := s.db.WithContext(ctx).
		Where(fieldCollection+" = ?", collection).
		Where("json_extract(payload_json, '$.notifyEnabled') = 1").
		Where("json_extract(payload_json, '$.nextNotifyAt.seconds') <= ?", before.Unix()).
		Order(fieldUserID + " ASC").
		Order("json_extract(payload_json, '$.nextNotifyAt.seconds') ASC").
		Find(&records).Error
	if err != nil {
		s.logError(opDue, reasonQueryFailed, err, zap.String(fieldCollection, collection))
		return nil, newServiceError(opDue, reasonQueryFailed, err)
	}

	due := make([]UserDocument, 0, len(records))
	for _, record := range records {
		document, err := record.document()
		if err != nil {
			s.logError(opDue, reasonDecode, err, zap.String(fieldUserID, record.UserID), zap.String(fieldDocID, record.DocID))
			continue
		}
		due = append(due, UserDocument{UserID: record.UserID, Document: document})
	}
	return due, nil
}

func (s *SQLiteStore) applyWrite(tx *gorm.DB, userID string, write Write, now time.Time) (Record, error) {
	var existing Record
	found := true
	err := tx.Where(queryUserCollDoc, userID, write.Collection, write.DocID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		found = false
	} else if err != nil {
		return Record{}, err
	}

	var existingFields map[string]any
	if found && write.Merge {
		if err := json.Unmarshal([]byte(existing.PayloadJSON), &existingFields); err != nil {
			return Record{}, fmt.Errorf("%s: %w", reasonDecode, err)
		}
	}

	payload, err := json.Marshal(ApplyWrite(existingFields, write, now))
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", reasonEncode, err)
	}

	record := Record{
		UserID:         userID,
		Collection:     write.Collection,
		DocID:          write.DocID,
		PayloadJSON:    string(payload),
		CreatedAtNanos: now.UnixNano(),
		UpdatedAtNanos: now.UnixNano(),
	}
	if found {
		record.CreatedAtNanos = existing.CreatedAtNanos
	}
	if err := tx.Save(&record).Error; err != nil {
		return Record{}, err
	}
	return record, nil
}

func (record Record) document() (Document, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(record.PayloadJSON), &fields); err != nil {
		return Document{}, err
	}
	return Document{
		ID:         record.DocID,
		Data:       fields,
		CreateTime: time.Unix(0, record.CreatedAtNanos).UTC(),
		UpdateTime: time.Unix(0, record.UpdatedAtNanos).UTC(),
	}, nil
}

func validateScope(userID, collection string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	return ValidateCollection(collection)
}

func validateWriteScope(userID string, write Write) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	return ValidateWrite(write)
}

func (s *SQLiteStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("document store error", attrs...)
}

var (
	_ Store     = (*SQLiteStore)(nil)
	_ DueLister = (*SQLiteStore)(nil)
)
