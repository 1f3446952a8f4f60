// Package documents provides the per-user document hierarchy backing groups,
// items and the user profile. Backends share one contract: documents are JSON
// field maps addressed by (user, collection, id), stamped with server write
// times, queried per collection and written individually or in batches.
package documents

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxBatchWrites bounds the number of writes accepted by a single Commit.
const MaxBatchWrites = 500

var (
	// ErrInvalidCollection indicates an empty or unsupported collection name.
	ErrInvalidCollection = errors.New("documents: invalid collection")
	// ErrInvalidDocumentID indicates an empty document identifier.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidUserID indicates an empty user identifier.
	ErrInvalidUserID = errors.New("documents: invalid user id")
	// ErrBatchTooLarge indicates a Commit exceeding MaxBatchWrites.
	ErrBatchTooLarge = errors.New("documents: batch too large")
	// ErrInvalidField indicates a field name that cannot be queried.
	ErrInvalidField = errors.New("documents: invalid field")
)

// Document is a stored record.
type Document struct {
	ID         string
	Data       map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

// UserDocument pairs a document with its owning user for cross-user scans.
type UserDocument struct {
	UserID   string
	Document Document
}

// Query filters and orders a collection listing.
type Query struct {
	// OrderBy names a top-level numeric or timestamp field; timestamps order by seconds.
	OrderBy string
	// Exists lists fields that must be present and non-null.
	Exists []string
	// Missing lists fields that must be absent or null.
	Missing []string
}

// Write is a single document mutation.
type Write struct {
	Collection string
	DocID      string
	Data       map[string]any
	// Merge keeps fields of an existing document that Data does not mention.
	Merge bool
	// Delete removes the document; Data is ignored.
	Delete bool
	// ServerTimestamps lists fields the store fills with its own write time.
	ServerTimestamps []string
}

// Store is the document backend contract.
type Store interface {
	List(ctx context.Context, userID, collection string, query Query) ([]Document, error)
	Get(ctx context.Context, userID, collection, docID string) (Document, bool, error)
	Set(ctx context.Context, userID string, write Write) (Document, error)
	Delete(ctx context.Context, userID, collection, docID string) error
	Commit(ctx context.Context, userID string, writes []Write) error
}

// DueLister scans a collection across every user for documents whose
// notification is enabled and due before the provided time.
type DueLister interface {
	ListDue(ctx context.Context, collection string, before time.Time) ([]UserDocument, error)
}

// ServiceError carries a stable "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ErrorCode extracts a ServiceError code from err, or returns "".
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

const (
	opList   = "documents.list"
	opGet    = "documents.get"
	opSet    = "documents.set"
	opDelete = "documents.delete"
	opCommit = "documents.commit"
	opDue    = "documents.list_due"
)

// ValidateWrite checks the addressing fields of a write.
func ValidateWrite(write Write) error {
	if err := ValidateCollection(write.Collection); err != nil {
		return err
	}
	if write.DocID == "" {
		return ErrInvalidDocumentID
	}
	for _, field := range write.ServerTimestamps {
		if err := ValidateField(field); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCollection accepts lowercase collection names.
func ValidateCollection(collection string) error {
	if collection == "" || len(collection) > 64 {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	for _, r := range collection {
		if !(r >= 'a' && r <= 'z' || r == '_') {
			return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
		}
	}
	return nil
}

// ValidateField accepts identifier-like top-level field names, which keeps
// them safe to embed in JSON paths.
func ValidateField(field string) error {
	if field == "" || len(field) > 64 {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}
	for index, r := range field {
		letter := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_'
		digit := r >= '0' && r <= '9'
		if !letter && !(digit && index > 0) {
			return fmt.Errorf("%w: %q", ErrInvalidField, field)
		}
	}
	return nil
}

func validateQuery(query Query) error {
	if query.OrderBy != "" {
		if err := ValidateField(query.OrderBy); err != nil {
			return err
		}
	}
	for _, field := range append(append([]string{}, query.Exists...), query.Missing...) {
		if err := ValidateField(field); err != nil {
			return err
		}
	}
	return nil
}

// ApplyWrite computes the stored fields for write given the existing fields.
func ApplyWrite(existing map[string]any, write Write, now time.Time) map[string]any {
	merged := make(map[string]any, len(write.Data)+len(existing))
	if write.Merge {
		for key, value := range existing {
			merged[key] = value
		}
	}
	for key, value := range write.Data {
		merged[key] = value
	}
	stamp := map[string]any{
		"seconds":     now.Unix(),
		"nanoseconds": int64(now.Nanosecond()),
	}
	for _, field := range write.ServerTimestamps {
		merged[field] = stamp
	}
	return merged
}
