// Package documentstest provides helpers for tests that exercise code built
// on documents.Store.
package documentstest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/MarcoPoloResearchLab/remindful/internal/logging"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// NewSQLiteStore opens a document store backed by a temporary database.
func NewSQLiteStore(t testing.TB, clock func() time.Time) *documents.SQLiteStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "documents.db")), &gorm.Config{Logger: logging.NewGormLogger(nil)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&documents.Record{}); err != nil {
		t.Fatalf("failed to migrate documents: %v", err)
	}
	store, err := documents.NewSQLiteStore(documents.SQLiteStoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

// SpyStore counts calls and can inject failures ahead of a wrapped store.
type SpyStore struct {
	Inner documents.Store

	mu        sync.Mutex
	reads     int
	writes    int
	commits   int
	failReads error
	failWrite func(write documents.Write) error
}

// NewSpyStore wraps inner.
func NewSpyStore(inner documents.Store) *SpyStore {
	return &SpyStore{Inner: inner}
}

// FailReads makes every List and Get return err until cleared with nil.
func (s *SpyStore) FailReads(err error) {
	s.mu.Lock()
	s.failReads = err
	s.mu.Unlock()
}

// FailWrites installs a predicate consulted for every write, including each
// write inside a Commit. A non-nil result fails the call.
func (s *SpyStore) FailWrites(predicate func(write documents.Write) error) {
	s.mu.Lock()
	s.failWrite = predicate
	s.mu.Unlock()
}

// Reads returns the number of List and Get calls.
func (s *SpyStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Writes returns the number of Set, Delete and Commit calls.
func (s *SpyStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Commits returns the number of Commit calls.
func (s *SpyStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *SpyStore) beforeRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.failReads
}

func (s *SpyStore) beforeWrite(writes ...documents.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrite == nil {
		return nil
	}
	for _, write := range writes {
		if err := s.failWrite(write); err != nil {
			return err
		}
	}
	return nil
}

func (s *SpyStore) List(ctx context.Context, userID, collection string, query documents.Query) ([]documents.Document, error) {
	if err := s.beforeRead(); err != nil {
		return nil, err
	}
	return s.Inner.List(ctx, userID, collection, query)
}

func (s *SpyStore) Get(ctx context.Context, userID, collection, docID string) (documents.Document, bool, error) {
	if err := s.beforeRead(); err != nil {
		return documents.Document{}, false, err
	}
	return s.Inner.Get(ctx, userID, collection, docID)
}

func (s *SpyStore) Set(ctx context.Context, userID string, write documents.Write) (documents.Document, error) {
	if err := s.beforeWrite(write); err != nil {
		return documents.Document{}, err
	}
	return s.Inner.Set(ctx, userID, write)
}

func (s *SpyStore) Delete(ctx context.Context, userID, collection, docID string) error {
	if err := s.beforeWrite(documents.Write{Collection: collection, DocID: docID, Delete: true}); err != nil {
		return err
	}
	return s.Inner.Delete(ctx, userID, collection, docID)
}

func (s *SpyStore) Commit(ctx context.Context, userID string, writes []documents.Write) error {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	if err := s.beforeWrite(writes...); err != nil {
		return err
	}
	return s.Inner.Commit(ctx, userID, writes)
}

var _ documents.Store = (*SpyStore)(nil)
