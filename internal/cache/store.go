// Package cache is the local, best-effort mirror of a user's collections.
//
// Snapshots are stored per (user, kind) under deterministic keys inside a
// tagged envelope carrying a schema version. The cache is an optimisation:
// read failures are reported as misses, write failures are logged and
// returned but never escalated by callers, and entries that cannot be
// reconstructed are dropped individually.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Kind names a cached entity collection.
type Kind string

const (
	KindGroups      Kind = "groups"
	KindItems       Kind = "items"
	KindPreferences Kind = "preferences"
)

const (
	keyPrefix = "remindful"

	// SchemaVersionLegacy is the untagged JSON array written by older clients.
	SchemaVersionLegacy = 1
	// SchemaVersion is the envelope version written today.
	SchemaVersion = 2
)

var (
	errMissingBackend = errors.New("cache: backend is required")
	// ErrUnsupportedSchema indicates an envelope version this build cannot read.
	ErrUnsupportedSchema = errors.New("cache: unsupported schema version")
	// ErrKindMismatch indicates an envelope stored under the wrong key.
	ErrKindMismatch = errors.New("cache: kind mismatch")
)

// Backend is the byte-level key/value storage underneath the cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// StoreConfig describes the cache dependencies.
type StoreConfig struct {
	Backend Backend
	Logger  *zap.Logger
}

// Store reads and writes versioned snapshots.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: cfg.Backend, logger: logger}, nil
}

// Key returns the storage key for a user's collection of kind.
func Key(userID string, kind Kind) string {
	return userPrefix(userID) + string(kind)
}

// userPrefix escapes the user segment so that no user's prefix is a prefix
// of another user's keys.
func userPrefix(userID string) string {
	return keyPrefix + ":" + url.QueryEscape(userID) + ":"
}

type envelope struct {
	SchemaVersion int               `json:"schema_version"`
	Kind          Kind              `json:"kind"`
	Entries       []json.RawMessage `json:"entries"`
}

// Clear removes every cached snapshot of userID.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("cache: user id is required")
	}
	if err := s.backend.DeletePrefix(ctx, userPrefix(userID)); err != nil {
		s.logger.Warn("cache clear failed", zap.String("user_id", userID), zap.Error(err))
		return err
	}
	return nil
}

// readEntries loads the raw entries of a snapshot. Any failure is logged and
// reported as a miss.
func (s *Store) readEntries(ctx context.Context, userID string, kind Kind) (int, []json.RawMessage, bool) {
	key := Key(userID, kind)
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return 0, nil, false
	}
	if !found {
		return 0, nil, false
	}
	version, entries, err := decodeEnvelope(raw, kind)
	if err != nil {
		s.logger.Warn("cache snapshot unreadable", zap.String("key", key), zap.Error(err))
		return 0, nil, false
	}
	return version, entries, true
}

func (s *Store) writeEntries(ctx context.Context, userID string, kind Kind, entries []json.RawMessage) error {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	payload, err := json.Marshal(envelope{SchemaVersion: SchemaVersion, Kind: kind, Entries: entries})
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, Key(userID, kind), payload)
}

func decodeEnvelope(raw []byte, kind Kind) (int, []json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return 0, nil, err
		}
		return SchemaVersionLegacy, entries, nil
	}

	var decoded envelope
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return 0, nil, err
	}
	switch decoded.SchemaVersion {
	case SchemaVersionLegacy, SchemaVersion:
	default:
		return 0, nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, decoded.SchemaVersion)
	}
	if decoded.Kind != "" && decoded.Kind != kind {
		return 0, nil, fmt.Errorf("%w: stored %s, want %s", ErrKindMismatch, decoded.Kind, kind)
	}
	return decoded.SchemaVersion, decoded.Entries, nil
}

// EntryCodec converts one entity to and from its cached entry.
type EntryCodec[T any] interface {
	Encode(value T) (json.RawMessage, error)
	Decode(schemaVersion int, raw json.RawMessage) (T, error)
}

// Collection is a typed view of one kind in a Store.
type Collection[T any] struct {
	store *Store
	kind  Kind
	codec EntryCodec[T]
}

// NewCollection binds kind to codec on store.
func NewCollection[T any](store *Store, kind Kind, codec EntryCodec[T]) *Collection[T] {
	return &Collection[T]{store: store, kind: kind, codec: codec}
}

// Kind returns the cached kind.
func (c *Collection[T]) Kind() Kind {
	return c.kind
}

// Get returns the cached snapshot and whether one was present. Entries that
// fail to decode are dropped and the remaining ones returned.
func (c *Collection[T]) Get(ctx context.Context, userID string) ([]T, bool) {
	version, entries, found := c.store.readEntries(ctx, userID, c.kind)
	if !found {
		return nil, false
	}
	values := make([]T, 0, len(entries))
	for index, entry := range entries {
		value, err := c.codec.Decode(version, entry)
		if err != nil {
			c.store.logger.Warn("cache entry dropped",
				zap.String("kind", string(c.kind)),
				zap.String("user_id", userID),
				zap.Int("index", index),
				zap.Error(err))
			continue
		}
		values = append(values, value)
	}
	return values, true
}

// Set replaces the cached snapshot. Failures are logged and returned.
func (c *Collection[T]) Set(ctx context.Context, userID string, values []T) error {
	entries := make([]json.RawMessage, 0, len(values))
	for _, value := range values {
		entry, err := c.codec.Encode(value)
		if err != nil {
			c.store.logger.Warn("cache entry encode failed", zap.String("kind", string(c.kind)), zap.Error(err))
			return err
		}
		entries = append(entries, entry)
	}
	if err := c.store.writeEntries(ctx, userID, c.kind, entries); err != nil {
		c.store.logger.Warn("cache write failed",
			zap.String("kind", string(c.kind)),
			zap.String("user_id", userID),
			zap.Error(err))
		return err
	}
	return nil
}

// Value is a typed view of a single-record kind.
type Value[T any] struct {
	collection *Collection[T]
}

// NewValue binds a single-record kind to codec on store.
func NewValue[T any](store *Store, kind Kind, codec EntryCodec[T]) *Value[T] {
	return &Value[T]{collection: NewCollection(store, kind, codec)}
}

// Get returns the cached record, if present and readable.
func (v *Value[T]) Get(ctx context.Context, userID string) (T, bool) {
	var zero T
	values, found := v.collection.Get(ctx, userID)
	if !found || len(values) == 0 {
		return zero, false
	}
	return values[0], true
}

// Set replaces the cached record.
func (v *Value[T]) Set(ctx context.Context, userID string, value T) error {
	return v.collection.Set(ctx, userID, []T{value})
}
