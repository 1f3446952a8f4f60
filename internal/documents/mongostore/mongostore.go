// Package mongostore implements the document contract on MongoDB. All users
// share one collection; each record is identified by its (user_id,
// collection, doc_id) triple under a unique index and keeps its fields in an
// embedded "data" document. Commit runs inside a multi-document transaction,
// so the server must be a replica set member or a mongos.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const (
	defaultDatabase   = "remindful"
	defaultCollection = "documents"
	fieldUserID       = "user_id"
	fieldCollection   = "collection"
	fieldDocID        = "doc_id"
	fieldData         = "data"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
)

var errMissingURI = errors.New("mongostore: uri is required")

// Config describes how to reach MongoDB.
type Config struct {
	URI        string
	Database   string
	Collection string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store is the MongoDB document backend.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	clock  func() time.Time
	logger *zap.Logger
}

type record struct {
	UserID     string         `bson:"user_id"`
	Collection string         `bson:"collection"`
	DocID      string         `bson:"doc_id"`
	Data       map[string]any `bson:"data"`
	CreatedAt  time.Time      `bson:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errMissingURI
	}
	databaseName := cfg.Database
	if databaseName == "" {
		databaseName = defaultDatabase
	}
	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = defaultCollection
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	coll := client.Database(databaseName).Collection(collectionName)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: fieldUserID, Value: 1}, {Key: fieldCollection, Value: 1}, {Key: fieldDocID, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: fieldCollection, Value: 1}, {Key: "data.notifyEnabled", Value: 1}, {Key: "data.nextNotifyAt.seconds", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: create indexes: %w", err)
	}

	logger.Info("mongo document store connected",
		zap.String("database", databaseName),
		zap.String("collection", collectionName))
	return &Store{client: client, coll: coll, clock: clock, logger: logger}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// List returns the documents of a collection matching query.
func (s *Store) List(ctx context.Context, userID, collection string, query documents.Query) ([]documents.Document, error) {
	if err := validateScope(userID, collection); err != nil {
		return nil, err
	}
	filter := bson.M{fieldUserID: userID, fieldCollection: collection}
	for _, field := range query.Exists {
		if err := documents.ValidateField(field); err != nil {
			return nil, err
		}
		filter[dataPath(field)] = bson.M{"$ne": nil}
	}
	for _, field := range query.Missing {
		if err := documents.ValidateField(field); err != nil {
			return nil, err
		}
		filter[dataPath(field)] = nil
	}

	sort := bson.D{}
	if query.OrderBy != "" {
		if err := documents.ValidateField(query.OrderBy); err != nil {
			return nil, err
		}
		sort = append(sort,
			bson.E{Key: dataPath(query.OrderBy) + ".seconds", Value: 1},
			bson.E{Key: dataPath(query.OrderBy) + ".nanoseconds", Value: 1},
			bson.E{Key: dataPath(query.OrderBy), Value: 1},
		)
	}
	sort = append(sort, bson.E{Key: fieldDocID, Value: 1})

	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		s.logger.Error("mongo list failed", zap.String(fieldUserID, userID), zap.String(fieldCollection, collection), zap.Error(err))
		return nil, fmt.Errorf("mongostore: list: %w", err)
	}
	var records []record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("mongostore: decode: %w", err)
	}

	result := make([]documents.Document, 0, len(records))
	for _, stored := range records {
		result = append(result, stored.document())
	}
	return result, nil
}

// Get returns a single document and whether it exists.
func (s *Store) Get(ctx context.Context, userID, collection, docID string) (documents.Document, bool, error) {
	if err := validateScope(userID, collection); err != nil {
		return documents.Document{}, false, err
	}
	var stored record
	err := s.coll.FindOne(ctx, recordFilter(userID, collection, docID)).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return documents.Document{}, false, nil
	}
	if err != nil {
		return documents.Document{}, false, fmt.Errorf("mongostore: get: %w", err)
	}
	return stored.document(), true, nil
}

// Set applies a single write and returns the stored document.
func (s *Store) Set(ctx context.Context, userID string, write documents.Write) (documents.Document, error) {
	if userID == "" {
		return documents.Document{}, documents.ErrInvalidUserID
	}
	if err := documents.ValidateWrite(write); err != nil {
		return documents.Document{}, err
	}
	if write.Delete {
		return documents.Document{ID: write.DocID}, s.Delete(ctx, userID, write.Collection, write.DocID)
	}

	filter, update := s.upsert(userID, write, s.clock().UTC())
	if _, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		s.logger.Error("mongo set failed", zap.String(fieldUserID, userID), zap.String(fieldDocID, write.DocID), zap.Error(err))
		return documents.Document{}, fmt.Errorf("mongostore: set: %w", err)
	}
	document, _, err := s.Get(ctx, userID, write.Collection, write.DocID)
	return document, err
}

// Delete removes a document; deleting a missing document succeeds.
func (s *Store) Delete(ctx context.Context, userID, collection, docID string) error {
	if err := validateScope(userID, collection); err != nil {
		return err
	}
	if _, err := s.coll.DeleteOne(ctx, recordFilter(userID, collection, docID)); err != nil {
		return fmt.Errorf("mongostore: delete: %w", err)
	}
	return nil
}

// Commit applies writes as one ordered bulk operation inside a transaction;
// either every write lands or none does.
func (s *Store) Commit(ctx context.Context, userID string, writes []documents.Write) error {
	if len(writes) > documents.MaxBatchWrites {
		return fmt.Errorf("%w: %d writes", documents.ErrBatchTooLarge, len(writes))
	}
	if userID == "" {
		return documents.ErrInvalidUserID
	}
	if len(writes) == 0 {
		return nil
	}
	models, err := s.commitModels(userID, writes, s.clock().UTC())
	if err != nil {
		return err
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongostore: start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return s.coll.BulkWrite(txCtx, models, options.BulkWrite().SetOrdered(true))
	})
	if err != nil {
		s.logger.Error("mongo commit failed", zap.String(fieldUserID, userID), zap.Int("writes", len(writes)), zap.Error(err))
		return fmt.Errorf("mongostore: commit: %w", err)
	}
	return nil
}

// commitModels validates every write before building any model so a bad
// batch never reaches the server.
func (s *Store) commitModels(userID string, writes []documents.Write, now time.Time) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(writes))
	for _, write := range writes {
		if err := documents.ValidateWrite(write); err != nil {
			return nil, err
		}
		if write.Delete {
			models = append(models, mongo.NewDeleteOneModel().SetFilter(recordFilter(userID, write.Collection, write.DocID)))
			continue
		}
		filter, update := s.upsert(userID, write, now)
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	return models, nil
}

// ListDue returns documents across all users whose notification is due.
func (s *Store) ListDue(ctx context.Context, collection string, before time.Time) ([]documents.UserDocument, error) {
	if err := documents.ValidateCollection(collection); err != nil {
		return nil, err
	}
	filter := bson.M{
		fieldCollection:             collection,
		"data.notifyEnabled":        true,
		"data.nextNotifyAt.seconds": bson.M{"$lte": before.Unix()},
	}
	sort := bson.D{{Key: fieldUserID, Value: 1}, {Key: "data.nextNotifyAt.seconds", Value: 1}}
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("mongostore: list due: %w", err)
	}
	var records []record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("mongostore: decode: %w", err)
	}
	due := make([]documents.UserDocument, 0, len(records))
	for _, stored := range records {
		due = append(due, documents.UserDocument{UserID: stored.UserID, Document: stored.document()})
	}
	return due, nil
}

func (s *Store) upsert(userID string, write documents.Write, now time.Time) (bson.M, bson.M) {
	filter := recordFilter(userID, write.Collection, write.DocID)
	set := bson.M{fieldUpdatedAt: now}
	if write.Merge {
		for key, value := range documents.ApplyWrite(nil, write, now) {
			set[dataPath(key)] = value
		}
	} else {
		set[fieldData] = documents.ApplyWrite(nil, write, now)
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			fieldCreatedAt: now,
		},
	}
	return filter, update
}

func (stored record) document() documents.Document {
	data, _ := normalize(stored.Data).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return documents.Document{
		ID:         stored.DocID,
		Data:       data,
		CreateTime: stored.CreatedAt.UTC(),
		UpdateTime: stored.UpdatedAt.UTC(),
	}
}

// normalize converts driver container types into plain maps and slices so
// documents look the same regardless of backend.
func normalize(value any) any {
	switch typed := value.(type) {
	case bson.D:
		out := make(map[string]any, len(typed))
		for _, element := range typed {
			out[element.Key] = normalize(element.Value)
		}
		return out
	case bson.M:
		return normalize(map[string]any(typed))
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, element := range typed {
			out[key] = normalize(element)
		}
		return out
	case bson.A:
		return normalize([]any(typed))
	case []any:
		out := make([]any, len(typed))
		for index, element := range typed {
			out[index] = normalize(element)
		}
		return out
	default:
		return value
	}
}

// recordFilter matches a record by its identifying fields. An upsert copies
// the equality fields into the inserted record.
func recordFilter(userID, collection, docID string) bson.M {
	return bson.M{fieldUserID: userID, fieldCollection: collection, fieldDocID: docID}
}

func dataPath(field string) string {
	return fieldData + "." + field
}

func validateScope(userID, collection string) error {
	if userID == "" {
		return documents.ErrInvalidUserID
	}
	return documents.ValidateCollection(collection)
}

var (
	_ documents.Store     = (*Store)(nil)
	_ documents.DueLister = (*Store)(nil)
)
