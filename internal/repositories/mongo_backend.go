package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
)

const mongoIDField = "_id"

// MongoClient owns the connection shared by every MongoBackend.
type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// ConnectMongo connects to uri and pings the primary, retrying a few times
// while the server comes up.
func ConnectMongo(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if attempt > 0 {
			delay := defaultRetryDelay * time.Duration(attempt)
			logger.Info("retrying mongo ping",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				_ = client.Disconnect(context.Background())
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if lastErr = client.Ping(ctx, readpref.Primary()); lastErr == nil {
			logger.Info("connected to mongo", zap.String("database", database))
			return &MongoClient{
				client: client,
				db:     client.Database(database),
				logger: logger,
			}, nil
		}
		logger.Warn("mongo ping failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}

	_ = client.Disconnect(context.Background())
	return nil, fmt.Errorf("mongo unreachable after %d attempts: %w", defaultMaxRetries, lastErr)
}

// Database returns the configured database handle.
func (c *MongoClient) Database() *mongo.Database {
	return c.db
}

// CheckConnection pings the primary.
func (c *MongoClient) CheckConnection(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	return nil
}

// Close disconnects from the server.
func (c *MongoClient) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// MongoBackend maps the Backend contract onto one MongoDB collection. The
// record type addresses its identifier with a `bson:"_id,omitempty"` tag.
type MongoBackend[T any] struct {
	client *MongoClient
	coll   *mongo.Collection
	opts   options
}

// NewMongoBackend creates the backend of one collection.
func NewMongoBackend[T any](client *MongoClient, collection string, opts ...Option) *MongoBackend[T] {
	return &MongoBackend[T]{
		client: client,
		coll:   client.db.Collection(collection),
		opts:   buildOptions(opts),
	}
}

// idFilter matches an identifier stored either as an ObjectID or as a
// plain string.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{mongoIDField: bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{mongoIDField: id}
}

func toBSON[T any](record T) (bson.M, error) {
	raw, err := bson.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}

func (b *MongoBackend[T]) notFound(id string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s/%s: %w", b.coll.Name(), id, domain.ErrNotFound)
	}
	return fmt.Errorf("%s/%s: %w", b.coll.Name(), id, err)
}

// FindOne implements domain.Backend
func (b *MongoBackend[T]) FindOne(ctx context.Context, id string) (T, error) {
	var record T
	if err := b.coll.FindOne(ctx, idFilter(id)).Decode(&record); err != nil {
		return record, b.notFound(id, err)
	}
	return record, nil
}

// FindAll implements domain.Backend
func (b *MongoBackend[T]) FindAll(ctx context.Context) ([]T, error) {
	cursor, err := b.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", b.coll.Name(), err)
	}

	records := []T{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("read %s: %w", b.coll.Name(), err)
	}
	return records, nil
}

// Save implements domain.Backend. The server assigns an ObjectID when the
// record has no identifier.
func (b *MongoBackend[T]) Save(ctx context.Context, record T) (T, error) {
	var saved T
	doc, err := toBSON(record)
	if err != nil {
		return saved, err
	}
	if id, ok := doc[mongoIDField]; ok && id == "" {
		delete(doc, mongoIDField)
	}
	if b.opts.timestamps {
		now := b.opts.now()
		doc[createdAtField] = now
		doc[updatedAtField] = now
	}

	res, err := b.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return saved, fmt.Errorf("%s: %w", b.coll.Name(), domain.ErrConflict)
		}
		return saved, fmt.Errorf("insert %s: %w", b.coll.Name(), err)
	}

	if err := b.coll.FindOne(ctx, bson.M{mongoIDField: res.InsertedID}).Decode(&saved); err != nil {
		return saved, fmt.Errorf("read back %s: %w", b.coll.Name(), err)
	}
	return saved, nil
}

// FindByIDAndReplace implements domain.Backend
func (b *MongoBackend[T]) FindByIDAndReplace(ctx context.Context, id string, record T) (T, error) {
	var updated T
	doc, err := toBSON(record)
	if err != nil {
		return updated, err
	}
	// _id is immutable; the stored one stays.
	delete(doc, mongoIDField)

	filter := idFilter(id)
	if b.opts.timestamps {
		var previous bson.M
		err := b.coll.FindOne(ctx, filter,
			mongooptions.FindOne().SetProjection(bson.M{createdAtField: 1}),
		).Decode(&previous)
		if err != nil {
			return updated, b.notFound(id, err)
		}
		if created, ok := previous[createdAtField]; ok {
			doc[createdAtField] = created
		} else {
			delete(doc, createdAtField)
		}
		doc[updatedAtField] = b.opts.now()
	}

	err = b.coll.FindOneAndReplace(ctx, filter, doc,
		mongooptions.FindOneAndReplace().SetReturnDocument(mongooptions.After),
	).Decode(&updated)
	if err != nil {
		return updated, b.notFound(id, err)
	}
	return updated, nil
}

// FindByIDAndDelete implements domain.Backend
func (b *MongoBackend[T]) FindByIDAndDelete(ctx context.Context, id string) (T, error) {
	var deleted T
	if err := b.coll.FindOneAndDelete(ctx, idFilter(id)).Decode(&deleted); err != nil {
		return deleted, b.notFound(id, err)
	}
	return deleted, nil
}

// CheckConnection implements domain.HealthChecker
func (b *MongoBackend[T]) CheckConnection(ctx context.Context) error {
	return b.client.CheckConnection(ctx)
}

// EnsureCollections implements domain.HealthChecker by creating the
// collection when it does not exist yet.
func (b *MongoBackend[T]) EnsureCollections(ctx context.Context) error {
	names, err := b.client.db.ListCollectionNames(ctx, bson.M{"name": b.coll.Name()})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if len(names) > 0 {
		return nil
	}
	if err := b.client.db.CreateCollection(ctx, b.coll.Name()); err != nil {
		return fmt.Errorf("create collection %s: %w", b.coll.Name(), err)
	}
	b.opts.logger.Info("collection created", zap.String("collection", b.coll.Name()))
	return nil
}

var (
	_ domain.Backend[domain.Category] = (*MongoBackend[domain.Category])(nil)
	_ domain.HealthChecker            = (*MongoBackend[domain.Category])(nil)
)
