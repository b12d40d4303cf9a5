package repositories

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	badger "github.com/ipfs/go-ds-badger"

	"github.com/your-org/recordhub/internal/domain"
)

// OpenDatastore returns the key-value store behind DatastoreBackend: an
// in-memory map when path is empty, a badger database at path otherwise.
func OpenDatastore(path string) (datastore.Batching, error) {
	if path == "" {
		return dssync.MutexWrap(datastore.NewMapDatastore()), nil
	}

	opts := badger.DefaultOptions
	ds, err := badger.NewDatastore(path, &opts)
	if err != nil {
		return nil, fmt.Errorf("open badger datastore at %s: %w", path, err)
	}
	return ds, nil
}

// keyEncoding keeps record ids opaque inside datastore keys: no "/" or ".."
// survives, and base32hex preserves the byte order of ids.
var keyEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// DatastoreBackend keeps one collection under the key prefix /<collection>,
// one JSON value per record. The id itself lives in the JSON body.
type DatastoreBackend[T any] struct {
	store      datastore.Datastore
	collection string
	prefix     datastore.Key
	opts       options

	// serializes read-modify-write sequences of this backend
	mu sync.Mutex
}

// NewDatastoreBackend creates the backend of one collection.
func NewDatastoreBackend[T any](store datastore.Datastore, collection string, opts ...Option) *DatastoreBackend[T] {
	return &DatastoreBackend[T]{
		store:      store,
		collection: collection,
		prefix:     datastore.NewKey(collection),
		opts:       buildOptions(opts),
	}
}

func (b *DatastoreBackend[T]) key(id string) datastore.Key {
	return b.prefix.ChildString(keyEncoding.EncodeToString([]byte(id)))
}

func (b *DatastoreBackend[T]) get(ctx context.Context, id string) ([]byte, error) {
	raw, err := b.store.Get(ctx, b.key(id))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", b.collection, id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", b.collection, id, err)
	}
	return raw, nil
}

// FindOne implements domain.Backend
func (b *DatastoreBackend[T]) FindOne(ctx context.Context, id string) (T, error) {
	raw, err := b.get(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeRaw[T](raw)
}

// FindAll implements domain.Backend. Records come back in key order.
func (b *DatastoreBackend[T]) FindAll(ctx context.Context) ([]T, error) {
	res, err := b.store.Query(ctx, query.Query{
		Prefix: b.prefix.String(),
		Orders: []query.Order{query.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", b.collection, err)
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.collection, err)
	}

	records := make([]T, 0, len(entries))
	for _, entry := range entries {
		record, err := decodeRaw[T](entry.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Key, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Save implements domain.Backend
func (b *DatastoreBackend[T]) Save(ctx context.Context, record T) (T, error) {
	var zero T
	doc, err := encodeDocument(record)
	if err != nil {
		return zero, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.opts.stampNew(doc)
	exists, err := b.store.Has(ctx, b.key(id))
	if err != nil {
		return zero, fmt.Errorf("check %s/%s: %w", b.collection, id, err)
	}
	if exists {
		return zero, fmt.Errorf("%s/%s: %w", b.collection, id, domain.ErrConflict)
	}

	if err := b.put(ctx, id, doc); err != nil {
		return zero, err
	}
	return decodeDocument[T](doc)
}

// FindByIDAndReplace implements domain.Backend
func (b *DatastoreBackend[T]) FindByIDAndReplace(ctx context.Context, id string, record T) (T, error) {
	var zero T
	doc, err := encodeDocument(record)
	if err != nil {
		return zero, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := b.get(ctx, id)
	if err != nil {
		return zero, err
	}
	previous, err := parseDocument(raw)
	if err != nil {
		return zero, err
	}

	b.opts.stampReplace(doc, id, previous)
	if err := b.put(ctx, id, doc); err != nil {
		return zero, err
	}
	return decodeDocument[T](doc)
}

// FindByIDAndDelete implements domain.Backend
func (b *DatastoreBackend[T]) FindByIDAndDelete(ctx context.Context, id string) (T, error) {
	var zero T

	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := b.get(ctx, id)
	if err != nil {
		return zero, err
	}
	if err := b.store.Delete(ctx, b.key(id)); err != nil {
		return zero, fmt.Errorf("delete %s/%s: %w", b.collection, id, err)
	}
	return decodeRaw[T](raw)
}

func (b *DatastoreBackend[T]) put(ctx context.Context, id string, doc document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", b.collection, id, err)
	}
	if err := b.store.Put(ctx, b.key(id), raw); err != nil {
		return fmt.Errorf("put %s/%s: %w", b.collection, id, err)
	}
	return nil
}

// CheckConnection implements domain.HealthChecker
func (b *DatastoreBackend[T]) CheckConnection(ctx context.Context) error {
	if _, err := b.store.Has(ctx, b.prefix); err != nil {
		return fmt.Errorf("datastore unavailable: %w", err)
	}
	return nil
}

// EnsureCollections implements domain.HealthChecker; key prefixes need no setup.
func (b *DatastoreBackend[T]) EnsureCollections(context.Context) error {
	return nil
}

var (
	_ domain.Backend[domain.Category] = (*DatastoreBackend[domain.Category])(nil)
	_ domain.HealthChecker            = (*DatastoreBackend[domain.Category])(nil)
)
