package domain

import "context"

// Backend is the persistence contract a Model forwards to. It is the whole
// surface a document store driver has to offer for one collection.
type Backend[T any] interface {
	// FindOne returns the record with the given identifier or ErrNotFound.
	FindOne(ctx context.Context, id string) (T, error)

	// FindAll returns every record of the collection.
	FindAll(ctx context.Context) ([]T, error)

	// Save constructs a new entity from the payload and persists it.
	// The result carries backend-assigned fields (identifier, timestamps).
	Save(ctx context.Context, record T) (T, error)

	// FindByIDAndReplace overwrites the record and returns the updated state.
	FindByIDAndReplace(ctx context.Context, id string, record T) (T, error)

	// FindByIDAndDelete removes the record and returns what was deleted.
	FindByIDAndDelete(ctx context.Context, id string) (T, error)
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	// CheckConnection checks if the database connection is healthy
	CheckConnection(ctx context.Context) error

	// EnsureCollections ensures that required collections/namespaces exist
	EnsureCollections(ctx context.Context) error
}
