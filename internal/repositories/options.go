package repositories

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a backend.
type Option func(*options)

type options struct {
	timestamps bool
	now        func() time.Time
	newID      func() string
	logger     *zap.Logger
}

// WithTimestamps makes the backend stamp createdAt on create and updatedAt
// on create and replace.
func WithTimestamps(enabled bool) Option {
	return func(o *options) {
		o.timestamps = enabled
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithIDGenerator overrides how identifiers are assigned to new records.
// Mongo ignores it and lets the server assign an ObjectID.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		o.newID = newID
	}
}

// WithLogger sets the backend logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
