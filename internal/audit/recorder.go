// Package audit keeps a persistent log of hub events in an SQL table.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/your-org/recordhub/internal/domain"
	"github.com/your-org/recordhub/internal/eventhub"
)

// DefaultListLimit caps List when the caller asks for no limit.
const DefaultListLimit = 100

// Entry is one recorded event.
type Entry struct {
	ID         uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind       domain.EventKind `gorm:"size:16;index" json:"kind"`
	Collection string           `gorm:"size:128;index" json:"collection"`
	Payload    string           `gorm:"type:text" json:"-"`
	OccurredAt time.Time        `gorm:"index" json:"occurred_at"`

	// Payload decoded for responses
	Body json.RawMessage `gorm:"-" json:"payload,omitempty"`
}

// TableName implements gorm's tabler
func (Entry) TableName() string {
	return "event_log"
}

// Subscriber is the part of the hub the recorder attaches to.
type Subscriber interface {
	SubscribeAll(handler eventhub.Handler) func()
}

var _ Subscriber = (*eventhub.Hub)(nil)

// Recorder writes every event it receives into the event_log table.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRecorder creates a recorder over db. Call Migrate before use.
func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: db, logger: logger}
}

// Migrate creates or updates the event_log table.
func (r *Recorder) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("migrate event log: %w", err)
	}
	return nil
}

// Record stores one event. Write failures are logged, not returned: the
// hub gives handlers no way to report them.
func (r *Recorder) Record(ctx context.Context, event domain.Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		r.logger.Warn("event payload is not serializable",
			zap.String("kind", string(event.Kind)),
			zap.String("collection", event.Collection),
			zap.Error(err),
		)
		payload = []byte("null")
	}

	entry := Entry{
		Kind:       event.Kind,
		Collection: event.Collection,
		Payload:    string(payload),
		OccurredAt: event.OccurredAt,
	}
	// The event describes a write that already happened; a cancelled
	// request must not lose its audit row.
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error; err != nil {
		r.logger.Error("failed to record event",
			zap.String("kind", string(event.Kind)),
			zap.String("collection", event.Collection),
			zap.Error(err),
		)
	}
}

// Attach subscribes the recorder to every event kind and returns the
// function that detaches it.
func (r *Recorder) Attach(hub Subscriber) func() {
	return hub.SubscribeAll(r.Record)
}

// List returns the newest entries first, optionally limited to one
// collection. limit <= 0 means DefaultListLimit.
func (r *Recorder) List(ctx context.Context, collection string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if collection != "" {
		q = q.Where("collection = ?", collection)
	}

	entries := []Entry{}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list event log: %w", err)
	}
	for i := range entries {
		entries[i].Body = json.RawMessage(entries[i].Payload)
	}
	return entries, nil
}
