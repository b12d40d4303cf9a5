package domain

import (
	"context"
	"time"
)

// EventKind names a record lifecycle event.
type EventKind string

const (
	EventRead   EventKind = "read"
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// EventKinds lists every kind a Model emits.
var EventKinds = []EventKind{EventRead, EventCreate, EventUpdate, EventDelete}

// Event is one notification published on the hub.
//
// Payload shape depends on Kind:
//   - read:   the fetched record, or an Envelope for a full listing
//   - create: the persisted record
//   - update: the replacement payload as supplied by the caller
//   - delete: the identifier (string)
type Event struct {
	Kind       EventKind `json:"kind"`
	Collection string    `json:"collection"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher accepts events. Emit is fire-and-forget: it reports
// nothing back to the caller.
type EventPublisher interface {
	Emit(ctx context.Context, event Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Emit(context.Context, Event) {}
