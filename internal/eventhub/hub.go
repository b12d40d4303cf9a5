// Package eventhub is an in-process publish/subscribe channel for record
// lifecycle events. A Hub is constructed once at the composition root and
// handed to every component that emits or observes events.
package eventhub

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
	"github.com/your-org/recordhub/internal/processor"
)

// Handler receives one event. Handlers run on the emitting goroutine in
// sync mode and on a processor worker in async mode.
type Handler func(ctx context.Context, event domain.Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Hub fans events out to subscribers.
type Hub struct {
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	nextID uint64
	byKind map[domain.EventKind]map[uint64]Handler
	all    map[uint64]Handler

	// nil in sync mode
	processor *processor.EventProcessor
}

// Option configures a Hub.
type Option func(*Hub)

// WithAsync delivers events on a worker pool instead of the emitting
// goroutine. Events of one collection keep their order.
func WithAsync(workers, queueSize int) Option {
	return func(h *Hub) {
		h.processor = processor.NewEventProcessor(workers, queueSize, h.deliver, h.logger.Named("processor"))
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

// New creates a Hub. Options are applied in order, so pass WithClock
// before WithAsync if both are used.
func New(logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		logger: logger,
		now:    time.Now,
		byKind: make(map[domain.EventKind]map[uint64]Handler),
		all:    make(map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start runs the async workers. It is a no-op in sync mode.
func (h *Hub) Start() {
	if h.processor != nil {
		h.processor.Start()
	}
}

// Stop delivers whatever is still queued and stops the workers.
func (h *Hub) Stop() {
	if h.processor != nil {
		h.processor.Stop()
	}
}

// Stats reports async delivery counters; zero in sync mode.
func (h *Hub) Stats() processor.Stats {
	if h.processor == nil {
		return processor.Stats{}
	}
	return h.processor.Stats()
}

// Subscribe registers a handler for one event kind and returns the function
// that removes it.
func (h *Hub) Subscribe(kind domain.EventKind, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.byKind[kind] == nil {
		h.byKind[kind] = make(map[uint64]Handler)
	}
	h.byKind[kind][id] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.byKind[kind], id)
	}
}

// SubscribeAll registers a handler for every event kind.
func (h *Hub) SubscribeAll(handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.all[id] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.all, id)
	}
}

// Emit publishes an event. It never fails and never panics: a subscriber
// that panics is logged and skipped.
func (h *Hub) Emit(ctx context.Context, event domain.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = h.now()
	}

	if h.processor != nil {
		h.processor.Submit(ctx, event)
		return
	}
	h.deliver(ctx, event)
}

// deliver calls the handlers registered at the moment of delivery, in
// subscription order.
func (h *Hub) deliver(ctx context.Context, event domain.Event) {
	for _, sub := range h.snapshot(event.Kind) {
		h.invoke(ctx, sub, event)
	}
}

func (h *Hub) snapshot(kind domain.EventKind) []subscription {
	h.mu.RLock()
	subs := make([]subscription, 0, len(h.byKind[kind])+len(h.all))
	for id, fn := range h.byKind[kind] {
		subs = append(subs, subscription{id: id, handler: fn})
	}
	for id, fn := range h.all {
		subs = append(subs, subscription{id: id, handler: fn})
	}
	h.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

func (h *Hub) invoke(ctx context.Context, sub subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event subscriber panicked",
				zap.Uint64("subscription", sub.id),
				zap.String("kind", string(event.Kind)),
				zap.String("collection", event.Collection),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(ctx, event)
}

var _ domain.EventPublisher = (*Hub)(nil)
