package eventhub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/recordhub/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *sink) handle(_ context.Context, e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestSubscribeByKind(t *testing.T) {
	hub := New(zaptest.NewLogger(t))
	creates := &sink{}
	hub.Subscribe(domain.EventCreate, creates.handle)

	ctx := context.Background()
	hub.Emit(ctx, domain.Event{Kind: domain.EventRead, Collection: "categories"})
	hub.Emit(ctx, domain.Event{Kind: domain.EventCreate, Collection: "categories", Payload: "x"})

	require.Len(t, creates.events, 1)
	assert.Equal(t, "x", creates.events[0].Payload)
	assert.False(t, creates.events[0].OccurredAt.IsZero())
}

func TestSubscribeAllAndOrder(t *testing.T) {
	hub := New(zaptest.NewLogger(t))

	var order []string
	hub.Subscribe(domain.EventDelete, func(context.Context, domain.Event) { order = append(order, "first") })
	hub.SubscribeAll(func(context.Context, domain.Event) { order = append(order, "all") })
	hub.Subscribe(domain.EventDelete, func(context.Context, domain.Event) { order = append(order, "last") })

	hub.Emit(context.Background(), domain.Event{Kind: domain.EventDelete})

	assert.Equal(t, []string{"first", "all", "last"}, order)
}

func TestUnsubscribe(t *testing.T) {
	hub := New(zaptest.NewLogger(t))
	s := &sink{}
	unsubscribe := hub.SubscribeAll(s.handle)

	hub.Emit(context.Background(), domain.Event{Kind: domain.EventRead})
	unsubscribe()
	unsubscribe()
	hub.Emit(context.Background(), domain.Event{Kind: domain.EventRead})

	assert.Len(t, s.events, 1)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	hub := New(zaptest.NewLogger(t))
	s := &sink{}
	hub.Subscribe(domain.EventUpdate, func(context.Context, domain.Event) { panic("boom") })
	hub.Subscribe(domain.EventUpdate, s.handle)

	assert.NotPanics(t, func() {
		hub.Emit(context.Background(), domain.Event{Kind: domain.EventUpdate})
	})
	assert.Len(t, s.events, 1)
}

func TestEmitKeepsProvidedTimestamp(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	hub := New(zaptest.NewLogger(t), WithClock(func() time.Time { return fixed }))
	s := &sink{}
	hub.SubscribeAll(s.handle)

	given := fixed.Add(time.Hour)
	hub.Emit(context.Background(), domain.Event{Kind: domain.EventRead})
	hub.Emit(context.Background(), domain.Event{Kind: domain.EventRead, OccurredAt: given})

	require.Len(t, s.events, 2)
	assert.Equal(t, fixed, s.events[0].OccurredAt)
	assert.Equal(t, given, s.events[1].OccurredAt)
}

func TestAsyncDeliveryDrainsOnStop(t *testing.T) {
	hub := New(zaptest.NewLogger(t), WithAsync(3, 100))
	s := &sink{}
	hub.SubscribeAll(s.handle)
	hub.Start()

	for _, kind := range domain.EventKinds {
		hub.Emit(context.Background(), domain.Event{Kind: kind, Collection: "products"})
	}
	hub.Stop()

	assert.Equal(t, domain.EventKinds, s.kinds())
	assert.Equal(t, int64(4), hub.Stats().Delivered)
}

func TestSyncHubStartStopAreNoops(t *testing.T) {
	hub := New(nil)
	hub.Start()
	hub.Stop()
	assert.Zero(t, hub.Stats())
}
