package processor

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
)

const (
	defaultWorkers   = 1
	defaultQueueSize = 100
)

// DeliverFunc hands one event to its subscribers.
type DeliverFunc func(ctx context.Context, event domain.Event)

// task is one queued delivery
type task struct {
	ctx   context.Context
	event domain.Event
}

// Stats is a point-in-time view of the processor counters
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// EventProcessor delivers events on a pool of workers. Every worker owns
// its own queue and a collection always maps to the same worker, so events
// of one collection are delivered in the order they were submitted.
type EventProcessor struct {
	workers int
	queues  []chan *task
	deliver DeliverFunc
	logger  *zap.Logger
	wg      sync.WaitGroup

	// mu guards stopped against concurrent Submit/Stop
	mu      sync.RWMutex
	stopped bool

	startOnce    sync.Once
	shutdownOnce sync.Once

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewEventProcessor creates a processor; call Start to run its workers.
func NewEventProcessor(workers int, queueSize int, deliver DeliverFunc, logger *zap.Logger) *EventProcessor {
	if workers < 1 {
		workers = defaultWorkers
	}
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	queues := make([]chan *task, workers)
	for i := range queues {
		queues[i] = make(chan *task, queueSize)
	}

	return &EventProcessor{
		workers: workers,
		queues:  queues,
		deliver: deliver,
		logger:  logger,
	}
}

// Start starts the worker pool
func (p *EventProcessor) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}

		p.logger.Info("event processor started",
			zap.Int("workers", p.workers),
		)
	})
}

// Stop refuses new events, waits until the queued ones are delivered and
// stops the workers.
func (p *EventProcessor) Stop() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		for _, q := range p.queues {
			close(q)
		}
		p.mu.Unlock()

		// Workers drain their queue before returning. If Start was never
		// called there is nobody to drain, so the events are dropped.
		p.startOnce.Do(func() {
			for _, q := range p.queues {
				for range q {
					p.dropped.Add(1)
				}
			}
		})
		p.wg.Wait()

		p.logger.Info("event processor stopped",
			zap.Int64("delivered", p.delivered.Load()),
			zap.Int64("dropped", p.dropped.Load()),
		)
	})
}

// Submit queues an event without blocking. It reports false when the event
// was dropped because the worker queue is full or the processor stopped.
func (p *EventProcessor) Submit(ctx context.Context, event domain.Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.dropped.Add(1)
		return false
	}

	// Delivery outlives the emitting request.
	t := &task{ctx: context.WithoutCancel(ctx), event: event}

	select {
	case p.queues[p.shardFor(event.Collection)] <- t:
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("event queue is full, dropping event",
			zap.String("kind", string(event.Kind)),
			zap.String("collection", event.Collection),
		)
		return false
	}
}

// Stats returns current counters
func (p *EventProcessor) Stats() Stats {
	queued := 0
	for _, q := range p.queues {
		queued += len(q)
	}
	return Stats{
		Workers:   p.workers,
		Queued:    queued,
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// shardFor picks the worker for a collection using FNV hash
func (p *EventProcessor) shardFor(collection string) int {
	hash := fnv.New32a()
	hash.Write([]byte(collection))
	return int(hash.Sum32() % uint32(p.workers))
}

// worker delivers tasks from its queue until the queue is closed
func (p *EventProcessor) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for t := range p.queues[id] {
		p.deliver(t.ctx, t.event)
		p.delivered.Add(1)
	}

	p.logger.Debug("worker stopping due to closed queue",
		zap.Int("worker_id", id),
	)
}
