package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Handler processes one event to completion. A returned error is terminal for
// that event only; it never stops the drain loop.
type Handler func(ctx context.Context, event Event) error

// Queue is a FIFO of inbound events drained by a single worker. At most one
// handler runs at a time per queue instance, and handlers begin in the exact
// order events were enqueued. An event stays at the head until its handler
// finishes, then is removed.
type Queue struct {
	handler Handler
	log     *slog.Logger

	mu       sync.Mutex
	items    []Event
	draining bool
}

// New constructs an idle queue dispatching to handler.
func New(handler Handler, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}

	return &Queue{
		handler: handler,
		log:     log.With("component", "queue"),
	}
}

// Enqueue appends an event to the tail and starts the drain worker if it is
// idle. Safe for concurrent use.
func (q *Queue) Enqueue(ctx context.Context, event Event) {
	q.mu.Lock()
	q.items = append(q.items, event)
	depth := len(q.items)
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	q.log.Info("Event enqueued", "correlation_id", event.CorrelationID, "queue_depth", depth)

	if start {
		go q.drain(ctx)
	}
}

// Len reports the number of events not yet fully processed, including the one
// currently in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain processes head events one at a time until the queue empties or ctx is
// canceled. The head is removed only after its handler returns.
func (q *Queue) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
			return
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		head := q.items[0]
		q.mu.Unlock()

		q.process(ctx, head)

		q.mu.Lock()
		q.items = q.items[1:]
		remaining := len(q.items)
		q.mu.Unlock()

		q.log.Debug("Event processed", "correlation_id", head.CorrelationID, "queue_depth", remaining)
	}
}

// process runs the handler for one event, absorbing errors and panics so the
// drain loop always advances.
func (q *Queue) process(ctx context.Context, event Event) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Handler panicked", "correlation_id", event.CorrelationID, "panic", r)
		}
	}()

	if err := q.handler(ctx, event); err != nil {
		q.log.Error("Handler failed", "correlation_id", event.CorrelationID, "error", err)
	}
}
