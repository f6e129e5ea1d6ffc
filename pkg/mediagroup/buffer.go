// Package mediagroup accumulates related album items sharing a group id and
// flushes them as one batch after a quiet window. The platform never signals
// that an album is complete, so a debounce timer is the only completion
// heuristic; items arriving after the flush fired start a fresh group.
package mediagroup

import (
	"log/slog"
	"sync"
	"time"
)

// FlushFunc receives the buffered items of one group in arrival order.
type FlushFunc[T any] func(groupID string, items []T)

// Buffer is an arena of pending groups keyed by group id. One flush timer is
// armed per group when its first item arrives; later items only append. The
// group entry is removed before its flush runs, which structurally enforces
// the one-flush-per-group invariant.
type Buffer[T any] struct {
	quiet time.Duration
	flush FlushFunc[T]
	log   *slog.Logger

	mu     sync.Mutex
	groups map[string]*group[T]
}

type group[T any] struct {
	items []T
	timer *time.Timer
}

// New builds a buffer flushing through flush after quiet of inactivity
// counted from the first item of each group.
func New[T any](quiet time.Duration, flush FlushFunc[T], log *slog.Logger) *Buffer[T] {
	if log == nil {
		log = slog.Default()
	}

	return &Buffer[T]{
		quiet:  quiet,
		flush:  flush,
		log:    log.With("component", "mediagroup"),
		groups: make(map[string]*group[T]),
	}
}

// Add records an item for groupID. The first item of a group schedules its
// flush; subsequent items are appended to the pending set the already-armed
// timer will read at fire time. No timer is ever rescheduled, so items that
// arrive close to the deadline may land in a second group.
func (b *Buffer[T]) Add(groupID string, item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if g, ok := b.groups[groupID]; ok {
		g.items = append(g.items, item)
		b.log.Debug("Item appended to pending group", "group_id", groupID, "pending", len(g.items))
		return
	}

	g := &group[T]{items: []T{item}}
	g.timer = time.AfterFunc(b.quiet, func() { b.fire(groupID) })
	b.groups[groupID] = g
	b.log.Debug("Group opened", "group_id", groupID, "quiet_window", b.quiet)
}

// Pending reports how many items are buffered for groupID.
func (b *Buffer[T]) Pending(groupID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[groupID]
	if !ok {
		return 0
	}
	return len(g.items)
}

// Stop cancels all armed timers and drops pending groups without flushing.
func (b *Buffer[T]) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for groupID, g := range b.groups {
		g.timer.Stop()
		delete(b.groups, groupID)
	}
}

// fire detaches the group under the lock and flushes outside it, so a flush
// in progress can never race a second flush for the same id and late items
// open a new group instead of mutating the batch being sent.
func (b *Buffer[T]) fire(groupID string) {
	b.mu.Lock()
	g, ok := b.groups[groupID]
	if ok {
		delete(b.groups, groupID)
	}
	b.mu.Unlock()

	if !ok || len(g.items) == 0 {
		return
	}

	b.log.Info("Flushing group", "group_id", groupID, "items", len(g.items))
	b.flush(groupID, g.items)
}
