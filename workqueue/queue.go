/* SPDX-License-Identifier: BSD-2-Clause */

package workqueue

import (
	"context"
	"sync"
)

// Queue is a bounded, multi-producer/multi-consumer channel of work items
// with blocking Push and Pop.
//
// It also tracks outstanding items via an internal WaitGroup so a shutdown
// sequence can drain in-flight work (including a THRESHOLD item's
// fanned-out EVICT_ONE pushes) before tearing anything down: Push counts an
// item as outstanding until the worker that pops it calls Done, so Wait
// only returns once every item, including ones a handler produces while
// processing another, has actually finished.
type Queue struct {
	items chan Item
	wg    sync.WaitGroup
}

// NewQueue returns a Queue with the given bound on buffered items.
func NewQueue(capacity int) *Queue {
	return &Queue{items: make(chan Item, capacity)}
}

// Push blocks until there is room in the queue or ctx is cancelled.
func (q *Queue) Push(ctx context.Context, item Item) error {
	q.wg.Add(1)
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		q.wg.Done()
		return ctx.Err()
	}
}

// Pop blocks until an item is available, the queue is closed, or ctx is
// cancelled. On cancellation it returns ok == false and ctx's error; with a
// nil error, ok is false only when the queue has been closed and drained.
// Callers must call Done exactly once after they finish processing an item
// popped with ok == true.
func (q *Queue) Pop(ctx context.Context) (item Item, ok bool, err error) {
	select {
	case item, ok = <-q.items:
		return item, ok, nil
	case <-ctx.Done():
		return Item{}, false, ctx.Err()
	}
}

// Done marks one previously popped item as fully processed.
func (q *Queue) Done() {
	q.wg.Done()
}

// Wait blocks until every pushed item, including any produced while
// processing another (a THRESHOLD item's EVICT_ONE fanout), has been
// popped and marked Done.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close signals that no further items will be pushed. Workers draining the
// queue via Pop observe ok=false once every buffered item has been
// consumed. Callers must ensure (typically via Wait) that no goroutine is
// still calling Push before calling Close.
func (q *Queue) Close() {
	close(q.items)
}

// Len reports the number of items currently buffered.
func (q *Queue) Len() int {
	return len(q.items)
}
