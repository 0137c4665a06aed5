/* SPDX-License-Identifier: BSD-2-Clause */

// Package coordinator implements the single-threaded loop that owns the
// fault listener, classifies each fault against the page buffer, and
// dispatches work items to the fill and flush queues. It is a direct
// structural translation of the original FillManager's FillMgr loop.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/faultmap/umap/page"
	"github.com/faultmap/umap/workqueue"
)

// ErrFatal wraps an unrecoverable error surfaced from the fault-service
// loop: a failure to dispatch a work item onto the fill or flush queue.
// Fill and flush worker failures are recorded by their pools, not wrapped
// here. Run records the wrapped error so it can be surfaced on the next
// user-facing operation.
var ErrFatal = errors.New("coordinator: fatal fault-service error")

// Listener is the subset of *uffd.Listener the Coordinator drives.
type Listener interface {
	GetEvents() []Event
}

// Event is the coordinator's view of one fault notification. uffd.Event
// satisfies this shape; kept as a local type so this package does not
// import uffd directly, matching the Store contract's decoupling of the
// core from the concrete kernel dependency.
type Event struct {
	Addr       uintptr
	IsWrite    bool
	IsShutdown bool
}

// Coordinator runs the single-threaded fault-service loop: classify each
// event against the buffer, dispatch FILL or WRITE_UNPROTECT work, and
// interleave THRESHOLD dispatch with lock yielding once the high watermark
// is reached.
type Coordinator struct {
	listener   Listener
	buffer     *page.Buffer
	fillQueue  *workqueue.Queue
	flushQueue *workqueue.Queue

	mu  sync.Mutex
	err error
}

// New returns a Coordinator wired to the given listener, buffer, and work
// queues.
func New(listener Listener, buffer *page.Buffer, fillQueue, flushQueue *workqueue.Queue) *Coordinator {
	return &Coordinator{
		listener:   listener,
		buffer:     buffer,
		fillQueue:  fillQueue,
		flushQueue: flushQueue,
	}
}

// Run executes the fault-service loop until a shutdown event is observed
// or a dispatch fails. ctx is consulted only by the queue pushes, so a
// cancelled ctx ends Run once a batch tries to dispatch work. It returns
// nil on an orderly shutdown, or a wrapped ErrFatal if dispatching a work
// item failed because the context was cancelled mid-dispatch.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		events := c.listener.GetEvents()
		if len(events) == 0 {
			continue
		}
		if events[0].IsShutdown {
			return nil
		}

		if err := c.handleBatch(ctx, events); err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrFatal, err)
			c.mu.Lock()
			c.err = wrapped
			c.mu.Unlock()
			return wrapped
		}
	}
}

// Err returns the fatal error recorded by the last Run, if any. Callers
// (the root umap.Mapping) surface this on Flush or Unmap rather than
// interrupting the fault-service loop mid-batch.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Coordinator) handleBatch(ctx context.Context, events []Event) error {
	c.buffer.Lock()
	defer c.buffer.Unlock()

	for _, e := range events {
		if c.buffer.HighReached() {
			quota := c.buffer.EvictionQuota()
			c.buffer.Unlock()
			err := c.flushQueue.Push(ctx, workqueue.Item{Kind: workqueue.Threshold, Quota: quota})
			c.buffer.Lock()
			if err != nil {
				return fmt.Errorf("dispatch THRESHOLD: %w", err)
			}
		}

		pd := c.buffer.Lookup(e.Addr)
		if pd != nil {
			if e.IsWrite && !pd.Dirty {
				c.buffer.UpgradeForWrite(pd)
				if err := c.fillQueue.Push(ctx, workqueue.Item{Kind: workqueue.WriteUnprotect, Descriptor: pd}); err != nil {
					return fmt.Errorf("dispatch WRITE_UNPROTECT for %#x: %w", e.Addr, err)
				}
			} else {
				slog.Debug("coordinator: spurious fault", "addr", fmt.Sprintf("%#x", e.Addr), "write", e.IsWrite)
			}
			continue
		}

		pd = c.buffer.Allocate(e.Addr)
		if e.IsWrite {
			pd.Dirty = true
		}
		if err := c.fillQueue.Push(ctx, workqueue.Item{Kind: workqueue.Fill, Descriptor: pd}); err != nil {
			return fmt.Errorf("dispatch FILL for %#x: %w", e.Addr, err)
		}
	}
	return nil
}
