/* SPDX-License-Identifier: BSD-2-Clause */

// Package flushworker implements the FlushWorker pool: goroutines that
// drain EVICT_ONE and THRESHOLD work items, writing dirty pages back to
// the store and freeing buffer slots.
package flushworker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/faultmap/umap/page"
	"github.com/faultmap/umap/store"
	"github.com/faultmap/umap/workqueue"
)

// evictor is the subset of *uffd.Listener a FlushWorker needs. Tests
// supply a fake so pool behaviour can be exercised without a real
// userfaultfd instance.
type evictor interface {
	DisableWrites(addr uintptr) error
	PageBytes(addr uintptr) []byte
	Evict(addr uintptr) error
}

// Pool is a fixed-size group of FlushWorker goroutines sharing one queue.
// A THRESHOLD item fans out into one EVICT_ONE item per victim, pushed
// back onto the same queue.
type Pool struct {
	n        int
	queue    *workqueue.Queue
	buffer   *page.Buffer
	listener evictor
	store    store.Store
	base        uintptr
	storeOffset int64
	pageSize    int

	group *errgroup.Group

	errMu sync.Mutex
	err   error
}

// NewPool returns a Pool of n workers draining queue. storeOffset is added
// to (descriptor address - base) to compute the store offset a flush
// writes to, letting a mapping start partway into a larger backing store.
func NewPool(n int, queue *workqueue.Queue, buffer *page.Buffer, listener evictor, st store.Store, base uintptr, storeOffset int64, pageSize int) *Pool {
	return &Pool{
		n:           n,
		queue:       queue,
		buffer:      buffer,
		listener:    listener,
		store:       st,
		base:        base,
		storeOffset: storeOffset,
		pageSize:    pageSize,
	}
}

// Start launches the worker goroutines, supervised by an errgroup sharing
// ctx with the rest of the mapping. A worker that hits a fatal error
// records it (retrievable without blocking via Err) and calls cancel, so
// the coordinator and every other worker across both pools observe the
// failure on their next blocking queue operation instead of stalling
// behind a queue nothing will ever drain again.
func (p *Pool) Start(ctx context.Context, cancel context.CancelFunc) {
	g := &errgroup.Group{}
	p.group = g
	for i := 0; i < p.n; i++ {
		g.Go(func() error {
			return p.run(ctx, cancel)
		})
	}
}

// Wait blocks until every worker has returned and reports the first
// non-nil error, if any.
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// Err returns the first fatal error recorded by a worker, without
// blocking. Callers (the root umap.Mapping) consult this on Flush in
// addition to Wait, since Wait only returns once every worker has exited.
func (p *Pool) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Pool) setErr(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
}

func (p *Pool) run(ctx context.Context, cancel context.CancelFunc) error {
	for {
		item, ok, err := p.queue.Pop(ctx)
		if err != nil {
			return nil
		}
		if !ok {
			return nil
		}
		herr := p.handle(ctx, item)
		p.queue.Done()
		if herr != nil {
			p.setErr(herr)
			cancel()
			return herr
		}
	}
}

func (p *Pool) handle(ctx context.Context, item workqueue.Item) error {
	switch item.Kind {
	case workqueue.EvictOne:
		return p.handleEvictOne(ctx, item)
	case workqueue.Threshold:
		return p.handleThreshold(ctx, item.Quota)
	default:
		return fmt.Errorf("flushworker: unexpected item kind %s", item.Kind)
	}
}

// handleEvictOne writes back a dirty victim and frees its slot. A write-back
// failure re-queues the same descriptor once (item.Attempt distinguishes the
// retry) before giving up, per the error-handling policy's "re-queued once."
func (p *Pool) handleEvictOne(ctx context.Context, item workqueue.Item) error {
	pd := item.Descriptor
	offset := int64(pd.Addr-p.base) + p.storeOffset

	if pd.Dirty {
		if err := p.listener.DisableWrites(pd.Addr); err != nil {
			return fmt.Errorf("flushworker: disable writes %#x: %w", pd.Addr, err)
		}
		if err := p.store.WriteAt(p.listener.PageBytes(pd.Addr), offset); err != nil {
			if item.Attempt == 0 {
				slog.Warn("flushworker: write back failed, retrying once", "addr", fmt.Sprintf("%#x", pd.Addr), "error", err)
				return p.queue.Push(ctx, workqueue.Item{Kind: workqueue.EvictOne, Descriptor: pd, Attempt: 1})
			}
			return fmt.Errorf("flushworker: write back %#x failed after retry: %w", pd.Addr, err)
		}
	}

	if err := p.listener.Evict(pd.Addr); err != nil {
		return fmt.Errorf("flushworker: evict %#x: %w", pd.Addr, err)
	}

	p.buffer.Lock()
	p.buffer.Release(pd)
	p.buffer.Unlock()
	return nil
}

func (p *Pool) handleThreshold(ctx context.Context, quota int) error {
	p.buffer.Lock()
	victims := p.buffer.SelectVictims(quota)
	p.buffer.Unlock()

	for _, pd := range victims {
		if err := p.queue.Push(ctx, workqueue.Item{Kind: workqueue.EvictOne, Descriptor: pd}); err != nil {
			return fmt.Errorf("flushworker: enqueue evict for %#x: %w", pd.Addr, err)
		}
	}
	return nil
}
