/* SPDX-License-Identifier: BSD-2-Clause */

// Package fillworker implements the FillWorker pool: goroutines that drain
// FILL and WRITE_UNPROTECT work items, performing the store reads and
// kernel install/write-protect calls the Coordinator never does itself.
package fillworker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/faultmap/umap/page"
	"github.com/faultmap/umap/store"
	"github.com/faultmap/umap/workqueue"
)

// installer is the subset of *uffd.Listener a FillWorker needs. Tests
// supply a fake so pool behaviour can be exercised without a real
// userfaultfd instance.
type installer interface {
	InstallPage(addr uintptr, src []byte, writeEnabled bool) error
	EnableWrites(addr uintptr) error
}

// Pool is a fixed-size group of FillWorker goroutines sharing one queue.
// Items for different page addresses are independent; the Coordinator
// guarantees items for the same address never coexist, so workers never
// coordinate with each other.
type Pool struct {
	n        int
	queue    *workqueue.Queue
	buffer   *page.Buffer
	listener installer
	store    store.Store
	base        uintptr
	storeOffset int64
	pageSize    int

	group *errgroup.Group

	errMu sync.Mutex
	err   error
}

// NewPool returns a Pool of n workers draining queue. storeOffset is added
// to (descriptor address - base) to compute the store offset a fill reads
// from, letting a mapping start partway into a larger backing store.
func NewPool(n int, queue *workqueue.Queue, buffer *page.Buffer, listener installer, st store.Store, base uintptr, storeOffset int64, pageSize int) *Pool {
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
		herr := p.handle(item)
		p.queue.Done()
		if herr != nil {
			p.setErr(herr)
			cancel()
			return herr
		}
	}
}

func (p *Pool) handle(item workqueue.Item) error {
	switch item.Kind {
	case workqueue.Fill:
		return p.handleFill(item.Descriptor)
	case workqueue.WriteUnprotect:
		return p.handleWriteUnprotect(item.Descriptor)
	default:
		return fmt.Errorf("fillworker: unexpected item kind %s", item.Kind)
	}
}

func (p *Pool) handleFill(pd *page.Descriptor) error {
	buf := make([]byte, p.pageSize)
	offset := int64(pd.Addr-p.base) + p.storeOffset
	if err := p.store.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("fillworker: fill %#x: %w", pd.Addr, err)
	}

	if err := p.listener.InstallPage(pd.Addr, buf, pd.Dirty); err != nil {
		return fmt.Errorf("fillworker: install %#x: %w", pd.Addr, err)
	}

	p.buffer.Lock()
	p.buffer.MarkPresent(pd)
	p.buffer.Unlock()
	return nil
}

func (p *Pool) handleWriteUnprotect(pd *page.Descriptor) error {
	if err := p.listener.EnableWrites(pd.Addr); err != nil {
		return fmt.Errorf("fillworker: write-unprotect %#x: %w", pd.Addr, err)
	}

	p.buffer.Lock()
	p.buffer.MarkWritable(pd)
	p.buffer.Unlock()
	return nil
}
