/* SPDX-License-Identifier: BSD-2-Clause */

// Package umap implements a user-space, page-fault-driven memory mapping
// facility on top of userfaultfd(2): Map returns a Mapping whose Bytes
// slice is backed by a Store, pages are filled lazily on first touch, and a
// bounded in-memory
// buffer evicts pages back to the store under watermark pressure.
package umap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/faultmap/umap/config"
	"github.com/faultmap/umap/coordinator"
	"github.com/faultmap/umap/fillworker"
	"github.com/faultmap/umap/flushworker"
	"github.com/faultmap/umap/page"
	"github.com/faultmap/umap/store"
	"github.com/faultmap/umap/uffd"
	"github.com/faultmap/umap/workqueue"
)

// Mapping is a single page-fault-serviced region, the public handle
// returned by Map. Its exported Bytes method gives callers a []byte view
// of the region; reads and writes to it are resolved lazily through the
// backing Store.
type Mapping struct {
	mem         []byte
	base        uintptr
	length      uintptr
	storeOffset int64
	pageSize    int

	store    store.Store
	buffer   *page.Buffer
	listener *uffd.Listener

	fillQueue, flushQueue *workqueue.Queue
	fillers               *fillworker.Pool
	flushers              *flushworker.Pool
	coord                 *coordinator.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
	runErr error
	runWG  sync.WaitGroup
}

// Map creates a new anonymous demand-paged mapping of length bytes,
// serviced from st starting at storeOffset, per cfg. The returned Mapping
// is ready for use as soon as Map returns: the fault-service loop and
// worker pools are already running.
func Map(length int, st store.Store, storeOffset int64, cfg config.Config) (*Mapping, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if length <= 0 || length%cfg.PageSize != 0 {
		return nil, fmt.Errorf("umap: length %d is not a positive multiple of page_size %d", length, cfg.PageSize)
	}

	mem, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("umap: mmap %d bytes: %w", length, err)
	}
	base := uintptr(unsafe.Pointer(&mem[0]))

	buffer, err := page.NewBuffer(cfg.BufferCapacity, cfg.FlushLowWatermark, cfg.FlushHighWatermark)
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}

	listener, err := uffd.NewListener(base, uintptr(length), cfg.PageSize, cfg.MaxFaultEvents)
	if err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("umap: register fault listener: %w", err)
	}

	m := &Mapping{
		mem:         mem,
		base:        base,
		length:      uintptr(length),
		storeOffset: storeOffset,
		pageSize:    cfg.PageSize,
		store:       st,
		buffer:      buffer,
		listener:    listener,
		fillQueue:   workqueue.NewQueue(cfg.MaxFaultEvents),
		flushQueue:  workqueue.NewQueue(cfg.MaxFaultEvents),
	}

	m.fillers = fillworker.NewPool(cfg.NumFillers, m.fillQueue, buffer, listener, st, base, storeOffset, cfg.PageSize)
	m.flushers = flushworker.NewPool(cfg.NumFlushers, m.flushQueue, buffer, listener, st, base, storeOffset, cfg.PageSize)
	m.coord = coordinator.New(&listenerAdapter{listener}, buffer, m.fillQueue, m.flushQueue)

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.fillers.Start(m.ctx, m.cancel)
	m.flushers.Start(m.ctx, m.cancel)

	m.runWG.Add(1)
	go func() {
		defer m.runWG.Done()
		m.runErr = m.coord.Run(m.ctx)
	}()

	return m, nil
}

// listenerAdapter adapts *uffd.Listener's events to the coordinator
// package's decoupled Event type, so coordinator does not import uffd.
type listenerAdapter struct {
	l *uffd.Listener
}

func (a *listenerAdapter) GetEvents() []coordinator.Event {
	raw := a.l.GetEvents()
	events := make([]coordinator.Event, len(raw))
	for i, e := range raw {
		events[i] = coordinator.Event{Addr: e.Addr, IsWrite: e.IsWrite, IsShutdown: e.IsShutdown}
	}
	return events
}

// Bytes returns the mapped region. Touching any byte resolves a page
// fault through the backing store.
func (m *Mapping) Bytes() []byte {
	return m.mem
}

// Flush blocks until every currently dirty resident page has been written
// back to the store. Pages remain resident afterward; Flush only clears
// the dirty bit, it does not evict. On a clean buffer it is a no-op.
func (m *Mapping) Flush() error {
	if err := m.checkFatal(); err != nil {
		return err
	}

	m.buffer.Lock()
	dirty := m.buffer.DirtyPresent()
	m.buffer.Unlock()

	for _, pd := range dirty {
		m.buffer.Lock()
		if pd.State != page.Present || !pd.Dirty {
			m.buffer.Unlock()
			continue
		}
		addr := pd.Addr
		m.buffer.Unlock()

		if err := m.listener.DisableWrites(addr); err != nil {
			return fmt.Errorf("umap: flush: disable writes %#x: %w", addr, err)
		}
		offset := int64(addr-m.base) + m.storeOffset
		if err := m.store.WriteAt(m.listener.PageBytes(addr), offset); err != nil {
			return fmt.Errorf("umap: flush: write back %#x: %w", addr, err)
		}
		if err := m.listener.EnableWrites(addr); err != nil {
			return fmt.Errorf("umap: flush: re-enable writes %#x: %w", addr, err)
		}

		m.buffer.Lock()
		if pd.State == page.Present && pd.Addr == addr {
			pd.Dirty = false
		}
		m.buffer.Unlock()
	}

	return m.checkFatal()
}

// unmapDrainTimeout bounds how long Unmap waits for in-flight fill and
// flush work to finish naturally before it cancels the worker pools
// outright. A drain that does not finish in time means a worker is stuck
// on I/O behind an error already surfaced through runErr or the pool
// errors; waiting forever would hang teardown for no benefit.
const unmapDrainTimeout = 5 * time.Second

// Unmap stops fault service for the mapping, drains in-flight fill and
// flush work, releases the kernel-side fault channel, and unmaps the
// underlying memory. The Mapping must not be used after Unmap returns.
func (m *Mapping) Unmap() error {
	m.listener.Stop()
	m.runWG.Wait()

	drained := make(chan struct{})
	go func() {
		m.fillQueue.Wait()
		m.flushQueue.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(unmapDrainTimeout):
		slog.Warn("umap: unmap drain timed out, cancelling worker pools")
	}

	m.cancel()
	fillErr := m.fillers.Wait()
	flushErr := m.flushers.Wait()

	if err := m.listener.Close(); err != nil {
		return fmt.Errorf("umap: close fault listener: %w", err)
	}
	if err := unix.Munmap(m.mem); err != nil {
		return fmt.Errorf("umap: munmap: %w", err)
	}

	if m.runErr != nil {
		return m.runErr
	}
	if fillErr != nil {
		return fillErr
	}
	return flushErr
}

// checkFatal reports the first fatal error recorded by any of the three
// goroutine groups backing the mapping. The worker pools are checked
// before the coordinator: a pool failure cancels the shared context,
// which typically also aborts the coordinator's in-flight dispatch, but
// the pool's error is the root cause and the coordinator's is only the
// resulting "context canceled" echo.
func (m *Mapping) checkFatal() error {
	if err := m.fillers.Err(); err != nil {
		return err
	}
	if err := m.flushers.Err(); err != nil {
		return err
	}
	if err := m.coord.Err(); err != nil {
		return err
	}
	return nil
}
