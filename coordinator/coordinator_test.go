/* SPDX-License-Identifier: BSD-2-Clause */

package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/faultmap/umap/page"
	"github.com/faultmap/umap/workqueue"
)

type fakeListener struct {
	mu     sync.Mutex
	events [][]Event
	idx    int
}

func (f *fakeListener) GetEvents() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.events) {
		return []Event{{IsShutdown: true}}
	}
	e := f.events[f.idx]
	f.idx++
	return e
}

func drainFill(t *testing.T, q *workqueue.Queue, ctx context.Context) workqueue.Item {
	t.Helper()
	item, ok, err := q.Pop(ctx)
	if err != nil || !ok {
		t.Fatalf("expected an item on the fill queue, ok=%v err=%v", ok, err)
	}
	return item
}

func TestCoordinatorDispatchesFillForNewFault(t *testing.T) {
	buf, err := page.NewBuffer(4, 1, 3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	fillQ := workqueue.NewQueue(4)
	flushQ := workqueue.NewQueue(4)
	lis := &fakeListener{events: [][]Event{{{Addr: 0x1000}}}}

	c := New(lis, buf, fillQ, flushQ)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go c.Run(ctx)

	item := drainFill(t, fillQ, ctx)
	if item.Kind != workqueue.Fill {
		t.Fatalf("item kind = %s, want FILL", item.Kind)
	}
	if item.Descriptor.Addr != 0x1000 {
		t.Fatalf("descriptor addr = %#x, want 0x1000", item.Descriptor.Addr)
	}
}

func TestCoordinatorDropsSpuriousReadOnPresentPage(t *testing.T) {
	buf, err := page.NewBuffer(4, 1, 3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	buf.Lock()
	pd := buf.Allocate(0x2000)
	buf.MarkPresent(pd)
	buf.Unlock()

	fillQ := workqueue.NewQueue(4)
	flushQ := workqueue.NewQueue(4)
	lis := &fakeListener{events: [][]Event{{{Addr: 0x2000, IsWrite: false}}}}

	c := New(lis, buf, fillQ, flushQ)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := c.Run(ctx); err == nil {
		// Run exits once the fake listener is exhausted and returns shutdown.
	}

	if n := fillQ.Len(); n != 0 {
		t.Fatalf("fill queue has %d items, want 0 for a spurious read fault", n)
	}
}

func TestCoordinatorWriteFaultOnCleanPresentTriggersWriteUnprotect(t *testing.T) {
	buf, err := page.NewBuffer(4, 1, 3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	buf.Lock()
	pd := buf.Allocate(0x3000)
	buf.MarkPresent(pd)
	buf.Unlock()

	fillQ := workqueue.NewQueue(4)
	flushQ := workqueue.NewQueue(4)
	lis := &fakeListener{events: [][]Event{{{Addr: 0x3000, IsWrite: true}}}}

	c := New(lis, buf, fillQ, flushQ)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Run(ctx)

	item := drainFill(t, fillQ, ctx)
	if item.Kind != workqueue.WriteUnprotect {
		t.Fatalf("item kind = %s, want WRITE_UNPROTECT", item.Kind)
	}
	if !item.Descriptor.Dirty {
		t.Fatalf("descriptor not marked dirty after write fault upgrade")
	}
}

func TestCoordinatorWriteFaultOnAlreadyDirtyIsSpurious(t *testing.T) {
	buf, err := page.NewBuffer(4, 1, 3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	buf.Lock()
	pd := buf.Allocate(0x4000)
	buf.MarkPresent(pd)
	buf.UpgradeForWrite(pd)
	buf.MarkWritable(pd)
	buf.Unlock()

	fillQ := workqueue.NewQueue(4)
	flushQ := workqueue.NewQueue(4)
	lis := &fakeListener{events: [][]Event{{{Addr: 0x4000, IsWrite: true}}}}

	c := New(lis, buf, fillQ, flushQ)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	if n := fillQ.Len(); n != 0 {
		t.Fatalf("fill queue has %d items, want 0 for a write fault on an already-dirty page", n)
	}
}

func TestCoordinatorDispatchesThresholdAtHighWatermark(t *testing.T) {
	buf, err := page.NewBuffer(3, 1, 2)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	buf.Lock()
	for _, a := range []uintptr{0x1000, 0x2000} {
		pd := buf.Allocate(a)
		buf.MarkPresent(pd)
	}
	buf.Unlock()

	fillQ := workqueue.NewQueue(4)
	flushQ := workqueue.NewQueue(4)
	lis := &fakeListener{events: [][]Event{{{Addr: 0x3000}}}}

	c := New(lis, buf, fillQ, flushQ)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Run(ctx)

	item, ok, err := flushQ.Pop(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a THRESHOLD item on the flush queue, ok=%v err=%v", ok, err)
	}
	if item.Kind != workqueue.Threshold {
		t.Fatalf("item kind = %s, want THRESHOLD", item.Kind)
	}
	if item.Quota != 1 {
		t.Fatalf("quota = %d, want 1 (high=2, low=1)", item.Quota)
	}
}

// TestCoordinatorCapacityOneMakesProgress exercises boundary behaviour 11:
// with capacity 1, a stream of distinct-address faults still makes
// progress once each descriptor is released.
func TestCoordinatorCapacityOneMakesProgress(t *testing.T) {
	buf, err := page.NewBuffer(1, 0, 1)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	fillQ := workqueue.NewQueue(1)
	flushQ := workqueue.NewQueue(1)
	lis := &fakeListener{events: [][]Event{{{Addr: 0x1000}}, {{Addr: 0x2000}}}}

	c := New(lis, buf, fillQ, flushQ)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Run(ctx)

	first := drainFill(t, fillQ, ctx)
	if first.Descriptor.Addr != 0x1000 {
		t.Fatalf("first descriptor addr = %#x, want 0x1000", first.Descriptor.Addr)
	}

	// Simulate a FillWorker completing the first fill, then a FlushWorker
	// evicting it, freeing the only slot for the second fault.
	buf.Lock()
	buf.MarkPresent(first.Descriptor)
	victims := buf.SelectVictims(1)
	buf.Unlock()
	if len(victims) != 1 {
		t.Fatalf("SelectVictims returned %d, want 1", len(victims))
	}
	buf.Lock()
	buf.Release(victims[0])
	buf.Unlock()

	second := drainFill(t, fillQ, ctx)
	if second.Descriptor.Addr != 0x2000 {
		t.Fatalf("second descriptor addr = %#x, want 0x2000", second.Descriptor.Addr)
	}
}
