/* SPDX-License-Identifier: BSD-2-Clause */

package page

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidWatermarks is returned by NewBuffer when low/high/capacity do
// not satisfy 0 <= low < high <= capacity.
var ErrInvalidWatermarks = errors.New("page: invalid watermark configuration")

// ErrCapacityExhausted documents the condition Allocate blocks on rather
// than returns: no slot is Free. It exists so callers can
// name the condition (e.g. in a timeout wrapper built on top of Allocate)
// without Allocate itself ever needing to return it.
var ErrCapacityExhausted = errors.New("page: buffer capacity exhausted")

// Buffer is a fixed-capacity cache of resident pages. A single mutex and
// condition variable guard all mutation, per the design rationale: this
// keeps reasoning about the state machine simple, and fill/flush I/O (not
// lock contention) dominates service latency.
type Buffer struct {
	sync.Mutex
	cond *sync.Cond

	capacity          int
	lowWater, highWater int

	presentIndex map[uintptr]*Descriptor
	freeList     []*Descriptor

	// presentQueue holds every Descriptor from MarkPresent until
	// SelectVictims removes it. A Descriptor transiently in Updating state
	// (a write-fault upgrade in flight) stays in place here rather than
	// being removed and reinserted: this preserves true arrival-order FIFO
	// and still counts the slot toward the fill level, since the page
	// remains resident throughout the upgrade.
	presentQueue *list.List
	elemOf       map[*Descriptor]*list.Element

	// leaving tracks descriptors currently selected for eviction, keyed by
	// the address they were evicting when selected. A new fault on that
	// address must block until the flush completes and Release runs;
	// presentIndex alone cannot express this because SelectVictims removes
	// the descriptor from presentIndex immediately.
	leaving map[uintptr]*Descriptor
}

// NewBuffer creates a Buffer with the given capacity and watermarks. All
// descriptors start Free.
func NewBuffer(capacity, lowWater, highWater int) (*Buffer, error) {
	if lowWater < 0 || lowWater >= highWater || highWater > capacity {
		return nil, fmt.Errorf("%w: capacity=%d low=%d high=%d", ErrInvalidWatermarks, capacity, lowWater, highWater)
	}

	b := &Buffer{
		capacity:     capacity,
		lowWater:     lowWater,
		highWater:    highWater,
		presentIndex: make(map[uintptr]*Descriptor, capacity),
		freeList:     make([]*Descriptor, capacity),
		presentQueue: list.New(),
		elemOf:       make(map[*Descriptor]*list.Element, capacity),
		leaving:      make(map[uintptr]*Descriptor),
	}
	b.cond = sync.NewCond(&b.Mutex)

	for i := 0; i < capacity; i++ {
		b.freeList[i] = &Descriptor{State: Free}
	}
	return b, nil
}

// Lookup returns the descriptor currently holding addr, if any. Callers must
// hold the buffer lock.
func (b *Buffer) Lookup(addr uintptr) *Descriptor {
	return b.presentIndex[addr]
}

// Allocate reserves a Free slot for addr, transitions it to Filling, and
// inserts it into the present index. It blocks on the condition variable
// while no slot is free, and also blocks while addr is currently being
// evicted by a flush worker (state Leaving), so that the new fill cannot
// race the in-flight flush of the same address. Callers must hold the
// buffer lock; Allocate releases and reacquires it while waiting.
func (b *Buffer) Allocate(addr uintptr) *Descriptor {
	for {
		if _, busy := b.leaving[addr]; busy {
			b.cond.Wait()
			continue
		}
		if len(b.freeList) == 0 {
			b.cond.Wait()
			continue
		}
		break
	}

	n := len(b.freeList)
	pd := b.freeList[n-1]
	b.freeList = b.freeList[:n-1]

	pd.Addr = addr
	pd.State = Filling
	pd.Dirty = false
	pd.Deferred = false
	b.presentIndex[addr] = pd
	return pd
}

// MarkPresent transitions pd from Filling to Present and appends it to the
// FIFO eviction order.
func (b *Buffer) MarkPresent(pd *Descriptor) {
	pd.State = Present
	elem := b.presentQueue.PushBack(pd)
	b.elemOf[pd] = elem
	b.cond.Broadcast()
}

// UpgradeForWrite marks a clean Present page dirty and transitions it to
// Updating. Precondition: pd.State == Present && !pd.Dirty.
func (b *Buffer) UpgradeForWrite(pd *Descriptor) {
	pd.Dirty = true
	pd.State = Updating
}

// MarkWritable transitions pd from Updating back to Present.
func (b *Buffer) MarkWritable(pd *Descriptor) {
	pd.State = Present
}

// SelectVictims chooses up to n descriptors in present_queue order whose
// state is Present, marks each Deferred and transitions it to Leaving,
// removes it from presentIndex and the eviction queue, and returns the
// chosen set. Descriptors transiently in Updating (mid write-upgrade) are
// skipped in place rather than selected.
func (b *Buffer) SelectVictims(n int) []*Descriptor {
	victims := make([]*Descriptor, 0, n)

	elem := b.presentQueue.Front()
	for elem != nil && len(victims) < n {
		next := elem.Next()
		pd := elem.Value.(*Descriptor)

		if pd.State != Present {
			elem = next
			continue
		}

		pd.Deferred = true
		pd.State = Leaving

		b.presentQueue.Remove(elem)
		delete(b.elemOf, pd)
		delete(b.presentIndex, pd.Addr)
		b.leaving[pd.Addr] = pd

		victims = append(victims, pd)
		elem = next
	}

	return victims
}

// Release returns a Leaving descriptor to the free list, clearing its dirty
// and deferred bits. Precondition: pd.State == Leaving.
func (b *Buffer) Release(pd *Descriptor) {
	delete(b.leaving, pd.Addr)

	pd.State = Free
	pd.Dirty = false
	pd.Deferred = false
	pd.Addr = 0

	b.freeList = append(b.freeList, pd)
	b.cond.Broadcast()
}

// FillLevel returns the number of descriptors currently in the eviction
// queue (Present, plus any transiently Updating).
func (b *Buffer) FillLevel() int {
	return b.presentQueue.Len()
}

// HighReached reports whether the fill level has reached the high
// watermark, meaning a THRESHOLD flush should be dispatched.
func (b *Buffer) HighReached() bool {
	return b.FillLevel() >= b.highWater
}

// LowReached reports whether the fill level has fallen to or below the low
// watermark, meaning bulk eviction can stop.
func (b *Buffer) LowReached() bool {
	return b.FillLevel() <= b.lowWater
}

// DirtyPresent returns a snapshot of descriptors currently Present and
// dirty, for Flush to write back in place without evicting them. Callers
// must hold the buffer lock while taking the snapshot, but the returned
// descriptors may change state again as soon as the lock is released.
func (b *Buffer) DirtyPresent() []*Descriptor {
	var dirty []*Descriptor
	for elem := b.presentQueue.Front(); elem != nil; elem = elem.Next() {
		pd := elem.Value.(*Descriptor)
		if pd.State == Present && pd.Dirty {
			dirty = append(dirty, pd)
		}
	}
	return dirty
}

// Capacity returns the maximum number of concurrently resident pages.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// EvictionQuota returns the number of victims a THRESHOLD dispatch should
// request: enough to bring the fill level down to the low watermark.
func (b *Buffer) EvictionQuota() int {
	return b.highWater - b.lowWater
}
