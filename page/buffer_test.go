/* SPDX-License-Identifier: BSD-2-Clause */

package page

import (
	"testing"
)

func TestNewBufferRejectsBadWatermarks(t *testing.T) {
	cases := []struct {
		capacity, low, high int
	}{
		{10, -1, 5},
		{10, 5, 5},
		{10, 8, 4},
		{10, 2, 11},
	}
	for _, c := range cases {
		if _, err := NewBuffer(c.capacity, c.low, c.high); err == nil {
			t.Errorf("NewBuffer(%d, %d, %d): expected error", c.capacity, c.low, c.high)
		}
	}
}

func TestAllocateFillRelease(t *testing.T) {
	b, err := NewBuffer(2, 0, 1)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	pd := b.Allocate(0x1000)
	if pd.State != Filling {
		t.Fatalf("state after Allocate = %s, want FILLING", pd.State)
	}
	if b.Lookup(0x1000) != pd {
		t.Fatalf("Lookup after Allocate did not return the allocated descriptor")
	}

	b.MarkPresent(pd)
	if pd.State != Present {
		t.Fatalf("state after MarkPresent = %s, want PRESENT", pd.State)
	}
	if got := b.FillLevel(); got != 1 {
		t.Fatalf("FillLevel = %d, want 1", got)
	}
}

func TestUpgradeForWriteRoundTrip(t *testing.T) {
	b, err := NewBuffer(2, 0, 1)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	pd := b.Allocate(0x2000)
	b.MarkPresent(pd)

	b.UpgradeForWrite(pd)
	if pd.State != Updating || !pd.Dirty {
		t.Fatalf("after UpgradeForWrite: state=%s dirty=%t, want UPDATING/true", pd.State, pd.Dirty)
	}
	if got := b.FillLevel(); got != 1 {
		t.Fatalf("FillLevel during Updating = %d, want 1 (still resident)", got)
	}

	b.MarkWritable(pd)
	if pd.State != Present {
		t.Fatalf("after MarkWritable: state=%s, want PRESENT", pd.State)
	}
	if !pd.Dirty {
		t.Fatalf("dirty bit cleared by MarkWritable, should persist until eviction")
	}
}

// TestInvariantAtMostOnePerAddress checks testable property 1: at most one
// descriptor in the present index maps to a given address.
func TestInvariantAtMostOnePerAddress(t *testing.T) {
	b, err := NewBuffer(4, 1, 3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	addrs := []uintptr{0x1000, 0x2000, 0x3000}
	for _, a := range addrs {
		pd := b.Allocate(a)
		b.MarkPresent(pd)
	}

	seen := make(map[uintptr]int)
	for _, a := range addrs {
		if b.Lookup(a) != nil {
			seen[a]++
		}
	}
	for a, n := range seen {
		if n != 1 {
			t.Errorf("address %#x present %d times, want exactly 1", a, n)
		}
	}
}

// TestInvariantLeavingExcludedFromIndexAndQueue checks testable property 2:
// a selected victim is deferred, absent from present_queue, and absent from
// present_index.
func TestInvariantLeavingExcludedFromIndexAndQueue(t *testing.T) {
	b, err := NewBuffer(4, 1, 3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	pd := b.Allocate(0x1000)
	b.MarkPresent(pd)

	victims := b.SelectVictims(1)
	if len(victims) != 1 {
		t.Fatalf("SelectVictims(1) returned %d victims, want 1", len(victims))
	}
	v := victims[0]
	if v.State != Leaving || !v.Deferred {
		t.Fatalf("victim state=%s deferred=%t, want LEAVING/true", v.State, v.Deferred)
	}
	if b.Lookup(0x1000) != nil {
		t.Fatalf("victim still reachable via Lookup after selection")
	}
	if got := b.FillLevel(); got != 0 {
		t.Fatalf("FillLevel after selecting the only resident page = %d, want 0", got)
	}
}

// TestInvariantFreeExcludedFromIndex checks testable property 3: a Free
// descriptor is reachable only via the free list, never via present_index.
func TestInvariantFreeExcludedFromIndex(t *testing.T) {
	b, err := NewBuffer(2, 0, 1)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	pd := b.Allocate(0x1000)
	b.MarkPresent(pd)
	victims := b.SelectVictims(1)
	b.Release(victims[0])

	if victims[0].State != Free {
		t.Fatalf("state after Release = %s, want FREE", victims[0].State)
	}
	if b.Lookup(0x1000) != nil {
		t.Fatalf("released descriptor still reachable via its old address")
	}

	pd2 := b.Allocate(0x9000)
	if pd2 != victims[0] {
		t.Fatalf("Allocate after Release did not reuse the freed slot")
	}
}

// TestInvariantQueueBoundedByCapacity checks testable property 4: the
// eviction queue never exceeds capacity.
func TestInvariantQueueBoundedByCapacity(t *testing.T) {
	capacity := 3
	b, err := NewBuffer(capacity, 1, 2)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	for i := 0; i < capacity; i++ {
		pd := b.Allocate(uintptr(0x1000 * (i + 1)))
		b.MarkPresent(pd)
	}
	if got := b.FillLevel(); got != capacity {
		t.Fatalf("FillLevel = %d, want %d", got, capacity)
	}
	if !b.HighReached() {
		t.Fatalf("HighReached() = false at full capacity with high watermark %d", 2)
	}
}

// TestAllocateBlocksOnSameAddressUntilRelease exercises the ordering
// guarantee: a new fill for an address currently being flushed must not
// proceed until Release runs for that address's descriptor.
func TestAllocateBlocksOnSameAddressUntilRelease(t *testing.T) {
	b, err := NewBuffer(1, 0, 1)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}

	pd := b.Allocate(0x5000)
	b.MarkPresent(pd)
	victims := b.SelectVictims(1)
	v := victims[0]

	done := make(chan *Descriptor)
	go func() {
		b.Lock()
		pd2 := b.Allocate(0x5000)
		b.Unlock()
		done <- pd2
	}()

	select {
	case <-done:
		t.Fatalf("Allocate returned before Release of the in-flight eviction")
	default:
	}

	b.Lock()
	b.Release(v)
	b.Unlock()

	pd2 := <-done
	if pd2 != v {
		t.Fatalf("Allocate after Release did not reuse the released slot")
	}
	if pd2.State != Filling {
		t.Fatalf("reallocated descriptor state = %s, want FILLING", pd2.State)
	}
}

func TestEvictionQuota(t *testing.T) {
	b, err := NewBuffer(10, 3, 8)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if got := b.EvictionQuota(); got != 5 {
		t.Fatalf("EvictionQuota = %d, want 5", got)
	}
}
