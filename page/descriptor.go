/* SPDX-License-Identifier: BSD-2-Clause */

// Package page implements the bounded page cache at the center of the
// page-fault service: a fixed-capacity buffer of resident pages, each
// tracked by state, dirty bit, and FIFO eviction order.
package page

import "fmt"

// State is the lifecycle stage of a Descriptor.
type State int

const (
	// Free descriptors sit on the free list, available for allocation.
	Free State = iota
	// Filling descriptors are reserved for a page whose contents are being
	// read from the store and installed into the mapping.
	Filling
	// Present descriptors hold a resident, installed page.
	Present
	// Updating descriptors are Present pages being upgraded to writable.
	Updating
	// Leaving descriptors have been selected for eviction and are owned
	// exclusively by a flush worker.
	Leaving
)

func (s State) String() string {
	switch s {
	case Free:
		return "FREE"
	case Filling:
		return "FILLING"
	case Present:
		return "PRESENT"
	case Updating:
		return "UPDATING"
	case Leaving:
		return "LEAVING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Descriptor represents one page slot in the Buffer.
type Descriptor struct {
	// Addr is the aligned virtual address of the page within the mapped
	// range. It identifies the slot's current page while resident.
	Addr uintptr

	State    State
	Dirty    bool
	Deferred bool
}

func (pd *Descriptor) String() string {
	return fmt.Sprintf("pd(addr=%#x, state=%s, dirty=%t, deferred=%t)", pd.Addr, pd.State, pd.Dirty, pd.Deferred)
}
