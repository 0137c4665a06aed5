/* SPDX-License-Identifier: BSD-2-Clause */

// Package workqueue defines the bounded, multi-producer/multi-consumer work
// queues that carry tagged work items from the Coordinator to the
// FillWorker and FlushWorker pools.
package workqueue

import "github.com/faultmap/umap/page"

// Kind tags the variant of a work Item, per the design note preferring a
// tagged variant over a class hierarchy.
type Kind int

const (
	// Fill reads one page from the store and installs it.
	Fill Kind = iota
	// WriteUnprotect removes write protection from an already-resident
	// clean page that has just taken a write fault.
	WriteUnprotect
	// EvictOne flushes and frees a single selected victim.
	EvictOne
	// Threshold asks the buffer to select a batch of victims and fans out
	// one EvictOne item per victim.
	Threshold
)

func (k Kind) String() string {
	switch k {
	case Fill:
		return "FILL"
	case WriteUnprotect:
		return "WRITE_UNPROTECT"
	case EvictOne:
		return "EVICT_ONE"
	case Threshold:
		return "THRESHOLD"
	default:
		return "UNKNOWN"
	}
}

// Item is a tagged union of the four kinds of work the fault-service
// pipeline dispatches. Only the fields relevant to Kind are populated;
// FillWorker and FlushWorker inspect Kind before touching Descriptor.
type Item struct {
	Kind       Kind
	Descriptor *page.Descriptor

	// Quota is the number of victims a Threshold item should request from
	// the buffer (high_watermark - low_watermark).
	Quota int

	// Attempt counts prior tries at this EvictOne item: 0 on first dispatch,
	// 1 after being re-queued once following a failed write-back.
	Attempt int
}
