/* SPDX-License-Identifier: BSD-2-Clause */

package uffd

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Event is one page-fault notification delivered by a Listener.
// A zero-value-like Event with IsShutdown set is the sentinel delivered
// after Stop has been called.
type Event struct {
	Addr       uintptr
	IsWrite    bool
	IsShutdown bool
}

var shutdownEvent = Event{IsShutdown: true}

// Listener subscribes to userfaultfd(2) page-fault notifications on a
// registered virtual range and exposes the commands needed to resolve them.
type Listener struct {
	uffd     *Uffd
	base     uintptr
	length   uintptr
	pageSize uintptr

	maxEvents int

	stopR, stopW int
	stopped      bool
}

// NewListener creates a userfaultfd instance, registers [base, base+length)
// for missing-page and write-protect handling, and returns a Listener ready
// to serve GetEvents. pageSize must equal length's alignment quantum and be
// a power of two.
func NewListener(base, length uintptr, pageSize int, maxEvents int) (*Listener, error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("uffd: page size %d is not a power of two", pageSize)
	}

	u, err := New(0, UFFD_FEATURE_PAGEFAULT_FLAG_WP)
	if err != nil {
		// Write-protect faults are required for the write-on-clean-page
		// upgrade path; without the feature we can still serve
		// missing-page faults, so retry without it rather than failing
		// outright.
		u, err = New(0, 0)
		if err != nil {
			return nil, err
		}
	}

	mode := UFFDIO_REGISTER_MODE_MISSING
	if u.Features()&UFFD_FEATURE_PAGEFAULT_FLAG_WP != 0 {
		mode |= UFFDIO_REGISTER_MODE_WP
	}
	if _, err := u.Register(base, int(length), mode); err != nil {
		u.Close()
		return nil, err
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		u.Unregister(base, int(length))
		u.Close()
		return nil, os.NewSyscallError("pipe2", err)
	}

	return &Listener{
		uffd:      u,
		base:      base,
		length:    length,
		pageSize:  uintptr(pageSize),
		maxEvents: maxEvents,
		stopR:     fds[0],
		stopW:     fds[1],
	}, nil
}

func (l *Listener) align(addr uintptr) uintptr {
	return addr &^ (l.pageSize - 1)
}

// GetEvents blocks until at least one event is available, then returns a
// non-empty batch drained without further blocking (up to maxEvents). It
// returns a one-element batch containing the shutdown sentinel once Stop has
// been called.
func (l *Listener) GetEvents() []Event {
	if l.stopped {
		return []Event{shutdownEvent}
	}

	pfds := []unix.PollFd{
		{Fd: int32(l.uffd.Fd()), Events: unix.POLLIN},
		{Fd: int32(l.stopR), Events: unix.POLLIN},
	}

	for {
		_, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			l.stopped = true
			return []Event{shutdownEvent}
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			var b [1]byte
			unix.Read(l.stopR, b[:])
			l.stopped = true
			return []Event{shutdownEvent}
		}
		if pfds[0].Revents&unix.POLLIN != 0 {
			break
		}
	}

	events := make([]Event, 0, l.maxEvents)
	for len(events) < l.maxEvents {
		msg, err := l.uffd.ReadMsg()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			break
		}
		if msg.Event != UFFD_EVENT_PAGEFAULT {
			continue
		}
		pf := msg.GetPagefault()
		events = append(events, Event{
			Addr:    l.align(uintptr(pf.Address)),
			IsWrite: pf.Flags&UFFD_PAGEFAULT_FLAG_WRITE != 0,
		})
	}

	return events
}

// InstallPage atomically maps the page at addr to physical memory whose
// contents come from src, which must be exactly one page long. writeEnabled
// controls whether the page is initially writable or write-protected.
func (l *Listener) InstallPage(addr uintptr, src []byte, writeEnabled bool) error {
	if len(src) == 0 {
		return fmt.Errorf("uffd: InstallPage: empty source buffer")
	}
	mode := 0
	if !writeEnabled && l.uffd.Features()&UFFD_FEATURE_PAGEFAULT_FLAG_WP != 0 {
		mode |= UFFDIO_COPY_MODE_WP
	}
	srcAddr := uintptr(unsafe.Pointer(&src[0]))
	_, err := l.uffd.Copy(addr, srcAddr, len(src), mode)
	return err
}

// EnableWrites removes write protection on an already-installed page.
func (l *Listener) EnableWrites(addr uintptr) error {
	return l.uffd.WriteProtect(addr, int(l.pageSize), 0)
}

// DisableWrites re-applies write protection before eviction.
func (l *Listener) DisableWrites(addr uintptr) error {
	return l.uffd.WriteProtect(addr, int(l.pageSize), UFFDIO_WRITEPROTECT_MODE_WP)
}

// PageBytes returns a slice aliasing the live page at addr, for a flush
// worker to read dirty content out of the mapping before writing it back.
// The slice is only valid until the page is evicted.
func (l *Listener) PageBytes(addr uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(l.pageSize))
}

// Evict releases the physical backing of the page at addr via
// MADV_DONTNEED, without unregistering the virtual range: a subsequent
// access re-triggers a fault the Coordinator will service as a fresh fill.
func (l *Listener) Evict(addr uintptr) error {
	return unix.Madvise(l.PageBytes(addr), unix.MADV_DONTNEED)
}

// Stop causes the next (or current) GetEvents call to return the shutdown
// sentinel. It is safe to call more than once.
func (l *Listener) Stop() {
	var b [1]byte
	unix.Write(l.stopW, b[:])
}

// Close unregisters the range and releases the underlying file descriptors.
// Callers must call Stop and allow any blocked GetEvents to return before
// calling Close.
func (l *Listener) Close() error {
	unix.Close(l.stopR)
	unix.Close(l.stopW)
	_ = l.uffd.Unregister(l.base, int(l.length))
	return l.uffd.Close()
}
