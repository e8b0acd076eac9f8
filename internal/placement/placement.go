// Package placement is the top of the allocator stack: it turns a
// (size, alignment) request into page counts, asks internal/region for
// a best-fit block, commits and decommits the right pages through a
// vm.Driver, and places the user pointer so that an overrun of the
// allocation crosses into a decommitted guard page. spec.md §4.4
// describes this component; original_source/DebugHeap.c's
// FinalizeAlloc is the algorithm it mirrors.
package placement

import (
	"errors"
	"unsafe"

	"github.com/insomniac-tools/debugheap/internal/blockinfo"
	"github.com/insomniac-tools/debugheap/internal/herr"
	"github.com/insomniac-tools/debugheap/internal/region"
	"github.com/insomniac-tools/debugheap/internal/vm"
)

// ErrOutOfMemory is returned by Allocate when no free block (even
// after a flush) is large enough to satisfy a request — spec.md §7's
// one soft failure: a resource limit, not a broken invariant, so
// callers get an error value back instead of a panic.
var ErrOutOfMemory = errors.New("debugheap: out of memory")

// sentinelByte fills the unused slack between a committed page's start
// and the user pointer, matching original_source/DebugHeap.c's 0xFC
// fill in FinalizeAlloc.
const sentinelByte = 0xfc

// Allocator places allocations within a region.Manager's page space
// and drives the underlying vm.Driver's commit/decommit calls around
// every placement decision.
type Allocator struct {
	driver vm.Driver
	mgr    *region.Manager
	base   uintptr
}

// New builds an Allocator over an already-reserved base address of
// mgr.TotalPages() pages.
func New(driver vm.Driver, mgr *region.Manager, base uintptr) *Allocator {
	return &Allocator{driver: driver, mgr: mgr, base: base}
}

func (a *Allocator) pageAddr(pageIndex uint32) uintptr {
	return a.base + uintptr(pageIndex)*vm.PageSize
}

func (a *Allocator) pageIndexOf(ptr uintptr) (uint32, bool) {
	end := a.base + uintptr(a.mgr.TotalPages())*vm.PageSize
	if ptr < a.base || ptr >= end {
		return 0, false
	}
	return uint32((ptr - a.base) / vm.PageSize), true
}

// Allocate places a size-byte, alignment-aligned allocation, returning
// the address of the allocation's first byte placed so that writing
// past it crosses into a decommitted guard page.
//
// Interior-pointer policy (spec.md §9's open question, resolved here
// rather than left unspecified): this implementation does not retain
// the exact offset FinalizeAlloc computed for each allocation, only
// the block's page range. Free, AllocSize and Owns therefore all
// accept any address within [block start, guard page) as referring to the
// allocation — AllocSize reports the bytes remaining from the exact
// address given, not the original requested size. A caller that wants
// "was this exactly what Allocate returned" must keep that pointer
// itself; the heap does not distinguish it from a valid interior
// pointer. See DESIGN.md for the rationale.
func (a *Allocator) Allocate(size, alignment uintptr) (uintptr, error) {
	if size == 0 {
		panic(herr.InvalidSize(size))
	}
	if alignment == 0 || alignment&(alignment-1) != 0 {
		panic(herr.InvalidAlignment(alignment))
	}

	payloadPages := uint32((size + vm.PageSize - 1) / vm.PageSize)
	wanted := payloadPages + 1 // + trailing guard page

	d, ok := a.mgr.TakeBestFit(wanted)
	if !ok {
		a.mgr.FlushPending()
		d, ok = a.mgr.TakeBestFit(wanted)
		if !ok {
			return 0, ErrOutOfMemory
		}
	}

	payloadStart := a.pageAddr(d.PageIndex)
	payloadBytes := uintptr(payloadPages) * vm.PageSize
	guardStart := payloadStart + payloadBytes

	if err := a.driver.Commit(payloadStart, payloadBytes); err != nil {
		panic(herr.VMFailure("commit", err))
	}
	if err := a.driver.Decommit(guardStart, vm.PageSize); err != nil {
		panic(herr.VMFailure("decommit-guard", err))
	}

	slack := payloadBytes - size
	alignedOffset := slack &^ (alignment - 1)

	if alignedOffset > 0 {
		pad := unsafe.Slice((*byte)(unsafe.Pointer(payloadStart)), alignedOffset)
		for i := range pad {
			pad[i] = sentinelByte
		}
	}

	return payloadStart + alignedOffset, nil
}

// Free retires the allocation addressed by ptr, deferring its free
// list return to the next flush so the address is not immediately
// recycled (widening the use-after-free detection window) while
// decommitting its payload pages right away (so a stale read or write
// faults immediately rather than waiting for the flush).
func (a *Allocator) Free(ptr uintptr) error {
	d, ok := a.resolveAllocated(ptr)
	if !ok {
		panic(herr.DoubleFree(ptr))
	}

	payloadPages := d.PageCount - 1
	payloadStart := a.pageAddr(d.PageIndex)
	if err := a.driver.Decommit(payloadStart, uintptr(payloadPages)*vm.PageSize); err != nil {
		panic(herr.VMFailure("decommit", err))
	}

	a.mgr.EnqueuePending(d)
	return nil
}

// AllocSize reports the number of usable bytes remaining from ptr to
// the start of the block's guard page.
func (a *Allocator) AllocSize(ptr uintptr) (uintptr, error) {
	d, ok := a.resolveAllocated(ptr)
	if !ok {
		return 0, herr.InvalidPointer(ptr)
	}
	guardStart := a.pageAddr(d.PageIndex + d.PageCount - 1)
	return guardStart - ptr, nil
}

// Owns reports whether ptr addresses a byte within a currently live
// allocation.
func (a *Allocator) Owns(ptr uintptr) bool {
	_, ok := a.resolveAllocated(ptr)
	return ok
}

func (a *Allocator) resolveAllocated(ptr uintptr) (*blockinfo.Descriptor, bool) {
	pageIndex, inRange := a.pageIndexOf(ptr)
	if !inRange {
		return nil, false
	}
	d := a.mgr.Lookup(pageIndex)
	if d == nil || d.State != blockinfo.DescAllocated {
		return nil, false
	}
	// a pointer inside the block's trailing guard page was never handed
	// out by Allocate and can't be a valid interior pointer either.
	guardStart := a.pageAddr(d.PageIndex + d.PageCount - 1)
	if ptr >= guardStart {
		return nil, false
	}
	return d, true
}
