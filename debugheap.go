// Package debugheap is a page-protection debug allocator: every
// allocation gets its own run of pages plus a trailing decommitted
// guard page, so an overrun or a use-after-free faults on real hardware
// instead of silently corrupting a neighbouring allocation, and
// concurrent unsynchronized access trips a reentrancy check. It trades memory for
// detectability and is meant for instrumented builds and test runs,
// not production heaps.
//
// The design is a direct Go port of deplinenoise/ig-debugheap (see
// original_source/ in the retrieval pack this module was built from):
// same four-layer split (VM driver, descriptor arena, region manager,
// placement), same best-fit-with-split and deferred-coalesce-on-flush
// algorithms, same guard-page-and-sentinel placement strategy — but
// expressed as Go interfaces and slices rather than C structs laid out
// by hand inside a second, self-hosted VM reservation. See DESIGN.md
// for where the two diverge and why.
package debugheap

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/insomniac-tools/debugheap/internal/blockinfo"
	"github.com/insomniac-tools/debugheap/internal/herr"
	"github.com/insomniac-tools/debugheap/internal/placement"
	"github.com/insomniac-tools/debugheap/internal/region"
	"github.com/insomniac-tools/debugheap/internal/vm"
)

// ErrOutOfMemory is returned by Allocate when the heap's user area,
// even after an implicit flush of pending frees, has no free block
// large enough to hold the request.
var ErrOutOfMemory = placement.ErrOutOfMemory

// minUserPages is the smallest heap worth constructing: one payload
// page and the guard page behind it.
const minUserPages = 2

// Heap is a single debug allocator instance. A Heap must not be copied
// after first use; the zero Heap is not usable, construct one with
// New.
type Heap struct {
	driver     vm.Driver
	mgr        *region.Manager
	place      *placement.Allocator
	arena      *blockinfo.Arena
	base       uintptr
	totalBytes uintptr

	// guard is the single-slot reentrancy guard spec.md §5 requires in
	// place of an internal mutex: every public operation increments it
	// on entry and decrements it on exit, and any value other than 1
	// while held means two goroutines (or a reentrant call from within
	// a callback) are inside the heap at once.
	guard int32

	closed atomic.Bool
}

// Option configures a Heap at construction.
type Option func(*config)

type config struct {
	driver vm.Driver
}

// WithDriver overrides the platform vm.Driver with one of the
// caller's choosing — principally vm.NewSim(), so tests can exercise
// the region manager and placement layer without real OS paging.
func WithDriver(d vm.Driver) Option {
	return func(c *config) { c.driver = d }
}

// New constructs a Heap whose user area holds approximately bytes
// worth of allocatable pages.
//
// Sizing policy (spec.md §9's design note on bookkeeping placement,
// resolved here): the original C implementation carves its own
// descriptor arena and lookup tables out of the same VM reservation as
// the pages it hands out, because it has no garbage-collected heap of
// its own to put them in. A Go port does, so the arena, the free and
// pending lists, and the block_lookup table all live as ordinary Go
// heap values — only the user pages themselves are reserved through
// the vm.Driver. bytes therefore sizes the user area directly
// (floor(bytes/vm.PageSize) pages) rather than also budgeting space
// for bookkeeping that no longer shares the reservation.
func New(bytes uintptr, opts ...Option) (*Heap, error) {
	cfg := config{driver: vm.NewDefault()}
	for _, opt := range opts {
		opt(&cfg)
	}

	pageCount := bytes / vm.PageSize
	if pageCount < minUserPages {
		pageCount = minUserPages
	}

	base := cfg.driver.Reserve(pageCount * vm.PageSize)

	arena := blockinfo.New(int(pageCount / 2))
	mgr := region.New(arena, uint32(pageCount))
	place := placement.New(cfg.driver, mgr, base)

	return &Heap{
		driver:     cfg.driver,
		mgr:        mgr,
		place:      place,
		arena:      arena,
		base:       base,
		totalBytes: pageCount * vm.PageSize,
	}, nil
}

// enter acquires the reentrancy guard, panicking with an
// *herr.Fault if the heap is already held.
func (h *Heap) enter() {
	if h.closed.Load() {
		herr.Throw(herr.CategoryValidation, "HEAP_CLOSED", "operation on a closed heap", nil)
	}
	if v := atomic.AddInt32(&h.guard, 1); v != 1 {
		atomic.AddInt32(&h.guard, -1)
		panic(herr.Reentrancy(v))
	}
}

func (h *Heap) leave() {
	if v := atomic.AddInt32(&h.guard, -1); v != 0 {
		panic(herr.Reentrancy(v))
	}
}

// Allocate reserves size bytes aligned to alignment, returning a
// pointer placed so that an overrun by even one byte past size crosses
// into a decommitted guard page. alignment must be a power of two;
// size must be greater than zero. Both violations, and any failure of
// the underlying virtual memory primitives, are fatal (panic with an
// *herr.Fault) rather than reported through the error return — only
// resource exhaustion (ErrOutOfMemory) is a soft failure.
func (h *Heap) Allocate(size, alignment uintptr) (unsafe.Pointer, error) {
	h.enter()
	defer h.leave()

	addr, err := h.place.Allocate(size, alignment)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(addr), nil
}

// Free releases the allocation at ptr. Freeing a pointer the heap does
// not consider a live allocation (never allocated here, already freed,
// or pointing into the block's guard page) is fatal.
func (h *Heap) Free(ptr unsafe.Pointer) error {
	h.enter()
	defer h.leave()

	return h.place.Free(uintptr(ptr))
}

// AllocSize reports the number of usable bytes remaining from ptr to
// the allocation's guard page. It returns an error, rather than
// panicking, when ptr does not address a live allocation — this is
// the one query spec.md treats as a soft failure so callers can probe
// a pointer's provenance without risking the process.
func (h *Heap) AllocSize(ptr unsafe.Pointer) (uintptr, error) {
	h.enter()
	defer h.leave()

	return h.place.AllocSize(uintptr(ptr))
}

// Owns reports whether ptr addresses a byte within a currently live
// allocation made by this heap.
func (h *Heap) Owns(ptr unsafe.Pointer) bool {
	h.enter()
	defer h.leave()

	return h.place.Owns(uintptr(ptr))
}

// Close releases the heap's entire virtual memory reservation. A
// closed Heap must not be used again. Unlike the other operations,
// closing an already-closed heap is a plain error rather than a fatal
// fault — there's no broken invariant in asking twice, just nothing
// left to do.
func (h *Heap) Close() error {
	if v := atomic.AddInt32(&h.guard, 1); v != 1 {
		atomic.AddInt32(&h.guard, -1)
		panic(herr.Reentrancy(v))
	}
	defer h.leave()

	if h.closed.Swap(true) {
		return errors.New("debugheap: heap already closed")
	}
	h.driver.Release(h.base, h.totalBytes)
	return nil
}
