// Package vm is the debug heap's virtual-memory capability: the only
// OS-touching code in the module (spec.md §9, "VM primitives as a
// capability"). Everything above this package talks to a Driver
// interface rather than to mmap/VirtualAlloc directly, which is what
// lets the region manager and placement layer be unit tested against
// an in-process simulated driver instead of real OS paging.
package vm

import "github.com/insomniac-tools/debugheap/internal/herr"

// PageSize is the fixed page granularity the whole heap is built
// around. spec.md §1 fixes it at 4096 bytes; it is not configurable.
const PageSize = 4096

// Driver exposes the four whole-page-range operations spec.md §4.1
// requires: reserve address space with no backing, commit a range to
// be readable/writable, decommit a range to be inaccessible and
// release its physical backing, and release an entire reservation.
//
// All addresses and lengths passed to a Driver are page-aligned and a
// whole multiple of PageSize; the caller (internal/placement) is
// responsible for that alignment. A Driver must
// never return a partial success — per spec.md §4.1 any failure here
// is fatal to the process using the heap, which is why every
// implementation of this interface panics with an *herr.Fault on
// failure rather than returning one; the `error` return on Commit and
// Decommit exists only so the gomock-generated expectations in
// vm_mock.go can assert on call arguments without also having to
// assert on a panic value.
type Driver interface {
	// Reserve obtains bytes of address space with no access rights
	// and no physical backing. The returned base is not dereferenceable
	// until Commit is called on some sub-range of it.
	Reserve(bytes uintptr) uintptr

	// Release returns the entire reservation rooted at base to the OS.
	Release(base, bytes uintptr)

	// Commit makes [addr, addr+bytes) readable and writable.
	Commit(addr, bytes uintptr) error

	// Decommit makes [addr, addr+bytes) inaccessible and releases its
	// physical backing; a subsequent Commit of the same range must not
	// observe the old contents.
	Decommit(addr, bytes uintptr) error
}

// requirePageAligned panics with a CategorySystem fault if addr or
// bytes is not a whole multiple of PageSize. The Unix, Windows and
// simulated drivers call this first in Release, Commit and Decommit
// (Reserve takes no address and does not), so a misuse bug in the layers above
// vm is caught at the boundary rather than silently truncated by the
// OS call underneath.
func requirePageAligned(op string, addr, bytes uintptr) {
	if bytes == 0 || bytes%PageSize != 0 || addr%PageSize != 0 {
		herr.Throw(herr.CategorySystem, "VM_MISALIGNED",
			"virtual memory operation received a non-page-aligned range",
			map[string]any{"op": op, "addr": addr, "bytes": bytes})
	}
}
