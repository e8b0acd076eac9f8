// Package blockinfo implements the fixed-capacity arena of block
// descriptors that spec.md §3 calls for: every live or pending-free
// allocation owns exactly one Descriptor, handed out of and returned
// to an intrusive unused-descriptor free list rather than allocated
// from the Go heap, so the debug heap itself never touches the
// garbage collector on its hot path.
package blockinfo

import (
	"unsafe"

	"golang.org/x/crypto/blake2b"

	"github.com/insomniac-tools/debugheap/internal/herr"
)

// DescState is the explicit state enum spec.md §9 asks for in place of
// the original C implementation's packed bitfields (m_Allocated,
// m_PendingFree) — a Go descriptor has one state, not two independent
// booleans that happen to be mutually exclusive in practice.
type DescState uint8

const (
	// DescUnused marks a descriptor sitting on the arena's unused list;
	// every field except the intrusive next-unused link is meaningless.
	DescUnused DescState = iota
	// DescFree marks a descriptor describing a free region block.
	DescFree
	// DescAllocated marks a descriptor describing a live allocation.
	DescAllocated
	// DescPendingFree marks a descriptor describing a block that Free
	// has released (and decommitted) but FlushPending has not yet
	// coalesced or returned to the free list — the deferred-reuse window
	// spec.md §4.3 relies on to widen use-after-free detection.
	DescPendingFree
)

func (s DescState) String() string {
	switch s {
	case DescUnused:
		return "unused"
	case DescFree:
		return "free"
	case DescAllocated:
		return "allocated"
	case DescPendingFree:
		return "pending-free"
	default:
		return "invalid"
	}
}

// invalidPattern is stamped across PageIndex/PageCount when a
// descriptor is returned to the unused list, mirroring
// original_source/DebugHeap.c's FreeBlockInfo poisoning of a retired
// DebugBlockInfo so a stale pointer into it reads obvious garbage
// instead of a plausible-looking block.
const invalidPattern uint32 = 0xfcfcfcfc

// Descriptor describes one block of pages: either a free run available
// for allocation, a live allocation, or a pending-free allocation
// awaiting coalesce. It never moves once handed out by Arena.Alloc, so
// pointers to it are stable for as long as it is in use.
type Descriptor struct {
	PageIndex uint32
	PageCount uint32
	State     DescState

	// Prev/Next form the region manager's doubly-linked, address-ordered
	// chain over every descriptor currently in use (free, allocated or
	// pending-free) — spec.md §4.3's region chain.
	Prev *Descriptor
	Next *Descriptor

	checksum   [blake2b.Size256]byte
	nextUnused int32 // valid only while State == DescUnused; -1 is list-end
}

// index reports this descriptor's position in its owning Arena. It is
// recomputed from the pointer rather than stored redundantly, since a
// stored copy could itself be corrupted independently of the slice
// position.
func (a *Arena) index(d *Descriptor) int32 {
	base := unsafe.Pointer(&a.descriptors[0])
	offset := uintptr(unsafe.Pointer(d)) - uintptr(base)
	return int32(offset / unsafe.Sizeof(Descriptor{}))
}

// stamp recomputes and stores the integrity checksum over the fields
// that must not change behind the region manager's back. This is a
// domain-stack addition beyond spec.md: the original XOR header
// checksum in the teacher's region allocator (calculateHeaderChecksum
// in SeleniaProject-Orizon's internal/runtime/region_alloc.go) inspired
// the idea, but a single XOR cannot catch a swapped pair of equal-XOR
// fields, so this uses blake2b-256 instead, layered on top of (not
// replacing) the invalid-pattern check spec.md itself requires.
func (d *Descriptor) stamp() {
	var buf [9]byte
	buf[0] = byte(d.State)
	putU32(buf[1:5], d.PageIndex)
	putU32(buf[5:9], d.PageCount)
	d.checksum = blake2b.Sum256(buf[:])
}

// Verify reports herr.Corrupted if the descriptor's stored checksum no
// longer matches its fields, or if its fields fail the cheaper
// invalid-pattern check spec.md §3 specifies directly.
func (d *Descriptor) Verify() error {
	if d.PageIndex == invalidPattern || d.PageCount == invalidPattern {
		return herr.Corrupted("blockinfo.Descriptor", "descriptor carries the invalid-pattern sentinel but is not on the unused list")
	}
	var buf [9]byte
	buf[0] = byte(d.State)
	putU32(buf[1:5], d.PageIndex)
	putU32(buf[5:9], d.PageCount)
	want := blake2b.Sum256(buf[:])
	if want != d.checksum {
		return herr.Corrupted("blockinfo.Descriptor", "checksum mismatch: descriptor fields were modified without going through Arena")
	}
	return nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Arena is the fixed-capacity pool of descriptors backing a single
// heap instance. Its capacity is fixed at construction — spec.md §3
// sizes it at floor(P/2), the maximum number of allocations that can
// coexist in a P-page user area once each occupies at least its own
// page plus a one-page guard.
type Arena struct {
	descriptors []Descriptor
	firstUnused int32 // -1 when the unused list is empty
}

// New builds an Arena with room for exactly capacity descriptors, all
// initially unused and chained together.
func New(capacity int) *Arena {
	a := &Arena{
		descriptors: make([]Descriptor, capacity),
		firstUnused: 0,
	}
	for i := range a.descriptors {
		a.descriptors[i].State = DescUnused
		a.descriptors[i].PageIndex = invalidPattern
		a.descriptors[i].PageCount = invalidPattern
		if i == capacity-1 {
			a.descriptors[i].nextUnused = -1
		} else {
			a.descriptors[i].nextUnused = int32(i + 1)
		}
	}
	if capacity == 0 {
		a.firstUnused = -1
	}
	return a
}

// Cap reports the arena's fixed descriptor capacity.
func (a *Arena) Cap() int { return len(a.descriptors) }

// At returns the descriptor at the given arena index, for
// reconstructing a *Descriptor from a block_lookup entry.
func (a *Arena) At(index int32) *Descriptor { return &a.descriptors[index] }

// Alloc pops one descriptor off the unused list and initializes it to
// describe [pageIndex, pageIndex+pageCount) with the given state.
// Panics with herr.ArenaExhausted if the arena has nothing left —
// spec.md §9 treats descriptor-arena exhaustion the same as
// address-space exhaustion, a hard stop rather than a soft nil.
func (a *Arena) Alloc(pageIndex, pageCount uint32, state DescState) *Descriptor {
	if a.firstUnused < 0 {
		herr.Throw(herr.CategoryMemory, "ARENA_EXHAUSTED", "descriptor arena exhausted", map[string]any{"capacity": a.Cap()})
	}
	d := &a.descriptors[a.firstUnused]
	if d.State != DescUnused || d.PageIndex != invalidPattern || d.PageCount != invalidPattern {
		panic(herr.Corrupted("blockinfo.Arena", "unused descriptor no longer carries the invalid pattern"))
	}
	a.firstUnused = d.nextUnused
	d.PageIndex = pageIndex
	d.PageCount = pageCount
	d.State = state
	d.Prev = nil
	d.Next = nil
	d.stamp()
	return d
}

// Free returns d to the unused list, stamping the invalid pattern
// across its fields first so a dangling pointer into it reads garbage
// rather than a plausible block.
func (a *Arena) Free(d *Descriptor) {
	idx := a.index(d)
	d.State = DescUnused
	d.PageIndex = invalidPattern
	d.PageCount = invalidPattern
	d.Prev = nil
	d.Next = nil
	d.nextUnused = a.firstUnused
	a.firstUnused = idx
}

// Retag changes d's state in place and refreshes its checksum. Used by
// the region manager when a descriptor transitions Free -> Allocated,
// Allocated -> PendingFree, or PendingFree -> Free (on coalesce).
func (d *Descriptor) Retag(state DescState) {
	d.State = state
	d.stamp()
}

// Resize changes d's PageCount in place (used when the placement layer
// splits a free block) and refreshes its checksum.
func (d *Descriptor) Resize(pageCount uint32) {
	d.PageCount = pageCount
	d.stamp()
}

// Relocate changes both PageIndex and PageCount in place (used when
// FlushPending left-coalesces d with its lower neighbour, which moves
// d's starting page) and refreshes its checksum.
func (d *Descriptor) Relocate(pageIndex, pageCount uint32) {
	d.PageIndex = pageIndex
	d.PageCount = pageCount
	d.stamp()
}
