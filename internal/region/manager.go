// Package region owns the address space of user pages: the
// doubly-linked, address-ordered chain of every block currently in
// use, the unordered free and pending-free lists, and the
// block_lookup reverse map from page index to owning descriptor.
// spec.md §4.3 describes all four structures; this package is where
// they live together, since the placement layer (internal/placement)
// only ever needs to ask "give me N pages" or "release this block",
// never to manipulate the chain directly.
package region

import (
	"github.com/insomniac-tools/debugheap/internal/blockinfo"
	"github.com/insomniac-tools/debugheap/internal/herr"
)

// Manager tracks every descriptor covering the heap's P-page user
// area. It owns no virtual memory itself — internal/placement commits
// and decommits pages through a vm.Driver around the calls here.
type Manager struct {
	arena      *blockinfo.Arena
	totalPages uint32

	head, tail *blockinfo.Descriptor // address-ordered chain

	freeList    []*blockinfo.Descriptor
	pendingList []*blockinfo.Descriptor

	// lookup maps every page index owned by a block — payload pages and
	// its trailing guard page alike — to that block's descriptor. A
	// pointer anywhere inside a block, including an interior pointer
	// past the first payload page, resolves to its descriptor in O(1).
	// This is spec.md §3's block_lookup reverse map, sized P.
	lookup []*blockinfo.Descriptor
}

// New builds a Manager over a totalPages-page user area, all of it
// initially one free block, backed by descriptors drawn from arena.
func New(arena *blockinfo.Arena, totalPages uint32) *Manager {
	m := &Manager{
		arena:      arena,
		totalPages: totalPages,
		lookup:     make([]*blockinfo.Descriptor, totalPages),
	}
	d := arena.Alloc(0, totalPages, blockinfo.DescFree)
	m.head, m.tail = d, d
	m.freeList = append(m.freeList, d)
	m.setSpan(d)
	return m
}

// TotalPages reports the size of the user area in pages.
func (m *Manager) TotalPages() uint32 { return m.totalPages }

// Lookup returns the descriptor owning pageIndex, or nil if that page
// belongs to no current block.
func (m *Manager) Lookup(pageIndex uint32) *blockinfo.Descriptor {
	if pageIndex >= uint32(len(m.lookup)) {
		return nil
	}
	return m.lookup[pageIndex]
}

// setSpan (re)points every page index in [d.PageIndex, d.PageIndex+d.PageCount)
// at d, overwriting whatever span a since-retired neighbour left there.
func (m *Manager) setSpan(d *blockinfo.Descriptor) {
	for i := d.PageIndex; i < d.PageIndex+d.PageCount; i++ {
		m.lookup[i] = d
	}
}

// clearSpan nils every page index in d's span. Called only when d is
// being retired entirely (its range absorbed by a coalescing
// neighbour) — a split or resize instead calls setSpan on the
// surviving descriptor(s), which overwrites the relevant entries.
func (m *Manager) clearSpan(d *blockinfo.Descriptor) {
	for i := d.PageIndex; i < d.PageIndex+d.PageCount; i++ {
		m.lookup[i] = nil
	}
}

// TakeBestFit finds the smallest free block able to hold pagesWanted
// pages, splitting off the remainder as a new free block when the
// match is not exact, and returns it retagged DescAllocated. Reports
// ok=false if no free block is large enough.
//
// The scan is linear best-fit over the unordered free list, exactly
// original_source/DebugHeap.c's AllocFromFreeList: ties go to whichever
// candidate is found first, since the free list carries no secondary
// order to break them by.
func (m *Manager) TakeBestFit(pagesWanted uint32) (*blockinfo.Descriptor, bool) {
	bestIdx := -1
	for i, d := range m.freeList {
		if d.PageCount < pagesWanted {
			continue
		}
		if bestIdx == -1 || d.PageCount < m.freeList[bestIdx].PageCount {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return nil, false
	}
	d := m.freeList[bestIdx]
	m.removeFreeAt(bestIdx)

	if d.PageCount > pagesWanted {
		tailIndex := d.PageIndex + pagesWanted
		tailCount := d.PageCount - pagesWanted
		tail := m.arena.Alloc(tailIndex, tailCount, blockinfo.DescFree)
		m.insertAfter(d, tail)
		d.Resize(pagesWanted)
		m.setSpan(d)
		m.setSpan(tail)
		m.freeList = append(m.freeList, tail)
	}

	d.Retag(blockinfo.DescAllocated)
	return d, true
}

// EnqueuePending retags d DescPendingFree and defers its release to
// the next FlushPending, the deferred-free window spec.md §4.3 uses
// to widen the use-after-free detection window: a block that's just
// been freed keeps its address range out of reuse instead of being
// immediately recycled.
func (m *Manager) EnqueuePending(d *blockinfo.Descriptor) {
	d.Retag(blockinfo.DescPendingFree)
	m.pendingList = append(m.pendingList, d)
}

// FlushPending coalesces every block on the pending list with any
// immediately adjacent Free neighbour (never another PendingFree
// block — that is only safe once the neighbour has itself been
// flushed) and moves the result onto the free list. Left-coalesce runs
// before right-coalesce, matching
// original_source/DebugHeap.c's FlushPendingFrees.
func (m *Manager) FlushPending() {
	pending := m.pendingList
	m.pendingList = nil

	for _, d := range pending {
		if prev := d.Prev; prev != nil && prev.State == blockinfo.DescFree {
			m.removeFreeListEntry(prev)
			m.unlinkChain(prev)
			m.clearSpan(prev)
			d.Relocate(prev.PageIndex, d.PageCount+prev.PageCount)
			m.arena.Free(prev)
		}
		if next := d.Next; next != nil && next.State == blockinfo.DescFree {
			m.removeFreeListEntry(next)
			m.unlinkChain(next)
			m.clearSpan(next)
			d.Resize(d.PageCount + next.PageCount)
			m.arena.Free(next)
		}
		d.Retag(blockinfo.DescFree)
		m.setSpan(d)
		m.freeList = append(m.freeList, d)
	}
}

// removeFreeAt removes the free list entry at index i via
// swap-with-last, the O(1) removal original_source's DebugHeap.c and
// the teacher repo's block_manager.go both use for their unordered
// free-block arrays.
func (m *Manager) removeFreeAt(i int) {
	last := len(m.freeList) - 1
	m.freeList[i] = m.freeList[last]
	m.freeList = m.freeList[:last]
}

func (m *Manager) removeFreeListEntry(d *blockinfo.Descriptor) {
	for i, e := range m.freeList {
		if e == d {
			m.removeFreeAt(i)
			return
		}
	}
	herr.Throw(herr.CategoryMemory, "CORRUPTED", "free descriptor missing from free list", map[string]any{"pageIndex": d.PageIndex})
}

func (m *Manager) insertAfter(at, d *blockinfo.Descriptor) {
	d.Prev = at
	d.Next = at.Next
	if at.Next != nil {
		at.Next.Prev = d
	} else {
		m.tail = d
	}
	at.Next = d
}

func (m *Manager) unlinkChain(d *blockinfo.Descriptor) {
	if d.Prev != nil {
		d.Prev.Next = d.Next
	} else {
		m.head = d.Next
	}
	if d.Next != nil {
		d.Next.Prev = d.Prev
	} else {
		m.tail = d.Prev
	}
	d.Prev, d.Next = nil, nil
}

// Walk calls fn for every descriptor in address order, for tests that
// check global invariants (spec.md §8's "no adjacent free after
// flush" and "descriptor conservation").
func (m *Manager) Walk(fn func(*blockinfo.Descriptor)) {
	for d := m.head; d != nil; d = d.Next {
		fn(d)
	}
}

// PendingCount reports the number of blocks currently awaiting flush.
func (m *Manager) PendingCount() int { return len(m.pendingList) }

// FreeCount reports the number of blocks currently on the free list.
func (m *Manager) FreeCount() int { return len(m.freeList) }
