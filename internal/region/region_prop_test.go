package region

import (
	"math/rand"
	"testing"

	"github.com/insomniac-tools/debugheap/internal/blockinfo"
	"github.com/insomniac-tools/debugheap/internal/proptest"
)

const propTotalPages = 64

type action struct {
	kind string // "alloc", "free", "flush"
	size uint32
}

func genActions(r *rand.Rand) []action {
	n := 1 + r.Intn(40)
	actions := make([]action, n)
	for i := range actions {
		switch r.Intn(3) {
		case 0:
			actions[i] = action{kind: "alloc", size: uint32(1 + r.Intn(6))}
		case 1:
			actions[i] = action{kind: "free"}
		default:
			actions[i] = action{kind: "flush"}
		}
	}
	return actions
}

// TestPropertyDescriptorConservation is spec.md §8's "descriptor
// conservation" invariant: the sum of every in-chain descriptor's
// PageCount always equals the manager's total page count, no matter
// what sequence of allocs/frees/flushes ran.
func TestPropertyDescriptorConservation(t *testing.T) {
	proptest.ForAll1(t, proptest.Options{Trials: 200, Seed: 1}, genActions, func(t *testing.T, actions []action) bool {
		arena := blockinfo.New(propTotalPages)
		m := New(arena, propTotalPages)
		var live []*blockinfo.Descriptor

		for _, act := range actions {
			switch act.kind {
			case "alloc":
				if d, ok := m.TakeBestFit(act.size); ok {
					live = append(live, d)
				}
			case "free":
				if len(live) > 0 {
					m.EnqueuePending(live[0])
					live = live[1:]
				}
			case "flush":
				m.FlushPending()
			}
		}

		var total uint32
		m.Walk(func(d *blockinfo.Descriptor) { total += d.PageCount })
		if total != propTotalPages {
			t.Errorf("descriptor conservation violated: chain covers %d pages, want %d", total, propTotalPages)
			return false
		}
		return true
	})
}

// TestPropertyLookupSoundness is spec.md §8's "lookup soundness"
// invariant: every non-nil block_lookup entry points to a descriptor
// whose page range actually contains that index.
func TestPropertyLookupSoundness(t *testing.T) {
	proptest.ForAll1(t, proptest.Options{Trials: 200, Seed: 2}, genActions, func(t *testing.T, actions []action) bool {
		arena := blockinfo.New(propTotalPages)
		m := New(arena, propTotalPages)
		var live []*blockinfo.Descriptor

		for _, act := range actions {
			switch act.kind {
			case "alloc":
				if d, ok := m.TakeBestFit(act.size); ok {
					live = append(live, d)
				}
			case "free":
				if len(live) > 0 {
					m.EnqueuePending(live[0])
					live = live[1:]
				}
			case "flush":
				m.FlushPending()
			}
		}

		for i := uint32(0); i < propTotalPages; i++ {
			d := m.Lookup(i)
			if d == nil {
				continue
			}
			if i < d.PageIndex || i >= d.PageIndex+d.PageCount {
				t.Errorf("lookup[%d] points at descriptor covering [%d,%d)", i, d.PageIndex, d.PageIndex+d.PageCount)
				return false
			}
		}
		return true
	})
}

// TestPropertyNoAdjacentFreeAfterFlush is spec.md §8's "no adjacent
// free after flush" invariant.
func TestPropertyNoAdjacentFreeAfterFlush(t *testing.T) {
	proptest.ForAll1(t, proptest.Options{Trials: 200, Seed: 3}, genActions, func(t *testing.T, actions []action) bool {
		arena := blockinfo.New(propTotalPages)
		m := New(arena, propTotalPages)
		var live []*blockinfo.Descriptor

		for _, act := range actions {
			switch act.kind {
			case "alloc":
				if d, ok := m.TakeBestFit(act.size); ok {
					live = append(live, d)
				}
			case "free":
				if len(live) > 0 {
					m.EnqueuePending(live[0])
					live = live[1:]
				}
			case "flush":
				m.FlushPending()
			}
		}
		m.FlushPending()

		prevFree := false
		ok := true
		m.Walk(func(d *blockinfo.Descriptor) {
			isFree := d.State == blockinfo.DescFree
			if prevFree && isFree {
				ok = false
			}
			prevFree = isFree
		})
		if !ok {
			t.Error("two adjacent free blocks survived a flush")
		}
		return ok
	})
}

// TestPropertyNoLeakOnFullCycle is spec.md §8's "no leak on cycle"
// invariant: allocating everything, freeing everything, and flushing
// must return the manager to a single free block spanning the whole
// arena — no pages or descriptors are lost along the way.
func TestPropertyNoLeakOnFullCycle(t *testing.T) {
	proptest.ForAll1(t, proptest.Options{Trials: 100, Seed: 4}, genActions, func(t *testing.T, actions []action) bool {
		arena := blockinfo.New(propTotalPages)
		m := New(arena, propTotalPages)
		var live []*blockinfo.Descriptor

		for _, act := range actions {
			if act.kind == "alloc" {
				if d, ok := m.TakeBestFit(act.size); ok {
					live = append(live, d)
				}
			}
		}
		for _, d := range live {
			m.EnqueuePending(d)
		}
		m.FlushPending()

		if m.FreeCount() != 1 {
			t.Errorf("expected a single free block after a full alloc/free cycle, got %d free blocks", m.FreeCount())
			return false
		}
		var only *blockinfo.Descriptor
		m.Walk(func(d *blockinfo.Descriptor) { only = d })
		if only.PageCount != propTotalPages || only.PageIndex != 0 {
			t.Errorf("expected the whole arena reclaimed as [0,%d), got [%d,%d)", propTotalPages, only.PageIndex, only.PageIndex+only.PageCount)
			return false
		}
		return true
	})
}
