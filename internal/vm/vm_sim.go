package vm

import (
	"sync"
	"unsafe"

	"github.com/insomniac-tools/debugheap/internal/herr"
)

// AccessRight is the simulated driver's per-page protection state.
type AccessRight uint8

const (
	NoAccess  AccessRight = iota // PROT_NONE / MEM_DECOMMIT equivalent
	ReadWrite                    // PROT_READ|PROT_WRITE / MEM_COMMIT equivalent
)

// poisonByte is written across a page's storage whenever it transitions
// to NoAccess, so that a test which reads the backing buffer directly
// (bypassing CheckAccess) still observes that the page's old contents
// are gone, matching spec.md's requirement that decommitted content
// "must not be observable after a subsequent recommit".
const poisonByte = 0xDE

// SimDriver is an in-process substitute for real OS paging: a byte
// buffer plus a per-page access-rights array. spec.md §9's design note
// "VM primitives as a capability" calls for exactly this so the region
// manager and placement layer can be exercised without mmap/VirtualAlloc.
//
// Open question (documented, not guessed — see DESIGN.md): this
// package cannot make an ordinary Go memory access raise SIGSEGV the
// way a real decommitted page does. SimDriver instead tracks rights
// and exposes CheckAccess, Read and Write, which return an error where
// real hardware would fault. Tests that exercise spec.md §8 scenarios
// 2 and 4 (overrun/use-after-free "should crash") call CheckAccess (or
// Read/Write) rather than dereferencing a Go pointer directly.
type SimDriver struct {
	mu       sync.Mutex
	buf      []byte
	rights   []AccessRight // one entry per page
	reserved bool
}

var _ Driver = (*SimDriver)(nil)

// NewSim returns a simulated driver with nothing reserved yet; its
// backing buffer is allocated by Reserve. Unlike the real drivers, the
// returned *SimDriver itself is the handle, and it holds one
// reservation at a time: a second Reserve before Release panics.
func NewSim() *SimDriver {
	return &SimDriver{}
}

func (d *SimDriver) Reserve(bytes uintptr) uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reserved {
		herr.Throw(herr.CategorySystem, "SIM_DOUBLE_RESERVE", "simulated driver reserved twice", nil)
	}
	// A real, GC-tracked backing array. Go's allocator already returns
	// heap memory aligned well beyond the page size for allocations this
	// large, and the non-moving collector keeps the address stable for
	// the object's lifetime — the same assumption the teacher repo's own
	// allocateSystemMemory placeholder makes.
	d.buf = make([]byte, bytes)
	d.rights = make([]AccessRight, bytes/PageSize)
	d.reserved = true
	return uintptr(unsafe.Pointer(&d.buf[0]))
}

func (d *SimDriver) Release(base, bytes uintptr) {
	requirePageAligned("release", base, bytes)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
	d.rights = nil
	d.reserved = false
}

func (d *SimDriver) Commit(addr, bytes uintptr) error {
	requirePageAligned("commit", addr, bytes)
	d.mu.Lock()
	defer d.mu.Unlock()
	start, count := d.pageRange(addr, bytes)
	for i := start; i < start+count; i++ {
		d.rights[i] = ReadWrite
	}
	return nil
}

func (d *SimDriver) Decommit(addr, bytes uintptr) error {
	requirePageAligned("decommit", addr, bytes)
	d.mu.Lock()
	defer d.mu.Unlock()
	start, count := d.pageRange(addr, bytes)
	for i := start; i < start+count; i++ {
		d.rights[i] = NoAccess
	}
	base := uintptr(unsafe.Pointer(&d.buf[0]))
	off := addr - base
	for i := uintptr(0); i < bytes; i++ {
		d.buf[off+i] = poisonByte
	}
	return nil
}

// CheckAccess reports the fault a real decommitted page would raise:
// an error when any page covering [addr, addr+length) is NoAccess.
func (d *SimDriver) CheckAccess(addr, length uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	start, count := d.pageRange(addr, length)
	for i := start; i < start+count; i++ {
		if i >= uintptr(len(d.rights)) || d.rights[i] == NoAccess {
			return herr.InvalidPointer(addr)
		}
	}
	return nil
}

// Read simulates a memory read, faulting (returning an error) if any
// covered byte lies on a decommitted page.
func (d *SimDriver) Read(addr, length uintptr) ([]byte, error) {
	if err := d.CheckAccess(addr, length); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	base := uintptr(unsafe.Pointer(&d.buf[0]))
	off := addr - base
	out := make([]byte, length)
	copy(out, d.buf[off:off+length])
	return out, nil
}

// Write simulates a memory write, faulting (returning an error) if any
// covered byte lies on a decommitted page.
func (d *SimDriver) Write(addr uintptr, data []byte) error {
	if err := d.CheckAccess(addr, uintptr(len(data))); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	base := uintptr(unsafe.Pointer(&d.buf[0]))
	off := addr - base
	copy(d.buf[off:off+uintptr(len(data))], data)
	return nil
}

// pageRange reports the pages covering [addr, addr+bytes), including
// partially covered first and last pages. It must be called with d.mu
// held.
func (d *SimDriver) pageRange(addr, bytes uintptr) (start, count uintptr) {
	base := uintptr(unsafe.Pointer(&d.buf[0]))
	off := addr - base
	return off / PageSize, (off%PageSize + bytes + PageSize - 1) / PageSize
}
