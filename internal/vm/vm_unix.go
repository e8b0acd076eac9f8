//go:build unix

package vm

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/insomniac-tools/debugheap/internal/herr"
)

// UnixDriver drives virtual memory through anonymous mmap, mirroring
// original_source/DebugHeap.c's POSIX branch: reserve with PROT_NONE,
// commit by mprotect'ing to PROT_READ|PROT_WRITE, decommit by
// madvise(MADV_DONTNEED) before dropping back to PROT_NONE so the
// kernel actually releases the physical pages rather than just
// forbidding access to them.
type UnixDriver struct{}

var _ Driver = UnixDriver{}

func (UnixDriver) Reserve(bytes uintptr) uintptr {
	b, err := unix.Mmap(-1, 0, int(bytes), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		herr.Throw(herr.CategorySystem, "MMAP_FAILED", "couldn't reserve address space", map[string]any{"bytes": bytes, "err": err.Error()})
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func (UnixDriver) Release(base, bytes uintptr) {
	requirePageAligned("release", base, bytes)
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), bytes)
	if err := unix.Munmap(b); err != nil {
		herr.Throw(herr.CategorySystem, "MUNMAP_FAILED", "failed to release reservation", map[string]any{"base": base, "bytes": bytes, "err": err.Error()})
	}
}

func (UnixDriver) Commit(addr, bytes uintptr) error {
	requirePageAligned("commit", addr, bytes)
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), bytes)
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		herr.Throw(herr.CategorySystem, "MPROTECT_FAILED", "failed to commit memory", map[string]any{"addr": addr, "bytes": bytes, "err": err.Error()})
	}
	return nil
}

func (UnixDriver) Decommit(addr, bytes uintptr) error {
	requirePageAligned("decommit", addr, bytes)
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), bytes)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		herr.Throw(herr.CategorySystem, "MADVISE_FAILED", "madvise(MADV_DONTNEED) failed", map[string]any{"addr": addr, "bytes": bytes, "err": err.Error()})
	}
	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		herr.Throw(herr.CategorySystem, "MPROTECT_FAILED", "failed to decommit memory", map[string]any{"addr": addr, "bytes": bytes, "err": err.Error()})
	}
	return nil
}

// NewDefault returns the platform driver used by New when the caller
// does not supply one of their own (see WithDriver in the root
// package for swapping in the simulated driver for tests).
func NewDefault() Driver { return UnixDriver{} }
