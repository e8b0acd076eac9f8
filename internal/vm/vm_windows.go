//go:build windows

package vm

import (
	"golang.org/x/sys/windows"

	"github.com/insomniac-tools/debugheap/internal/herr"
)

// WindowsDriver drives virtual memory through VirtualAlloc/VirtualFree,
// mirroring original_source/DebugHeap.c's Win32 branch: reserve with
// MEM_RESERVE, commit with MEM_COMMIT, decommit with MEM_DECOMMIT
// (which on Windows both revokes access and drops physical backing in
// one call, unlike the POSIX madvise+mprotect pair), release with
// MEM_RELEASE.
type WindowsDriver struct{}

var _ Driver = WindowsDriver{}

func (WindowsDriver) Reserve(bytes uintptr) uintptr {
	addr, err := windows.VirtualAlloc(0, bytes, windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		herr.Throw(herr.CategorySystem, "VIRTUALALLOC_FAILED", "couldn't reserve address space", map[string]any{"bytes": bytes, "err": err.Error()})
	}
	return addr
}

func (WindowsDriver) Release(base, bytes uintptr) {
	requirePageAligned("release", base, bytes)
	if err := windows.VirtualFree(base, 0, windows.MEM_RELEASE); err != nil {
		herr.Throw(herr.CategorySystem, "VIRTUALFREE_FAILED", "failed to release reservation", map[string]any{"base": base, "bytes": bytes, "err": err.Error()})
	}
}

func (WindowsDriver) Commit(addr, bytes uintptr) error {
	requirePageAligned("commit", addr, bytes)
	if _, err := windows.VirtualAlloc(addr, bytes, windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
		herr.Throw(herr.CategorySystem, "VIRTUALALLOC_FAILED", "failed to commit memory", map[string]any{"addr": addr, "bytes": bytes, "err": err.Error()})
	}
	return nil
}

func (WindowsDriver) Decommit(addr, bytes uintptr) error {
	requirePageAligned("decommit", addr, bytes)
	if err := windows.VirtualFree(addr, bytes, windows.MEM_DECOMMIT); err != nil {
		herr.Throw(herr.CategorySystem, "VIRTUALFREE_FAILED", "failed to decommit memory", map[string]any{"addr": addr, "bytes": bytes, "err": err.Error()})
	}
	return nil
}

// NewDefault returns the platform driver used by New when the caller
// does not supply one of their own.
func NewDefault() Driver { return WindowsDriver{} }
