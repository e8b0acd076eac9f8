package placement

import (
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/insomniac-tools/debugheap/internal/blockinfo"
	"github.com/insomniac-tools/debugheap/internal/region"
	"github.com/insomniac-tools/debugheap/internal/vm"
)

// TestAllocateCommitsPayloadThenDecommitsGuard asserts the exact VM
// call sequence spec.md §4.4 requires: the payload pages are committed
// before the guard page is (re-)decommitted, and nothing else touches
// the driver for a single one-page allocation.
func TestAllocateCommitsPayloadThenDecommitsGuard(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := vm.NewMockDriver(ctrl)

	// real, writable memory: Allocate writes the sentinel fill at base
	mem := vm.NewSim()
	base := mem.Reserve(4 * vm.PageSize)
	defer mem.Release(base, 4*vm.PageSize)
	arena := blockinfo.New(4)
	mgr := region.New(arena, 4)
	a := New(driver, mgr, base)

	gomock.InOrder(
		driver.EXPECT().Commit(uintptr(base), uintptr(vm.PageSize)).Return(nil),
		driver.EXPECT().Decommit(uintptr(base+vm.PageSize), uintptr(vm.PageSize)).Return(nil),
	)

	if _, err := a.Allocate(100, 8); err != nil {
		t.Fatalf("allocate: %v", err)
	}
}

// TestFreeDecommitsPayloadOnly asserts that Free touches only the
// payload pages it is retiring, never the guard page (already
// decommitted) and never the free/pending list bookkeeping through the
// driver — that bookkeeping lives entirely in internal/region.
func TestFreeDecommitsPayloadOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := vm.NewMockDriver(ctrl)

	mem := vm.NewSim()
	base := mem.Reserve(4 * vm.PageSize)
	defer mem.Release(base, 4*vm.PageSize)
	arena := blockinfo.New(4)
	mgr := region.New(arena, 4)
	a := New(driver, mgr, base)

	driver.EXPECT().Commit(uintptr(base), uintptr(vm.PageSize)).Return(nil)
	driver.EXPECT().Decommit(uintptr(base+vm.PageSize), uintptr(vm.PageSize)).Return(nil)
	ptr, err := a.Allocate(100, 8)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	driver.EXPECT().Decommit(uintptr(base), uintptr(vm.PageSize)).Return(nil)
	if err := a.Free(ptr); err != nil {
		t.Fatalf("free: %v", err)
	}
}
