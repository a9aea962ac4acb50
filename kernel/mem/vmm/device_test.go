package vmm

import (
	"testing"

	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
)

func TestMapDeviceAdvancesCursorAndMaps(t *testing.T) {
	defer func() { deviceCursor = DeviceBase; mapDeviceFn = Map }()
	deviceCursor = DeviceBase

	type call struct {
		phys PhysAddr
		virt VirtAddr
	}
	var calls []call
	mapDeviceFn = func(root pmm.Frame, phys PhysAddr, virt VirtAddr, flags Flags) {
		if !flags.CacheDisabled || !flags.WriteThrough {
			t.Fatalf("expected a non-prefetchable device mapping to be cache-disabled/write-through, got %+v", flags)
		}
		calls = append(calls, call{phys, virt})
	}

	start := deviceCursor
	virt, err := MapDevice(pmm.Frame(0), PhysAddr(0xfed00000), 2*mem.PageSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uintptr(virt) != start {
		t.Fatalf("expected first reservation to start at %#x, got %#x", start, virt)
	}
	if deviceCursor != start+uintptr(2*mem.PageSize) {
		t.Fatalf("expected cursor to advance by 2 pages, got %#x", deviceCursor)
	}
	if len(calls) != 2 {
		t.Fatalf("expected one Map call per page, got %d", len(calls))
	}
	if calls[0].phys != 0xfed00000 || calls[1].phys != 0xfed00000+PhysAddr(mem.PageSize) {
		t.Fatalf("unexpected physical addresses mapped: %+v", calls)
	}
}

func TestMapDeviceExhaustion(t *testing.T) {
	defer func() { deviceCursor = DeviceBase }()
	deviceCursor = DeviceEnd - uintptr(mem.PageSize)

	_, err := MapDevice(pmm.Frame(0), PhysAddr(0), 2*mem.PageSize)
	if err != errDeviceArenaExhausted {
		t.Fatalf("expected errDeviceArenaExhausted, got %v", err)
	}
}
