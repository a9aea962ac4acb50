package vmm

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
)

// deviceCursor bumps forward through the 126-128TiB device window reserved
// for non-prefetchable memory BARs and other cache-disabled MMIO mappings.
var deviceCursor uintptr = DeviceBase

var errDeviceArenaExhausted = &kernel.Error{
	Module:  "vmm",
	Message: "device BAR arena exhausted",
}

// mapDeviceFn is overridden by tests so MapDevice's cursor bookkeeping can
// be exercised without walking a real (or zero-value) page table.
var mapDeviceFn = Map

// MapDevice reserves a fresh range in the device window and maps it to the
// physical range [phys, phys+size) with the cache-disabled, write-through
// flags every non-prefetchable memory BAR requires, returning the virtual
// base address. Callers that need to avoid re-mapping the same BAR on
// repeat access are expected to cache the result themselves, keyed off the
// raw BAR value.
func MapDevice(root pmm.Frame, phys PhysAddr, size mem.Size) (VirtAddr, *kernel.Error) {
	rounded := PageRound(size)
	if deviceCursor+uintptr(rounded) > DeviceEnd {
		return 0, errDeviceArenaExhausted
	}
	base := deviceCursor
	deviceCursor += uintptr(rounded)

	flags := Flags{Writeable: true, CacheDisabled: true, WriteThrough: true, NoExecute: true}
	for off := mem.Size(0); off < rounded; off += mem.PageSize {
		mapDeviceFn(root, PhysAddr(uintptr(phys)+uintptr(off)), VirtAddr(base+uintptr(off)), flags)
	}
	return VirtAddr(base), nil
}
