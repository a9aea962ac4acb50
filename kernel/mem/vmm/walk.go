package vmm

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
)

// identityReady is false until Init has established the 64TiB identity
// window. Before that point, table pages are accessed through the boot
// stub's initial 1:1 low-memory mapping instead (the only physical memory
// the walker ever needs to touch before the identity window exists is the
// handful of frames used by the bootstrap page tables themselves).
var identityReady bool

// tableOf returns a pointer to the 512-entry page table stored in frame f.
func tableOf(f pmm.Frame) *[512]entry {
	var addr uintptr
	if identityReady {
		addr = uintptr(IdentityAddr(PhysAddr(f.Address())))
	} else {
		addr = f.Address()
	}
	return (*[512]entry)(unsafe.Pointer(addr))
}

// walker is invoked once per page-table level while resolving a virtual
// address, starting at the PML4 (level 0) and ending at the PT (level 3).
// Returning false aborts the walk.
type walker func(level uint8, e *entry) bool

// walk descends the active page tables for virtAddr, calling fn at every
// level. It stops early (without calling fn again) if fn returns false or
// if it encounters a huge-page leaf above the final level.
func walk(root pmm.Frame, virtAddr VirtAddr, fn walker) {
	indices := [pageLevels]uintptr{virtAddr.PML4Index(), virtAddr.PDPTIndex(), virtAddr.PDIndex(), virtAddr.PTIndex()}

	table := tableOf(root)
	for level := uint8(0); level < pageLevels; level++ {
		e := &table[indices[level]]
		if !fn(level, e) {
			return
		}
		if level == pageLevels-1 {
			return
		}
		if e.HasFlags(FlagHugePage) {
			return
		}
		if !e.HasFlags(FlagPresent) {
			return
		}
		table = tableOf(e.Frame())
	}
}
