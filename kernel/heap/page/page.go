// Package page implements the kernel heap's page tier: allocations no
// larger than one page, backed by page-granular mappings inside the
// 96-106TiB arena (C3).
package page

import (
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

var (
	root  pmm.Frame
	alloc vmm.FrameAllocFn

	// cursor bumps forward through the arena; freeList holds pages
	// released by Free so that Alloc can reuse them before advancing
	// the cursor further, avoiding needless arena growth.
	cursor   uintptr
	freeList []uintptr

	// mapFn/translateFn/unmapFn indirect through vmm so tests can stub
	// out real page-table access.
	mapFn       = vmm.Map
	translateFn = vmm.Translate
	unmapFn     = vmm.Unmap
)

// Init registers the address space root and physical frame allocator the
// page tier maps new pages through.
func Init(r pmm.Frame, a vmm.FrameAllocFn) {
	root = r
	alloc = a
	cursor = vmm.PageArenaBase
	freeList = freeList[:0]
}

// Alloc returns a fresh page-sized allocation. It panics if the arena is
// exhausted, mirroring the non-recoverable nature of kernel heap growth
// failures documented in the error-handling design.
func Alloc() uintptr {
	if n := len(freeList); n > 0 {
		frame, ok := alloc()
		if !ok {
			panic("page tier: out of physical frames")
		}
		addr := freeList[n-1]
		freeList = freeList[:n-1]
		mapFn(root, vmm.PhysAddr(frame.Address()), vmm.VirtAddr(addr), vmm.Flags{Writeable: true})
		return addr
	}

	if cursor >= vmm.PageArenaEnd {
		panic("page tier: arena exhausted")
	}

	frame, ok := alloc()
	if !ok {
		panic("page tier: out of physical frames")
	}

	addr := cursor
	cursor += uintptr(mem.PageSize)

	mapFn(root, vmm.PhysAddr(frame.Address()), vmm.VirtAddr(addr), vmm.Flags{Writeable: true})
	return addr
}

// Free returns a page to the tier's free list and releases its backing
// frame to C1.
func Free(ptr uintptr) {
	phys, ok := translateFn(root, vmm.VirtAddr(ptr))
	if !ok {
		return
	}
	unmapFn(root, vmm.VirtAddr(ptr))
	freePhys(pmm.FrameFromAddress(uintptr(phys)))
	freeList = append(freeList, ptr)
}

// freePhysFn is overridden by the kernel's pmm wiring; tests may stub it.
var freePhysFn func(pmm.Frame)

func freePhys(f pmm.Frame) {
	if freePhysFn != nil {
		freePhysFn(f)
	}
}

// SetFrameFreer registers the function used to return a vacated frame to
// C1.
func SetFrameFreer(fn func(pmm.Frame)) { freePhysFn = fn }
