// Package heap implements the kernel heap (C3): three cooperating tiers
// keyed by the virtual subrange a pointer falls into, so Free needs no
// per-allocation header to pick the right one.
package heap

import (
	"github.com/NudelErde/CrackOS3/kernel/heap/large"
	"github.com/NudelErde/CrackOS3/kernel/heap/page"
	"github.com/NudelErde/CrackOS3/kernel/heap/slab"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

// Init wires every tier to the given root page table and physical frame
// allocator. It must run after C2's identity window is live.
func Init(root pmm.Frame, alloc vmm.FrameAllocFn) {
	page.Init(root, alloc)
	slab.Init()
	large.Init(root, alloc)
}

// Kmalloc dispatches to the tier matching size: sizes up to 2047 bytes (the
// largest slab bucket, size 0 included) go to the slab tier, larger sizes
// up to one page go to the page tier, and anything bigger than one page
// goes to the large tier.
func Kmalloc(size mem.Size) uintptr {
	switch {
	case size > mem.PageSize:
		return large.Alloc(size)
	case size <= 2047:
		return slab.Alloc(size)
	default:
		return page.Alloc()
	}
}

// Ksize returns the usable size of the block returned by a prior Kmalloc.
func Ksize(ptr uintptr) mem.Size {
	switch {
	case ptr >= vmm.SlabArenaBase && ptr < vmm.SlabArenaEnd:
		return slab.Size(ptr)
	case ptr >= vmm.PageArenaBase && ptr < vmm.PageArenaEnd:
		return mem.PageSize
	case ptr >= vmm.LargeArenaBase && ptr < vmm.LargeArenaEnd:
		return large.Size(ptr)
	default:
		return 0
	}
}

// Kfree dispatches ptr to the tier selected by its virtual subrange.
// Freeing a pointer that was allocated by a different tier than the one
// its address falls into is a programmer error and is not detected, per
// the component's invariant.
func Kfree(ptr uintptr) {
	switch {
	case ptr >= vmm.SlabArenaBase && ptr < vmm.SlabArenaEnd:
		slab.Free(ptr)
	case ptr >= vmm.PageArenaBase && ptr < vmm.PageArenaEnd:
		page.Free(ptr)
	case ptr >= vmm.LargeArenaBase && ptr < vmm.LargeArenaEnd:
		large.Free(ptr)
	}
}
