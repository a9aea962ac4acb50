// Package large implements the kernel heap's large-object tier: allocations
// bigger than one page, tracked as key-ordered regions inside the
// 116-126TiB arena (C3) and mapped in page-by-page from C1 frames.
package large

import (
	"sort"
	"sync"

	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

type region struct {
	base uintptr
	size mem.Size
}

var (
	mu      sync.Mutex
	root    pmm.Frame
	alloc   vmm.FrameAllocFn
	regions []region // kept sorted by base
	cursor  uintptr

	// mapFn/translateFn/unmapFn indirect through vmm so tests can stub
	// out real page-table access.
	mapFn       = vmm.Map
	translateFn = vmm.Translate
	unmapFn     = vmm.Unmap
)

// Init registers the address space root and physical frame allocator the
// large tier maps new regions through.
func Init(r pmm.Frame, a vmm.FrameAllocFn) {
	mu.Lock()
	defer mu.Unlock()
	root = r
	alloc = a
	regions = regions[:0]
	cursor = vmm.LargeArenaBase
}

// Alloc reserves a gap of at least size bytes in the arena, maps it frame
// by frame, and returns its base address. It first searches for a first-fit
// gap between existing regions before growing the arena via cursor.
func Alloc(size mem.Size) uintptr {
	mu.Lock()
	defer mu.Unlock()

	pages := vmm.PageRound(size)
	base, ok := findGap(pages)
	if !ok {
		if cursor+uintptr(pages) > vmm.LargeArenaEnd {
			panic("large tier: arena exhausted")
		}
		base = cursor
		cursor += uintptr(pages)
	}

	mapRegion(base, pages)
	insertRegion(region{base: base, size: pages})
	return base
}

// findGap performs a first-fit scan of the space before each region, in
// base order starting at the arena base, for a run of at least pages
// bytes, so freed space is reused before the arena grows further. The
// space between the last region and the cursor is not searched.
func findGap(pages mem.Size) (uintptr, bool) {
	prevEnd := vmm.LargeArenaBase
	for _, r := range regions {
		if uintptr(r.base)-uintptr(prevEnd) >= uintptr(pages) {
			return prevEnd, true
		}
		prevEnd = r.base + uintptr(r.size)
	}
	return 0, false
}

func insertRegion(r region) {
	i := sort.Search(len(regions), func(i int) bool { return regions[i].base >= r.base })
	regions = append(regions, region{})
	copy(regions[i+1:], regions[i:])
	regions[i] = r
}

func removeRegionAt(i int) {
	regions = append(regions[:i], regions[i+1:]...)
}

func mapRegion(base uintptr, size mem.Size) {
	for off := mem.Size(0); off < size; off += mem.PageSize {
		frame, ok := alloc()
		if !ok {
			panic("large tier: out of physical frames")
		}
		mapFn(root, vmm.PhysAddr(frame.Address()), vmm.VirtAddr(base+uintptr(off)), vmm.Flags{Writeable: true})
	}
}

func unmapRegion(base uintptr, size mem.Size) {
	for off := mem.Size(0); off < size; off += mem.PageSize {
		phys, ok := translateFn(root, vmm.VirtAddr(base+uintptr(off)))
		if !ok {
			continue
		}
		unmapFn(root, vmm.VirtAddr(base+uintptr(off)))
		freePhys(pmm.FrameFromAddress(uintptr(phys)))
	}
}

// Size returns the rounded page-count size of the region starting at base,
// or 0 if base is not a region known to this tier.
func Size(base uintptr) mem.Size {
	mu.Lock()
	defer mu.Unlock()
	if i, ok := find(base); ok {
		return regions[i].size
	}
	return 0
}

// Free unmaps and releases the region starting at base.
func Free(base uintptr) {
	mu.Lock()
	defer mu.Unlock()
	i, ok := find(base)
	if !ok {
		return
	}
	unmapRegion(regions[i].base, regions[i].size)
	removeRegionAt(i)
}

func find(base uintptr) (int, bool) {
	i := sort.Search(len(regions), func(i int) bool { return regions[i].base >= base })
	if i < len(regions) && regions[i].base == base {
		return i, true
	}
	return 0, false
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
