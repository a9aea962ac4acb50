package allocator

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/hal/multiboot"
	"github.com/NudelErde/CrackOS3/kernel/kfmt"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
)

// FrameAllocator is the bitmap-backed allocator (C1) that serves every
// frame request once the kernel is bootstrapped.
var FrameAllocator pmm.BitmapAllocator

// legacyHoleStart/End is the VGA/BIOS reserved region under the 1MiB mark.
const (
	legacyHoleStart = uintptr(0xA0000)
	legacyHoleEnd   = uintptr(0x100000)
)

// visitMultiboot adapts multiboot.VisitMemRegions to the plain
// (base, length) callback pmm.BitmapAllocator expects, so that package
// stays free of a multiboot import.
func visitMultiboot(visit func(base uintptr, length uint64) bool) {
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		pageSizeMinus1 := uint64(mem.PageSize - 1)
		start := uintptr((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1)
		end := uintptr((region.PhysAddress + region.Length) &^ pageSizeMinus1)
		if end <= start {
			return true
		}
		return visit(start, uint64(end-start))
	})
}

// Init hands physical memory management over from the bootstrap allocator
// to the bitmap allocator. It reserves the boot stub, the high kernel
// image, the bitmap's own storage, the loader info block, frame 0 and the
// legacy upper-memory hole before returning, so that every caller
// afterwards sees a bitmap whose free bits are genuinely free.
func Init(kernelStart, kernelEnd uintptr, loaderInfoStart, loaderInfoEnd uintptr) *kernel.Error {
	earlyAllocator.init(kernelStart, kernelEnd)
	earlyAllocator.printMemoryMap()

	requiredBytes := mem.Size(BitmapBytesFor())
	pageCount := uint64((requiredBytes + mem.PageSize - 1) >> mem.PageShift)

	// The bitmap's own backing storage comes from the bootstrap
	// allocator; it is necessarily contiguous because the bootstrap
	// allocator hands out frames in increasing order within a region.
	firstFrame, err := earlyAllocator.AllocFrame()
	if err != nil {
		return err
	}
	for i := uint64(1); i < pageCount; i++ {
		if _, err := earlyAllocator.AllocFrame(); err != nil {
			return err
		}
	}

	// C1 is bootstrapped before C2's identity window exists, so its own
	// backing storage is still reached through the boot stub's initial
	// low-memory 1:1 mapping rather than through vmm.IdentityAddr.
	storage := unsafe.Slice((*byte)(unsafe.Pointer(firstFrame.Address())), requiredBytes)
	FrameAllocator.Init(storage, visitMultiboot)

	FrameAllocator.ReserveRange(0, uintptr(mem.PageSize)) // frame 0
	FrameAllocator.ReserveRange(legacyHoleStart, legacyHoleEnd)
	FrameAllocator.ReserveRange(kernelStart, kernelEnd)
	FrameAllocator.ReserveRange(firstFrame.Address(), firstFrame.Address()+uintptr(pageCount)*uintptr(mem.PageSize))
	FrameAllocator.ReserveRange(loaderInfoStart, loaderInfoEnd)

	kfmt.Printf("[bitmap_alloc] free frames: %d\n", FrameAllocator.FreeFrameCount())
	return nil
}

// BitmapBytesFor returns the number of bytes the bitmap over the current
// multiboot memory map requires.
func BitmapBytesFor() uint64 {
	return pmm.BitmapBytes(visitMultiboot)
}

// AllocFrame delegates to the bitmap allocator, matching the vmm package's
// FrameAllocFn shape.
func AllocFrame() (pmm.Frame, bool) {
	addr, err := FrameAllocator.Alloc(1)
	if err != nil {
		return pmm.InvalidFrame, false
	}
	return pmm.FrameFromAddress(addr), true
}

// FreeFrame returns a single frame to the bitmap allocator.
func FreeFrame(f pmm.Frame) {
	FrameAllocator.Free(f.Address(), 1)
}

// AllocContig reserves n physically contiguous frames and returns the
// physical address of the first one. It is the non-test implementation
// kernel/proc's create.go binds its allocContigFn seam to once boot
// wiring installs it; kernel/ahci's AllocateResources takes its own
// pmm.Frame-returning allocator function, which boot wiring can satisfy
// with a one-line wrapper over FrameAllocator.Alloc the same way.
func AllocContig(n uint64) (uintptr, bool) {
	addr, err := FrameAllocator.Alloc(n)
	if err != nil {
		return 0, false
	}
	return addr, true
}

// FreeContig returns n physically contiguous frames starting at addr to
// the bitmap allocator; the inverse of AllocContig.
func FreeContig(addr uintptr, n uint64) {
	FrameAllocator.Free(addr, n)
}

// HighestFrame returns the frame one past the end of the highest usable
// physical region, the maxPhys bound kernel/kmain passes to vmm.Init.
func HighestFrame() pmm.Frame {
	return FrameAllocator.HighestFrame()
}
