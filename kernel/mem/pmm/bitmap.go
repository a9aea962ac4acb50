package pmm

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/mem"
)

// reservedRegion describes a physical address range that must never be
// handed out by the bitmap allocator.
type reservedRegion struct {
	start, end uintptr // [start, end)
}

// BitmapAllocator is a single global bitmap over every usable frame reported
// by the boot loader. Bit i is set when the i-th frame (numbered across the
// usable regions, in the order the loader reports them) is allocated.
//
// Unlike a per-pool allocator, a single flat bitmap lets Alloc/Free derive
// the bitmap index <-> physical address mapping solely from the loader's
// memory map, which is the invariant the caller (vmm bootstrap) relies on
// before any other subsystem exists.
type BitmapAllocator struct {
	bitmap []byte

	// frames lets us translate a bit index back to a physical address
	// without re-walking the memory map on every call.
	frames      []frameRun
	totalFrames uint64

	cursor uint64
}

// frameRun maps a contiguous span of bitmap indices [loIndex, hiIndex) onto
// a contiguous physical region starting at base.
type frameRun struct {
	loIndex, hiIndex uint64
	base             uintptr
}

var (
	errNoFreeFrames = &kernel.Error{Module: "pmm", Message: "no free frames"}
)

// Init constructs the bitmap over the usable regions yielded by visit,
// using storage bytes to back the bitmap itself. storage must be at least
// BitmapBytes(visit) bytes long and must not overlap any usable region
// returned by visit (the caller is expected to have reserved it via the
// bootstrap allocator beforehand).
func (a *BitmapAllocator) Init(storage []byte, visit func(func(base uintptr, length uint64) bool)) {
	a.bitmap = storage
	a.frames = a.frames[:0]
	a.totalFrames = 0

	var idx uint64
	visit(func(base uintptr, length uint64) bool {
		pages := length >> uint(mem.PageShift)
		if pages == 0 {
			return true
		}
		a.frames = append(a.frames, frameRun{loIndex: idx, hiIndex: idx + pages, base: base})
		idx += pages
		return true
	})
	a.totalFrames = idx

	for i := range a.bitmap {
		a.bitmap[i] = 0
	}
}

// ReserveRange marks every frame that overlaps [start, end) as allocated.
// It is used once, at boot, to reserve the boot stub, the high kernel
// image, the bitmap's own storage, the loader info block, frame 0 and the
// legacy upper-memory hole before any caller is allowed to Alloc.
func (a *BitmapAllocator) ReserveRange(start, end uintptr) {
	for _, run := range a.frames {
		runStart := run.base
		runEnd := run.base + uintptr(run.hiIndex-run.loIndex)<<mem.PageShift
		lo := start
		if runStart > lo {
			lo = runStart
		}
		hi := end
		if runEnd < hi {
			hi = runEnd
		}
		for addr := lo &^ uintptr(mem.PageSize-1); addr < hi; addr += uintptr(mem.PageSize) {
			if addr < runStart || addr >= runEnd {
				continue
			}
			index := run.loIndex + uint64(addr-runStart)>>mem.PageShift
			a.setBit(index)
		}
	}
}

func (a *BitmapAllocator) setBit(index uint64) { a.bitmap[index>>3] |= 1 << (index & 7) }
func (a *BitmapAllocator) clearBit(index uint64) {
	a.bitmap[index>>3] &^= 1 << (index & 7)
}
func (a *BitmapAllocator) testBit(index uint64) bool {
	return a.bitmap[index>>3]&(1<<(index&7)) != 0
}

// indexToAddress converts a bitmap index into a physical address using the
// region table built by Init; it returns 0 if the index is outside of any
// known region.
func (a *BitmapAllocator) indexToAddress(index uint64) uintptr {
	for _, run := range a.frames {
		if index >= run.loIndex && index < run.hiIndex {
			return run.base + uintptr(index-run.loIndex)<<mem.PageShift
		}
	}
	return 0
}

// addressToIndex is the inverse of indexToAddress; ok is false if addr does
// not fall inside any usable region.
func (a *BitmapAllocator) addressToIndex(addr uintptr) (uint64, bool) {
	for _, run := range a.frames {
		base := run.base
		end := base + uintptr(run.hiIndex-run.loIndex)<<mem.PageShift
		if addr >= base && addr < end {
			return run.loIndex + uint64(addr-base)>>mem.PageShift, true
		}
	}
	return 0, false
}

// Alloc returns the base physical address of n contiguous free frames,
// flips their bitmap entries to allocated and advances the rotating
// cursor so that repeated single-frame allocations are distributed across
// the bitmap. It fails with errNoFreeFrames once the scan wraps back to
// the position it started from without finding a fit.
func (a *BitmapAllocator) Alloc(n uint64) (uintptr, *kernel.Error) {
	if n == 0 || a.totalFrames == 0 {
		return 0, errNoFreeFrames
	}

	start := a.cursor % a.totalFrames
	pos := start
	scanned := uint64(0)
	for scanned < a.totalFrames {
		run := uint64(0)
		for run < n && pos+run < a.totalFrames && a.testBit(pos+run) == false {
			run++
		}
		if run == n {
			for i := uint64(0); i < n; i++ {
				a.setBit(pos + i)
			}
			base := a.indexToAddress(pos)
			a.cursor = pos + n
			if a.cursor >= a.totalFrames {
				a.cursor = 0
			}
			return base, nil
		}

		advance := run + 1
		pos += advance
		scanned += advance
		if pos >= a.totalFrames {
			pos = 0
		}
	}

	return 0, errNoFreeFrames
}

// Free returns n frames starting at physical address addr to the pool and
// moves the cursor back to the first of them, so an Alloc that directly
// follows a Free starts its scan at the freed frames.
func (a *BitmapAllocator) Free(addr uintptr, n uint64) {
	index, ok := a.addressToIndex(addr)
	if !ok {
		return
	}
	for i := uint64(0); i < n; i++ {
		a.clearBit(index + i)
	}
	a.cursor = index
}

// FreeFrameCount returns the number of frames that are not currently
// allocated, for diagnostic logging.
func (a *BitmapAllocator) FreeFrameCount() uint64 {
	var free uint64
	for i := uint64(0); i < a.totalFrames; i++ {
		if !a.testBit(i) {
			free++
		}
	}
	return free
}

// HighestFrame returns the frame one past the end of the highest usable
// region Init saw, for callers (vmm.Init's maxPhys argument) that need an
// upper bound on physical memory rather than a free-frame count.
func (a *BitmapAllocator) HighestFrame() Frame {
	var highest uintptr
	for _, run := range a.frames {
		end := run.base + uintptr(run.hiIndex-run.loIndex)<<mem.PageShift
		if end > highest {
			highest = end
		}
	}
	return FrameFromAddress(highest)
}

// BitmapBytes returns the number of bytes required to back a bitmap that
// covers every usable frame yielded by visit, rounded up to a whole byte.
func BitmapBytes(visit func(func(base uintptr, length uint64) bool)) uint64 {
	var frames uint64
	visit(func(base uintptr, length uint64) bool {
		frames += length >> uint(mem.PageShift)
		return true
	})
	return (frames + 7) >> 3
}
