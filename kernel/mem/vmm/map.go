package vmm

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/cpu"
	"github.com/NudelErde/CrackOS3/kernel/kfmt"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
)

// FrameAllocFn allocates a single physical frame; it is supplied by C1 and
// used only to materialize intermediate page-table pages.
type FrameAllocFn func() (pmm.Frame, bool)

var (
	allocFrame FrameAllocFn

	// flushTLBEntryFn is overridden by tests; inlined in the kernel build.
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// SetFrameAllocator registers the physical frame allocator Map uses to
// create missing intermediate page tables.
func SetFrameAllocator(fn FrameAllocFn) { allocFrame = fn }

// Flags translates the spec's map() flag set onto PTE bits.
type Flags struct {
	Writeable     bool
	User          bool
	WriteThrough  bool
	CacheDisabled bool
	NoExecute     bool
}

func (f Flags) pteFlags() PTEFlag {
	bits := FlagPresent
	if f.Writeable {
		bits |= FlagRW
	}
	if f.User {
		bits |= FlagUser
	}
	if f.WriteThrough {
		bits |= FlagWriteThrough
	}
	if f.CacheDisabled {
		bits |= FlagCacheDisabled
	}
	if f.NoExecute {
		bits |= FlagNoExecute
	}
	return bits
}

// Map establishes a mapping from virt to phys in the address space rooted
// at root, creating any missing intermediate page-table pages via the
// registered frame allocator. Higher-level entries accumulate the OR of
// every descendant's flags so that, e.g., a single user leaf anywhere
// below a PML4 entry keeps that entry's User bit set.
//
// Map panics only if frame allocation for an intermediate table fails;
// callers are responsible for not double-mapping a virtual address.
func Map(root pmm.Frame, phys PhysAddr, virt VirtAddr, flags Flags) {
	want := flags.pteFlags()

	walk(root, virt, func(level uint8, e *entry) bool {
		if level == pageLevels-1 {
			*e = 0
			e.SetFrame(pmm.FrameFromAddress(uintptr(phys)))
			e.SetFlags(want)
			flushTLBEntryFn(uintptr(virt))
			return false
		}

		e.SetFlags(want & (FlagRW | FlagUser | FlagWriteThrough | FlagCacheDisabled))

		if !e.HasFlags(FlagPresent) {
			frame, ok := allocFrame()
			if !ok {
				kfmt.Panic("vmm: out of frames while growing page tables")
			}
			*e = 0
			e.SetFrame(frame)
			e.SetFlags(FlagPresent | FlagRW | (want & FlagUser))
			kernel.Memset(uintptr(IdentityAddr(PhysAddr(frame.Address()))), 0, uintptr(mem.PageSize))
		}
		return true
	})
}

// Unmap clears the leaf mapping for virt in the address space rooted at
// root. It is a no-op if virt was not mapped.
func Unmap(root pmm.Frame, virt VirtAddr) {
	walk(root, virt, func(level uint8, e *entry) bool {
		if level == pageLevels-1 {
			e.ClearFlags(FlagPresent)
			flushTLBEntryFn(uintptr(virt))
			return false
		}
		return e.HasFlags(FlagPresent)
	})
}

// MapHuge installs a huge-page leaf (2MiB at level 2, 1GiB at level 1)
// rooted at root, used only by Init to build the identity window.
func MapHuge(root pmm.Frame, phys PhysAddr, virt VirtAddr, level uint8, flags Flags) {
	want := flags.pteFlags() | FlagHugePage

	walk(root, virt, func(curLevel uint8, e *entry) bool {
		if curLevel == level {
			*e = 0
			e.SetFrame(pmm.FrameFromAddress(uintptr(phys)))
			e.SetFlags(want)
			return false
		}

		e.SetFlags(want & (FlagRW | FlagUser | FlagWriteThrough | FlagCacheDisabled))
		if !e.HasFlags(FlagPresent) {
			frame, ok := allocFrame()
			if !ok {
				kfmt.Panic("vmm: out of frames while growing page tables")
			}
			*e = 0
			e.SetFrame(frame)
			e.SetFlags(FlagPresent | FlagRW | (want & FlagUser))
			if identityReady {
				kernel.Memset(uintptr(IdentityAddr(PhysAddr(frame.Address()))), 0, uintptr(mem.PageSize))
			} else {
				kernel.Memset(frame.Address(), 0, uintptr(mem.PageSize))
			}
		}
		return true
	})
}
