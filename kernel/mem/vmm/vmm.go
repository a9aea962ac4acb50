// Package vmm implements the four-level paging manager (C2): mapping,
// unmapping, translation and the kernel's identity window over physical
// RAM.
package vmm

import (
	"github.com/NudelErde/CrackOS3/kernel/cpu"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
)

// RootTable is the PML4 frame installed via cpu.SwitchPDT.
type RootTable pmm.Frame

var (
	kernelRoot pmm.Frame
	gb1Support bool
)

// cpuidFn is overridden by tests.
var cpuidFn = cpu.ID

// has1GiBPages returns true if CPUID reports support for 1GiB pages
// (extended function 0x80000001, EDX bit 26).
func has1GiBPages() bool {
	_, _, _, edx := cpuidFn(0x80000001)
	return edx&(1<<26) != 0
}

// Init builds the 64TiB identity window covering [0, maxPhys) using 1GiB
// leaves where CPUID permits it and chains of 2MiB leaves otherwise, then
// activates root as the resident page table.
//
// The boot stub is assumed to have already identity-mapped low physical
// memory 1:1 so that root's own backing frames (and any frames allocated
// for the identity window's own intermediate tables) can be reached before
// the identity window exists; Init flips identityReady once the window is
// live so that every later table walk goes through it instead.
func Init(root pmm.Frame, maxPhys pmm.Frame, alloc FrameAllocFn) {
	SetFrameAllocator(alloc)
	kernelRoot = root
	gb1Support = has1GiBPages()

	maxAddr := maxPhys.Address()
	flags := Flags{Writeable: true, CacheDisabled: true, WriteThrough: true}

	if gb1Support {
		const step = uintptr(1) << 30
		for addr := uintptr(0); addr < maxAddr; addr += step {
			MapHuge(root, PhysAddr(addr), VirtAddr(IdentityMapBase+addr), 1, flags)
		}
	} else {
		const step = uintptr(1) << 21
		for addr := uintptr(0); addr < maxAddr; addr += step {
			MapHuge(root, PhysAddr(addr), VirtAddr(IdentityMapBase+addr), 2, flags)
		}
	}

	cpu.SwitchPDT(root.Address())
	identityReady = true
}

// KernelRoot returns the frame backing the kernel's resident PML4.
func KernelRoot() pmm.Frame { return kernelRoot }

// NewAddressSpace allocates and zeroes a fresh PML4, copying in the
// kernel-half entries (identity window and heap arenas) so every process
// address space shares the kernel mapping above the user range.
func NewAddressSpace(alloc FrameAllocFn) (pmm.Frame, bool) {
	frame, ok := alloc()
	if !ok {
		return 0, false
	}

	dst := tableOf(frame)
	src := tableOf(kernelRoot)
	for i := range dst {
		dst[i] = 0
	}
	// Kernel-half PML4 entries start at the identity window's index and
	// run through the device BAR arena; copying them gives every address
	// space the same view of kernel memory without re-walking it.
	firstKernelIdx := VirtAddr(IdentityMapBase).PML4Index()
	for i := firstKernelIdx; i < 512; i++ {
		dst[i] = src[i]
	}

	return frame, true
}

// PageRoundDown rounds addr down to the nearest page boundary.
func PageRoundDown(addr uintptr) uintptr {
	return addr &^ uintptr(mem.PageSize-1)
}
