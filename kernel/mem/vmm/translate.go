package vmm

import "github.com/NudelErde/CrackOS3/kernel/mem/pmm"

// Translate resolves virt to a physical address in the address space
// rooted at root, or returns ok=false if no mapping is present. Leaves at
// any level (2MiB at the PD, 1GiB at the PDPT) are handled by
// reassembling the offset from the remaining virtual-address bits.
//
// The identity window is short-circuited: 64TiB+p always translates to p
// without touching any table, exactly as if it had been mapped with 1GiB
// leaves, matching the documented invariant even before Init builds the
// real mapping.
func Translate(root pmm.Frame, virt VirtAddr) (PhysAddr, bool) {
	if uintptr(virt) >= IdentityMapBase && uintptr(virt) < IdentityMapEnd {
		return PhysAddr(uintptr(virt) - IdentityMapBase), true
	}

	var (
		phys PhysAddr
		ok   bool
	)

	walk(root, virt, func(level uint8, e *entry) bool {
		if !e.HasFlags(FlagPresent) {
			ok = false
			return false
		}

		if level == pageLevels-1 || e.HasFlags(FlagHugePage) {
			mask := uintptr(0)
			switch level {
			case pageLevels - 1: // 4KiB leaf
				mask = (1 << ptShift) - 1
			case 2: // 2MiB leaf
				mask = (1 << pdShift) - 1
			case 1: // 1GiB leaf
				mask = (1 << pdptShift) - 1
			}
			phys = PhysAddr(e.Frame().Address() | (uintptr(virt) & mask))
			ok = true
			return false
		}
		return true
	})

	return phys, ok
}
