package ahci

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

const commandSlots = 32

// Each port needs page 0 for its 32-entry command list (32*32B = 1024B)
// plus the 256-byte received-FIS area, and pages 1-3 for the 32 command
// tables those slots point at. Three pages split 32 ways give a table
// stride of (3*PageSize)/32 = 384 bytes. A command table's fixed part
// (64-byte CFIS, 16-byte ATAPI block, 48 bytes reserved, per AHCI
// 1.3.1 §4.2.3) is 128 bytes, leaving exactly (384-128)/16 = 16 PRD
// entries per table — a clean fit, unlike the "~32 entries" estimate
// sometimes quoted for this layout.
const (
	resourcePages    = 4
	tableStride      = (3 * uintptr(mem.PageSize)) / commandSlots
	tableFixedHeader = 128
	prdtPerTable     = (tableStride - tableFixedHeader) / 16
)

// Resources holds one port's command list, received-FIS area and command
// tables, backed by resourcePages contiguous physical frames. Everything
// is accessed through the identity map, since frames handed out by the
// physical allocator are always reachable there.
type Resources struct {
	physBase uintptr
	virtBase uintptr
}

// identityAddrFn resolves a physical address to its identity-mapped
// virtual address; tests override it to point at a fake buffer instead
// of the real 64TiB identity window.
var identityAddrFn = func(phys uintptr) uintptr {
	return uintptr(vmm.IdentityAddr(vmm.PhysAddr(phys)))
}

// AllocateResources reserves resourcePages contiguous frames for one
// port's command structures and zeroes them.
func AllocateResources(allocContig func(n uint64) (pmm.Frame, bool)) (Resources, bool) {
	frame, ok := allocContig(resourcePages)
	if !ok {
		return Resources{}, false
	}
	phys := frame.Address()
	virt := identityAddrFn(phys)

	clear := unsafe.Slice((*byte)(unsafe.Pointer(virt)), resourcePages*mem.PageSize)
	for i := range clear {
		clear[i] = 0
	}

	return Resources{physBase: phys, virtBase: virt}, true
}

// CommandListPhys is the physical address programmed into PxCLB/PxCLBU.
func (r Resources) CommandListPhys() uint64 { return uint64(r.physBase) }

// FISPhys is the physical address programmed into PxFB/PxFBU; the
// received-FIS area follows the 1KiB command list within page 0.
func (r Resources) FISPhys() uint64 { return uint64(r.physBase + 1024) }

// header returns a pointer to command-list entry slot.
func (r Resources) header(slot uint8) *CommandHeader {
	return (*CommandHeader)(unsafe.Pointer(r.virtBase + uintptr(slot)*32))
}

// tableVirt and tablePhys locate slot's command table within pages 1-3.
func (r Resources) tableVirt(slot uint8) uintptr {
	return r.virtBase + uintptr(mem.PageSize) + uintptr(slot)*tableStride
}

func (r Resources) tablePhys(slot uint8) uintptr {
	return r.physBase + uintptr(mem.PageSize) + uintptr(slot)*tableStride
}

// prdtCapacity reports how many physical-region descriptors fit in a
// single slot's command table.
func (r Resources) prdtCapacity() int { return int(prdtPerTable) }

// prdEntry returns a pointer to PRDT entry i of slot's command table.
func (r Resources) prdEntry(slot uint8, i int) *PRDEntry {
	base := r.tableVirt(slot) + tableFixedHeader + uintptr(i)*16
	return (*PRDEntry)(unsafe.Pointer(base))
}

// cfis returns slot's 64-byte command-FIS area, to be filled in with a
// host-to-device register FIS before issuing the command.
func (r Resources) cfis(slot uint8) *[64]byte {
	return (*[64]byte)(unsafe.Pointer(r.tableVirt(slot)))
}

// bindTable points slot's command-header entry at its command table and
// resets PRDTL/PRDBC/flags ahead of SetupH2D/SetupPhysicalRegion.
func (r Resources) bindTable(slot uint8) {
	h := r.header(slot)
	phys := r.tablePhys(slot)
	h.ctba = uint32(phys)
	h.ctbau = uint32(phys >> 32)
	h.flags = 0
	h.prdtl = 0
	h.prdbc = 0
}
