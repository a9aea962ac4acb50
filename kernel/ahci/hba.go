// Package ahci drives an AHCI host-bus-adapter's per-port command engine:
// resource allocation, slot lifecycle, NCQ-aware queueing, and the port
// init/probe/identify sequence. A host adapter is discovered as a PCI
// device (class 1, subclass 6) and its ABAR (BAR5) mapped through
// kernel/pci before an HBA value is constructed over it.
package ahci

import "unsafe"

// HBA-global register offsets (relative to ABAR).
const (
	regCAP       = 0x00
	regGHC       = 0x04
	regISGlobal  = 0x08
	regPI        = 0x0c
	regVSGlobal  = 0x10
	portBase     = 0x100
	portStride   = 0x80
)

const (
	ghcAHCIEnable = 1 << 31
	ghcReset      = 1 << 0
)

// HBA wraps an AHCI controller's memory-mapped register block.
type HBA struct {
	base uintptr
}

// NewHBA wraps an already-mapped ABAR at base (the virtual address
// kernel/pci resolved BAR5 to).
func NewHBA(base uintptr) HBA {
	return HBA{base: base}
}

func (h HBA) reg32(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(h.base + offset))
}

// Capabilities returns the raw CAP register.
func (h HBA) Capabilities() uint32 { return *h.reg32(regCAP) }

// ImplementedPorts returns the PI register's bitmask of ports the HBA
// physically exposes.
func (h HBA) ImplementedPorts() uint32 { return *h.reg32(regPI) }

// EnableAHCI sets GHC.AE, switching the controller out of legacy mode.
func (h HBA) EnableAHCI() {
	*h.reg32(regGHC) |= ghcAHCIEnable
}

// Port returns a handle to port n's register block and command
// structures. n must be one of ImplementedPorts' set bits.
func (h HBA) Port(n uint8) Port {
	return Port{base: h.base + portBase + uintptr(n)*portStride}
}
