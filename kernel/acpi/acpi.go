// Package acpi walks the MADT and MCFG tables to discover the interrupt
// topology (local APICs, I/O APICs, legacy IRQ overrides) and the PCI
// Express enhanced configuration regions. Both tables are reached through
// a single device/acpi resolver pass, matching the structure of the
// original implementation this kernel is based on.
package acpi

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/device/acpi/table"
	"github.com/NudelErde/CrackOS3/kernel"
)

var (
	errMissingMADT = &kernel.Error{Module: "acpi", Message: "MADT table not present"}
)

// LocalAPIC describes one processor-local APIC entry from the MADT.
type LocalAPIC struct {
	ProcessorID uint8
	APICID      uint8
	Enabled     bool
}

// IOAPIC describes one I/O APIC entry from the MADT.
type IOAPIC struct {
	APICID           uint8
	Address          uint32
	SysInterruptBase uint32
}

// InterruptOverride remaps a legacy ISA IRQ to a global system interrupt,
// as recorded by a MADT interrupt-source-override entry.
type InterruptOverride struct {
	LegacyIRQ       uint8
	GlobalInterrupt uint32
	Flags           uint16
}

// MADTInfo is the fully decoded contents of the MADT table.
type MADTInfo struct {
	LocalAPICAddress uint32
	LocalAPICs       []LocalAPIC
	IOAPICs          []IOAPIC
	Overrides        []InterruptOverride
}

// PCIConfigRegion describes one enhanced-configuration MMIO window, as
// recorded by an MCFG entry. Bus b/device d/function f of this segment
// group is located at BaseAddress + ((b-StartBus)<<20 | d<<15 | f<<12).
type PCIConfigRegion struct {
	BaseAddress  uint64
	SegmentGroup uint16
	StartBus     uint8
	EndBus       uint8
}

type madtEntryHeader struct {
	Type   table.MADTEntryType
	Length uint8
}

// ParseMADT locates and decodes the MADT ("APIC") table using resolver.
func ParseMADT(resolver table.Resolver) (*MADTInfo, *kernel.Error) {
	hdr := resolver.LookupTable("APIC")
	if hdr == nil {
		return nil, errMissingMADT
	}

	madt := (*table.MADT)(unsafe.Pointer(hdr))
	info := &MADTInfo{LocalAPICAddress: madt.LocalControllerAddress}

	base := uintptr(unsafe.Pointer(hdr))
	end := base + uintptr(hdr.Length)
	cur := base + unsafe.Sizeof(table.MADT{})

	for cur < end {
		entryHdr := (*madtEntryHeader)(unsafe.Pointer(cur))
		if entryHdr.Length == 0 {
			break
		}
		payload := cur + unsafe.Sizeof(madtEntryHeader{})

		switch entryHdr.Type {
		case table.MADTEntryTypeLocalAPIC:
			e := (*table.MADTEntryLocalAPIC)(unsafe.Pointer(payload))
			info.LocalAPICs = append(info.LocalAPICs, LocalAPIC{
				ProcessorID: e.ProcessorID,
				APICID:      e.APICID,
				Enabled:     e.Flags&0x1 != 0,
			})
		case table.MADTEntryTypeIOAPIC:
			e := (*table.MADTEntryIOAPIC)(unsafe.Pointer(payload))
			info.IOAPICs = append(info.IOAPICs, IOAPIC{
				APICID:           e.APICID,
				Address:          e.Address,
				SysInterruptBase: e.SysInterruptBase,
			})
		case table.MADTEntryTypeIntSrcOverride:
			e := (*table.MADTEntryInterruptSrcOverride)(unsafe.Pointer(payload))
			info.Overrides = append(info.Overrides, InterruptOverride{
				LegacyIRQ:       e.IRQSrc,
				GlobalInterrupt: e.GlobalInterrupt,
				Flags:           e.Flags,
			})
		}

		cur += uintptr(entryHdr.Length)
	}

	return info, nil
}

// ParseMCFG locates and decodes the MCFG table using resolver. A missing
// MCFG is not an error: legacy (pre-PCIe) platforms never publish one, and
// kernel/pci falls back to the legacy 0xCF8/0xCFC I/O mechanism in that
// case.
func ParseMCFG(resolver table.Resolver) ([]PCIConfigRegion, *kernel.Error) {
	hdr := resolver.LookupTable("MCFG")
	if hdr == nil {
		return nil, nil
	}

	base := uintptr(unsafe.Pointer(hdr))
	end := base + uintptr(hdr.Length)
	cur := base + unsafe.Sizeof(table.MCFG{})

	var regions []PCIConfigRegion
	for cur+unsafe.Sizeof(table.MCFGEntry{}) <= end {
		e := (*table.MCFGEntry)(unsafe.Pointer(cur))
		regions = append(regions, PCIConfigRegion{
			BaseAddress:  e.BaseAddress,
			SegmentGroup: e.SegmentGroup,
			StartBus:     e.StartBusNumber,
			EndBus:       e.EndBusNumber,
		})
		cur += unsafe.Sizeof(table.MCFGEntry{})
	}

	return regions, nil
}
