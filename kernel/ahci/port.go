package ahci

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel"
)

// Per-port register offsets (relative to the port's own base, HBA+0x100+n*0x80).
const (
	regCLB  = 0x00
	regCLBU = 0x04
	regFB   = 0x08
	regFBU  = 0x0c
	regIS   = 0x10
	regIE   = 0x14
	regCMD  = 0x18
	regTFD  = 0x20
	regSIG  = 0x24
	regSSTS = 0x28
	regSCTL = 0x2c
	regSERR = 0x30
	regSACT = 0x34
	regCI   = 0x38
)

const (
	cmdST  = 1 << 0
	cmdFRE = 1 << 4
	cmdFR  = 1 << 14
	cmdCR  = 1 << 15
)

const (
	sctlDET1 = 1 << 0 // initiate interface reset

	sstsDETMask  = 0xf
	sstsDETReady = 0x3
	sstsIPMMask  = 0xf << 8
	sstsIPMShift = 8
	sstsIPMReady = 0x1
)

// SignatureATA, SignatureATAPI and SignatureNone are the PxSIG values the
// port-init probe compares against after a successful reset.
const (
	SignatureATA   = 0x00000101
	SignatureATAPI = 0xeb140101
	SignatureNone  = 0x00000000
)

var (
	errUnknownError     = &kernel.Error{Module: "ahci", Message: "port reported a non-zero TFD/SERR status"}
	errFragmentedMemory = &kernel.Error{Module: "ahci", Message: "buffer spans more physical regions than the command table's PRDT can hold"}
	errNoFreeSlot       = &kernel.Error{Module: "ahci", Message: "no free command slot"}
)

// CommandHeader is one 32-byte entry of the 32-slot command list (AHCI
// 1.3.1 §4.2.2). Only the fields the driver sets are named individually;
// the rest is zeroed and left alone.
type CommandHeader struct {
	flags    uint16 // CFL (bits 0-4), ATAPI (5), Write (6), Prefetchable (7)... packed per spec
	prdtl    uint16
	prdbc    uint32
	ctba     uint32
	ctbau    uint32
	reserved [4]uint32
}

const (
	chFlagWrite = 1 << 6
	chCFLShift  = 0
	chCFLMask   = 0x1f
)

// CommandTable is the per-slot command table: a command FIS, an ATAPI
// command block, reserved padding, and a PRD table sized to fill the
// remainder of the table's allotted space. prdtCount is computed once
// from the per-port layout (see resources.go) rather than hardcoded,
// since the exact entry count falls out of how many bytes the 3
// command-table pages leave per slot.
type CommandTable struct {
	CFIS     [64]byte
	ATAPI    [16]byte
	Reserved [48]byte
	PRDT     [1]PRDEntry // overlaid; real length is prdtCount, see prdtAt
}

// PRDEntry is one physical-region-descriptor table entry: a contiguous
// physical byte range, up to the 22-bit byte-count limit (4MiB - 1).
type PRDEntry struct {
	DBA   uint32
	DBAU  uint32
	rsv   uint32
	DBC   uint32 // bits 0-21: byte count - 1; bit 31: interrupt-on-completion
}

const maxPRDByteCount = 1 << 22

// Port wraps one AHCI port's register block. Its command-list/FIS/
// command-table storage is supplied separately by Resources, since that
// storage must come from identity-mapped, uncached physical pages the
// frame allocator hands out rather than from the register MMIO window.
type Port struct {
	base uintptr
}

func (p Port) reg32(offset uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(p.base + offset))
}

// SetCommandListBase programs PxCLB/PxCLBU with the command list's
// physical address (must be 1KiB-aligned).
func (p Port) SetCommandListBase(phys uint64) {
	*p.reg32(regCLB) = uint32(phys)
	*p.reg32(regCLBU) = uint32(phys >> 32)
}

// SetFISBase programs PxFB/PxFBU with the received-FIS area's physical
// address (must be 256-byte-aligned).
func (p Port) SetFISBase(phys uint64) {
	*p.reg32(regFB) = uint32(phys)
	*p.reg32(regFBU) = uint32(phys >> 32)
}

// Stop clears ST and FRE and waits for CR and FR to clear, per the AHCI
// spec's port-idle sequence (required before reprogramming CLB/FB).
func (p Port) Stop(pauseFn func()) {
	*p.reg32(regCMD) &^= cmdST
	*p.reg32(regCMD) &^= cmdFRE
	for *p.reg32(regCMD)&(cmdCR|cmdFR) != 0 {
		pauseFn()
	}
}

// Start sets FRE then ST once CR has cleared.
func (p Port) Start(pauseFn func()) {
	for *p.reg32(regCMD)&cmdCR != 0 {
		pauseFn()
	}
	*p.reg32(regCMD) |= cmdFRE
	*p.reg32(regCMD) |= cmdST
}

// Reset drives SCTL.DET through the 1 -> 0 comreset sequence, holding
// DET=1 for 5ms (the spec-mandated minimum is 1ms) via sleepFn before
// clearing it.
func (p Port) Reset(sleepFn func(ms uint32)) {
	*p.reg32(regSCTL) |= sctlDET1
	sleepFn(5)
	*p.reg32(regSCTL) &^= sctlDET1
}

// Probe reports whether the port's SSTS register shows a device present
// (DET=3, a working physical connection) and ready (IPM=1, active).
func (p Port) Probe() bool {
	ssts := *p.reg32(regSSTS)
	det := ssts & sstsDETMask
	ipm := (ssts & sstsIPMMask) >> sstsIPMShift
	return det == sstsDETReady && ipm == sstsIPMReady
}

// Signature returns PxSIG, used to classify the attached device once
// Probe reports it present.
func (p Port) Signature() uint32 { return *p.reg32(regSIG) }

// UnmaskInterrupts enables every interrupt-cause bit in PxIE.
func (p Port) UnmaskInterrupts() { *p.reg32(regIE) = 0xffffffff }

// commandIssued is the hardware-owned bitmask TestDone and FindFreeSlot
// consult; sataActive reads PxSACT and is not consulted by either.
func (p Port) commandIssued() uint32 { return *p.reg32(regCI) }
func (p Port) sataActive() uint32    { return *p.reg32(regSACT) }

// taskFileData and sataError back test_done's error check.
func (p Port) taskFileData() uint32 { return *p.reg32(regTFD) }
func (p Port) sataError() uint32    { return *p.reg32(regSERR) }

// IssueCommand sets CI for slot, asking the HBA to dispatch it.
func (p Port) IssueCommand(slot uint8) {
	*p.reg32(regCI) |= 1 << slot
}

// ClearSATAError acknowledges every pending SERR bit by writing them
// back (write-1-to-clear register).
func (p Port) ClearSATAError() {
	*p.reg32(regSERR) = *p.reg32(regSERR)
}
