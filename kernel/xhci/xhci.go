// Package xhci detects an xHCI host controller and logs its capability
// registers. Full USB enumeration is out of scope for this revision: the
// xHCI specification's scratchpad-buffer-count formula is ambiguous in
// the form it was handed down in, and guessing at it risks programming a
// DeviceContextBaseAddressArray the controller disagrees with. Detection
// only reads capability registers; it never resets any controller.
package xhci

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel/kfmt"
)

// ClassCode, Subclass and ProgIF identify an xHCI controller in PCI
// configuration space (class 0x0C, subclass 0x03, prog-if 0x30).
const (
	ClassCode = 0x0c
	Subclass  = 0x03
	ProgIF    = 0x30
)

// Controller is a detected xHCI host controller's capability-register
// summary. It is never driven past detection in this revision.
type Controller struct {
	CapLength       uint8
	HCIVersion      uint16
	MaxPorts        uint32
	MaxInterrupters uint32
	MaxSlots        uint32
	Is64Bit         bool

	// HasScratchpadAmbiguity is true when either HCSPARAMS2 scratchpad-
	// count field is non-zero; the count itself is not computed (see the
	// package doc).
	HasScratchpadAmbiguity bool
}

// logFn is overridden by tests so Detect's logging doesn't touch a real
// logger.
var logFn = kfmt.Printf

// Detect reads an xHCI controller's capability registers from its
// already-mapped BAR0 (base is the virtual address kernel/pci resolved
// BAR0 to) and logs a summary. It never writes to the controller's
// operational registers — no reset, no port enumeration — since those
// require knowing how many scratchpad buffers to hand the controller
// first.
func Detect(base uintptr) Controller {
	data := (*[0x20]byte)(unsafe.Pointer(base))

	capLength := data[0]
	hciVersion := uint16(data[2]) | uint16(data[3])<<8
	param1 := readDword(data[:], 4)
	param2 := readDword(data[:], 8)
	param4 := readDword(data[:], 0x10)

	maxPorts := (param1 >> 24) & 0xff
	maxInterrupters := (param1 >> 8) & 0x7ff
	maxSlots := param1 & 0xff
	is64bit := param4&0b1 != 0

	c := Controller{
		CapLength:              capLength,
		HCIVersion:             hciVersion,
		MaxPorts:               maxPorts,
		MaxInterrupters:        maxInterrupters,
		MaxSlots:               maxSlots,
		Is64Bit:                is64bit,
		HasScratchpadAmbiguity: param2>>21&0x1f != 0 || param2>>27&0x1f != 0,
	}

	logFn("xhci: cap_length=%d hci_version=%#x max_ports=%d max_interrupters=%d max_slots=%d 64bit=%t\n",
		c.CapLength, c.HCIVersion, c.MaxPorts, c.MaxInterrupters, c.MaxSlots, c.Is64Bit)

	if !c.Is64Bit {
		logFn("xhci: controller is not 64-bit addressable, skipping\n")
		return c
	}
	if c.HasScratchpadAmbiguity {
		logFn("xhci: controller requires scratchpad buffers, skipping (unresolved spec ambiguity)\n")
		return c
	}

	logFn("xhci: controller detected, full enumeration not implemented\n")
	return c
}

func readDword(data []byte, offset int) uint32 {
	return uint32(data[offset]) | uint32(data[offset+1])<<8 | uint32(data[offset+2])<<16 | uint32(data[offset+3])<<24
}
