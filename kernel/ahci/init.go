package ahci

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/timer"
)

// sleepFn backs the reset hold and is overridden by tests.
var sleepFn = timer.Sleep

var errIdentifyFailed = &kernel.Error{Module: "ahci", Message: "IDENTIFY command did not complete"}

// InitPort runs the port init/probe/IDENTIFY sequence against c's
// register block and command structures: stop, program bases, reset,
// start, unmask interrupts, probe presence, read the signature and (for
// ATA devices) IDENTIFY to learn geometry.
//
// identifyBuf must be a page-aligned, at-least-512-byte buffer reachable
// through translate; it is reused as scratch and discarded once geometry
// has been parsed.
func (c *Controller) InitPort(translate func(page uintptr) (phys uintptr, ok bool), identifyBuf uintptr) *kernel.Error {
	c.port.Stop(pauseFn)

	c.port.SetCommandListBase(c.res.CommandListPhys())
	c.port.SetFISBase(c.res.FISPhys())
	for slot := uint8(0); slot < commandSlots; slot++ {
		c.res.bindTable(slot)
	}

	c.port.Reset(sleepFn)
	c.port.Start(pauseFn)
	c.port.UnmaskInterrupts()
	c.Running = true

	if !c.port.Probe() {
		c.HasDevice = false
		return nil
	}

	switch c.port.Signature() {
	case SignatureNone:
		c.HasDevice = false
		return nil
	case SignatureATAPI:
		c.HasDevice = true
		c.IsATAPI = true
		return nil
	default:
		c.HasDevice = true
		c.IsATAPI = false
	}

	return c.identify(translate, identifyBuf)
}

func (c *Controller) identify(translate func(page uintptr) (phys uintptr, ok bool), buf uintptr) *kernel.Error {
	slot, err := c.FindFreeSlot()
	if err != nil {
		return err
	}
	c.SetupH2D(slot, cmdIdentify, 0, 0, 0)
	if _, err := c.SetupPhysicalRegion(slot, translate, buf, 512); err != nil {
		return err
	}
	c.IssueSlot(slot)
	if err := c.WaitFor(slot); err != nil {
		return errIdentifyFailed
	}

	words := (*[256]uint16)(unsafe.Pointer(buf))

	sectorCount := uint64(words[100]) | uint64(words[101])<<16 | uint64(words[102])<<32 | uint64(words[103])<<48
	if sectorCount == 0 {
		sectorCount = uint64(words[60]) | uint64(words[61])<<16
	}
	c.SectorCount = sectorCount

	sectorSize := uint32(words[117]) | uint32(words[118])<<16
	if sectorSize == 0 {
		sectorSize = 512
	}
	c.SectorSize = sectorSize

	// NCQ support lives in word 76 bit 8 (SATA capabilities). "Bit 17 of
	// word 85" doesn't address a real bit position in a 16-bit word; word
	// 76 bit 8 is the actual NCQ-supported flag and is used here instead.
	c.QueueCapable = words[76]&(1<<8) != 0

	return nil
}
