package ahci

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/cpu"
)

// ATA command opcodes the controller issues. FPDMA (NCQ) variants are used
// when the attached device advertises queue_capable; otherwise the driver
// falls back to non-queued DMA and serializes outstanding slots.
const (
	cmdReadDMA    = 0x25
	cmdWriteDMA   = 0x35
	cmdReadFPDMA  = 0x60
	cmdWriteFPDMA = 0x61
	cmdIdentify   = 0xec
)

// pauseFn is overridden by tests so polling loops don't spin forever on a
// simulated register block.
var pauseFn = cpu.Pause

// Controller is one live AHCI port: its register block, command
// structures, and the scheduling state the driver must track between
// issuing a command and observing its completion.
type Controller struct {
	port      Port
	res       Resources
	translate func(page uintptr) (phys uintptr, ok bool)

	HasDevice    bool
	IsATAPI      bool
	SectorCount  uint64
	SectorSize   uint32
	QueueCapable bool
	Running      bool

	// ScheduledSlots is the set of slots the driver believes hardware
	// still owns; cleared only once TestDone observes completion.
	ScheduledSlots uint32
}

// NewController wraps port's register block and the resources allocated
// for it.
func NewController(port Port, res Resources) *Controller {
	return &Controller{port: port, res: res}
}

// FindFreeSlot returns the lowest slot index not set in hardware's CI and
// not already believed scheduled, or errNoFreeSlot if every slot is busy.
func (c *Controller) FindFreeSlot() (uint8, *kernel.Error) {
	busy := c.port.commandIssued() | c.ScheduledSlots
	for i := uint8(0); i < commandSlots; i++ {
		if busy&(1<<i) == 0 {
			return i, nil
		}
	}
	return 0, errNoFreeSlot
}

// SetupH2D fills slot's command-FIS with a host-to-device register FIS
// for cmd against lba/count, binds the command table, and sets the
// command-header's fields (CFL in DWORDs, Write direction).
func (c *Controller) SetupH2D(slot uint8, cmd uint8, lba uint64, count uint16, deviceByte uint8) {
	c.res.bindTable(slot)

	fis := c.res.cfis(slot)
	fis[0] = 0x27 // FIS_TYPE_REG_H2D
	fis[1] = 1 << 7
	fis[2] = cmd
	fis[3] = 0
	fis[4] = byte(lba)
	fis[5] = byte(lba >> 8)
	fis[6] = byte(lba >> 16)
	fis[7] = deviceByte
	fis[8] = byte(lba >> 24)
	fis[9] = byte(lba >> 32)
	fis[10] = byte(lba >> 40)
	fis[11] = 0
	fis[12] = byte(count)
	fis[13] = byte(count >> 8)
	fis[14] = 0
	fis[15] = 0

	h := c.res.header(slot)
	h.flags = (5 << chCFLShift) & chCFLMask // H2D register FIS is 5 dwords
	if cmd == cmdWriteDMA || cmd == cmdWriteFPDMA {
		h.flags |= chFlagWrite
	}
}

// SetupPhysicalRegion walks buf's pages via translate, merging contiguous
// physical runs into the same PRD entry (up to the 22-bit byte-count
// limit), and returns the entry count. It fails with errFragmentedMemory
// if the buffer needs more entries than the command table holds.
func (c *Controller) SetupPhysicalRegion(slot uint8, translate func(page uintptr) (phys uintptr, ok bool), bufVA uintptr, size uint32) (int, *kernel.Error) {
	const pageSize = 4096
	capacity := c.res.prdtCapacity()

	count := 0
	var curPhys uintptr
	var curLen uint32
	flush := func() {
		if curLen == 0 {
			return
		}
		if count >= capacity {
			return
		}
		e := c.res.prdEntry(slot, count)
		e.DBA = uint32(curPhys)
		e.DBAU = uint32(uint64(curPhys) >> 32)
		e.DBC = (curLen - 1) & (maxPRDByteCount - 1)
		count++
	}

	remaining := size
	va := bufVA &^ (pageSize - 1)
	off := bufVA - va

	for remaining > 0 {
		phys, ok := translate(va)
		if !ok {
			return 0, errFragmentedMemory
		}
		chunk := uint32(pageSize) - uint32(off)
		if chunk > remaining {
			chunk = remaining
		}
		runPhys := phys + off

		if curLen > 0 && curPhys+uintptr(curLen) == runPhys && uint64(curLen)+uint64(chunk) <= maxPRDByteCount {
			curLen += chunk
		} else {
			flush()
			if count >= capacity {
				return 0, errFragmentedMemory
			}
			curPhys, curLen = runPhys, chunk
		}

		remaining -= chunk
		va += pageSize
		off = 0
	}
	flush()
	if count > capacity {
		return 0, errFragmentedMemory
	}

	h := c.res.header(slot)
	h.prdtl = uint16(count)
	h.prdbc = 0
	return count, nil
}

// IssueSlot sets CI for slot and marks it scheduled.
func (c *Controller) IssueSlot(slot uint8) {
	c.ScheduledSlots |= 1 << slot
	c.port.IssueCommand(slot)
}

// TestDone reports whether slot has completed. Any non-zero TFD or SERR
// is reported as errUnknownError (the hardware does not distinguish
// error causes any further at this layer); a cleared CI bit otherwise
// means successful completion and clears ScheduledSlots for slot.
func (c *Controller) TestDone(slot uint8) (bool, *kernel.Error) {
	if c.port.taskFileData() != 0 || c.port.sataError() != 0 {
		return false, errUnknownError
	}
	if c.port.commandIssued()&(1<<slot) != 0 {
		return false, nil
	}
	c.ScheduledSlots &^= 1 << slot
	return true, nil
}

// WaitFor polls TestDone with pause until slot completes or errors.
func (c *Controller) WaitFor(slot uint8) *kernel.Error {
	for {
		done, err := c.TestDone(slot)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		pauseFn()
	}
}

// WaitAll waits for every currently-scheduled slot, used before issuing a
// non-NCQ command on a device that isn't queue_capable.
func (c *Controller) WaitAll() *kernel.Error {
	for c.ScheduledSlots != 0 {
		for i := uint8(0); i < commandSlots; i++ {
			if c.ScheduledSlots&(1<<i) == 0 {
				continue
			}
			if err := c.WaitFor(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadCommand and WriteCommand pick the FPDMA or plain-DMA opcode
// depending on QueueCapable.
func (c *Controller) ReadCommand() uint8 {
	if c.QueueCapable {
		return cmdReadFPDMA
	}
	return cmdReadDMA
}

func (c *Controller) WriteCommand() uint8 {
	if c.QueueCapable {
		return cmdWriteFPDMA
	}
	return cmdWriteDMA
}

// SetTranslator installs the page-to-physical-address resolver
// IssueRead/IssueWrite hand to SetupPhysicalRegion. It must be called
// once before either is used — buffers passed to a live port are always
// kernel memory reachable through the identity map, so the block layer
// supplies a translate func once at attach time rather than on every
// call.
func (c *Controller) SetTranslator(fn func(page uintptr) (phys uintptr, ok bool)) {
	c.translate = fn
}

// deviceByte selects LBA48 addressing (bit 6 set, no CHS bits).
const deviceByteLBA = 1 << 6

// IssueRead sets up and issues a read of count sectors starting at lba
// into buf, returning the slot it was issued on.
func (c *Controller) IssueRead(lba uint64, count uint16, buf uintptr, size uint32) (uint8, *kernel.Error) {
	return c.issue(c.ReadCommand(), lba, count, buf, size)
}

// IssueWrite sets up and issues a write of count sectors starting at lba
// from buf, returning the slot it was issued on.
func (c *Controller) IssueWrite(lba uint64, count uint16, buf uintptr, size uint32) (uint8, *kernel.Error) {
	return c.issue(c.WriteCommand(), lba, count, buf, size)
}

func (c *Controller) issue(cmd uint8, lba uint64, count uint16, buf uintptr, size uint32) (uint8, *kernel.Error) {
	slot, err := c.FindFreeSlot()
	if err != nil {
		return 0, err
	}
	c.SetupH2D(slot, cmd, lba, count, deviceByteLBA)
	if _, err := c.SetupPhysicalRegion(slot, c.translate, buf, size); err != nil {
		return 0, err
	}
	c.IssueSlot(slot)
	return slot, nil
}

// SectorSizeBytes, SectorCountTotal and SupportsQueueing expose the
// fields identify() populated, under names that don't collide with them,
// so *Controller satisfies kernel/block's Device interface.
func (c *Controller) SectorSizeBytes() uint32  { return c.SectorSize }
func (c *Controller) SectorCountTotal() uint64 { return c.SectorCount }
func (c *Controller) SupportsQueueing() bool   { return c.QueueCapable }

// Wait is WaitFor under the name kernel/block's Device interface expects.
func (c *Controller) Wait(slot uint8) *kernel.Error { return c.WaitFor(slot) }
