package ahci

import (
	"testing"

	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
)

func newTestController(t *testing.T) (*Controller, uintptr) {
	t.Helper()
	_, portBaseAddr := fakeMMIO(0x100)
	withFakeResources(t)
	res, ok := AllocateResources(func(n uint64) (pmm.Frame, bool) { return pmm.Frame(0x3000), true })
	if !ok {
		t.Fatal("expected resource allocation to succeed")
	}
	saved := pauseFn
	t.Cleanup(func() { pauseFn = saved })
	pauseFn = func() {}
	return NewController(Port{base: portBaseAddr}, res), portBaseAddr
}

func TestFindFreeSlotSkipsBusyAndScheduled(t *testing.T) {
	c, base := newTestController(t)
	*reg(base, regCI) = 1 // slot 0 busy in hardware
	c.ScheduledSlots = 1 << 1 // slot 1 believed scheduled

	slot, err := c.FindFreeSlot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot != 2 {
		t.Fatalf("expected slot 2, got %d", slot)
	}
}

func TestFindFreeSlotFailsWhenAllBusy(t *testing.T) {
	c, base := newTestController(t)
	*reg(base, regCI) = 0xffffffff

	if _, err := c.FindFreeSlot(); err == nil {
		t.Fatal("expected an error when every slot is busy")
	}
}

func TestSetupH2DFillsCommandFIS(t *testing.T) {
	c, _ := newTestController(t)
	c.SetupH2D(0, cmdWriteDMA, 0x1234567, 4, 0xe0)

	fis := c.res.cfis(0)
	if fis[0] != 0x27 {
		t.Fatalf("expected FIS type 0x27, got %#x", fis[0])
	}
	if fis[2] != cmdWriteDMA {
		t.Fatalf("expected command byte %#x, got %#x", cmdWriteDMA, fis[2])
	}
	if fis[7] != 0xe0 {
		t.Fatalf("expected device byte 0xe0, got %#x", fis[7])
	}
	lba := uint32(fis[4]) | uint32(fis[5])<<8 | uint32(fis[6])<<16 | uint32(fis[8])<<24
	if lba != 0x1234567 {
		t.Fatalf("expected LBA low 32 bits 0x1234567, got %#x", lba)
	}

	h := c.res.header(0)
	if h.flags&chFlagWrite == 0 {
		t.Fatal("expected the write flag to be set for a write command")
	}
}

func TestSetupPhysicalRegionMergesContiguousPages(t *testing.T) {
	c, _ := newTestController(t)

	translate := func(page uintptr) (uintptr, bool) {
		// Two contiguous pages starting at 0x10000.
		return 0x10000 + page, true
	}

	count, err := c.SetupPhysicalRegion(0, translate, 0, 8192)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected contiguous pages to merge into 1 PRD entry, got %d", count)
	}

	e := c.res.prdEntry(0, 0)
	if e.DBC != 8192-1 {
		t.Fatalf("expected byte count-1 %#x, got %#x", 8192-1, e.DBC)
	}
}

func TestSetupPhysicalRegionFailsWhenFragmentedBeyondCapacity(t *testing.T) {
	c, _ := newTestController(t)

	// Every 4KiB page maps to a non-contiguous physical address, forcing
	// one PRD entry per page; request more pages than the table holds.
	n := 0
	translate := func(page uintptr) (uintptr, bool) {
		n++
		return uintptr(n) * 0x100000, true
	}

	size := uint32((prdtPerTable + 1) * 4096)
	if _, err := c.SetupPhysicalRegion(0, translate, 0, size); err == nil {
		t.Fatal("expected errFragmentedMemory when the buffer needs more entries than capacity")
	}
}

func TestIssueAndTestDoneLifecycle(t *testing.T) {
	c, base := newTestController(t)
	c.IssueSlot(2)

	if *reg(base, regCI)&(1<<2) == 0 {
		t.Fatal("expected IssueSlot to set CI")
	}
	if c.ScheduledSlots&(1<<2) == 0 {
		t.Fatal("expected IssueSlot to mark the slot scheduled")
	}

	done, err := c.TestDone(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatal("expected TestDone to report not-done while CI is still set")
	}

	*reg(base, regCI) &^= 1 << 2
	done, err = c.TestDone(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected TestDone to report completion once CI clears")
	}
	if c.ScheduledSlots&(1<<2) != 0 {
		t.Fatal("expected TestDone to clear ScheduledSlots on completion")
	}
}

func TestTestDoneReportsErrorOnNonZeroTFDOrSERR(t *testing.T) {
	c, base := newTestController(t)
	*reg(base, regTFD) = 0x01 // ERR bit

	if _, err := c.TestDone(0); err == nil {
		t.Fatal("expected a non-zero TFD to produce an error")
	}
}

func TestReadWriteCommandSelectsByQueueCapable(t *testing.T) {
	c, _ := newTestController(t)

	c.QueueCapable = false
	if c.ReadCommand() != cmdReadDMA || c.WriteCommand() != cmdWriteDMA {
		t.Fatal("expected plain DMA commands when not queue capable")
	}

	c.QueueCapable = true
	if c.ReadCommand() != cmdReadFPDMA || c.WriteCommand() != cmdWriteFPDMA {
		t.Fatal("expected FPDMA commands when queue capable")
	}
}
