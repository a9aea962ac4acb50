package ahci

import (
	"testing"
	"unsafe"
)

func withFakeSleep(t *testing.T) {
	t.Helper()
	saved := sleepFn
	t.Cleanup(func() { sleepFn = saved })
	sleepFn = func(ms uint32) {}
}

func TestInitPortNoDeviceLeavesHasDeviceFalse(t *testing.T) {
	c, base := newTestController(t)
	withFakeSleep(t)
	*reg(base, regSSTS) = 0 // no device present

	if err := c.InitPort(nil, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.HasDevice {
		t.Fatal("expected HasDevice to remain false without a working link")
	}
	if !c.Running {
		t.Fatal("expected Running to be set once the start sequence completes")
	}
}

func TestInitPortATAPISkipsIdentify(t *testing.T) {
	c, base := newTestController(t)
	withFakeSleep(t)
	*reg(base, regSSTS) = sstsDETReady | (sstsIPMReady << sstsIPMShift)
	*reg(base, regSIG) = SignatureATAPI

	if err := c.InitPort(nil, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.HasDevice || !c.IsATAPI {
		t.Fatal("expected an ATAPI device to be recorded and skipped")
	}
}

func TestInitPortATAIdentifiesGeometry(t *testing.T) {
	c, base := newTestController(t)
	withFakeSleep(t)
	*reg(base, regSSTS) = sstsDETReady | (sstsIPMReady << sstsIPMShift)
	*reg(base, regSIG) = SignatureATA

	identifyBuf := make([]byte, 512)
	words := (*[256]uint16)(unsafe.Pointer(&identifyBuf[0]))
	words[100] = 0x0000
	words[101] = 0x0001 // sector count = 0x00010000
	words[117] = 4096   // sector size = 4096

	// InitPort issues the IDENTIFY command itself; reflect completion by
	// clearing CI right after WaitFor starts polling.
	savedPause := pauseFn
	t.Cleanup(func() { pauseFn = savedPause })
	first := true
	pauseFn = func() {
		if first {
			*reg(base, regCI) = 0
			first = false
		}
	}

	translate := func(page uintptr) (uintptr, bool) { return fakeBase(identifyBuf), true }

	if err := c.InitPort(translate, fakeBase(identifyBuf)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.HasDevice || c.IsATAPI {
		t.Fatal("expected an ATA device to be recorded")
	}
	if c.SectorCount != 0x00010000 {
		t.Fatalf("expected sector count 0x10000, got %#x", c.SectorCount)
	}
	if c.SectorSize != 4096 {
		t.Fatalf("expected sector size 4096, got %d", c.SectorSize)
	}
}
