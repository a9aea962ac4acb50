package ahci

import (
	"testing"
	"unsafe"
)

func TestHBAImplementedPortsAndEnable(t *testing.T) {
	_, base := fakeMMIO(0x200)
	h := NewHBA(base)

	*(*uint32)(unsafe.Pointer(base + regPI)) = 0b101 // ports 0 and 2

	if got := h.ImplementedPorts(); got != 0b101 {
		t.Fatalf("expected implemented ports 0b101, got %#b", got)
	}

	h.EnableAHCI()
	ghc := *(*uint32)(unsafe.Pointer(base + regGHC))
	if ghc&ghcAHCIEnable == 0 {
		t.Fatal("expected EnableAHCI to set GHC.AE")
	}
}

func TestHBAPortOffset(t *testing.T) {
	_, base := fakeMMIO(0x1000)
	h := NewHBA(base)

	p3 := h.Port(3)
	want := base + portBase + 3*portStride
	if p3.base != want {
		t.Fatalf("expected port 3 base %#x, got %#x", want, p3.base)
	}
}
