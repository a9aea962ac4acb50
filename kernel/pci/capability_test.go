package pci

import "testing"

func TestCapabilitiesWalksChain(t *testing.T) {
	acc := newFakeAccessor()
	dev := Device{Bus: 0, Slot: 8, Function: 0}

	acc.WriteDword(dev.Bus, dev.Slot, dev.Function, offsetStatus, statusCapabilitiesList<<16)
	acc.WriteDword(dev.Bus, dev.Slot, dev.Function, offsetCapabilitiesPointer, 0x40)

	// Capability at 0x40: type 0x01 (power management), next pointer 0x50.
	acc.WriteDword(dev.Bus, dev.Slot, dev.Function, 0x40, 0x00005001)
	// Capability at 0x50: type 0x05 (MSI), next pointer 0 (end of chain).
	acc.WriteDword(dev.Bus, dev.Slot, dev.Function, 0x50, 0x0000_0005)

	caps := Capabilities(acc, dev)
	if len(caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %d: %+v", len(caps), caps)
	}
	if caps[0].Type != 0x01 || caps[0].Offset != 0x40 {
		t.Fatalf("unexpected first capability: %+v", caps[0])
	}
	if caps[1].Type != 0x05 || caps[1].Offset != 0x50 {
		t.Fatalf("unexpected second capability: %+v", caps[1])
	}
}

func TestSetupMSIWritesAddressAndVector(t *testing.T) {
	acc := newFakeAccessor()
	dev := Device{Bus: 0, Slot: 9, Function: 0}

	acc.WriteDword(dev.Bus, dev.Slot, dev.Function, offsetStatus, statusCapabilitiesList<<16)
	acc.WriteDword(dev.Bus, dev.Slot, dev.Function, offsetCapabilitiesPointer, 0x40)
	// MSI capability at 0x40 (type byte 0x05, next-pointer byte 0x00); its
	// control register (offset 0x42-0x43) advertises 64-bit capability
	// (bit 7, i.e. bit 23 of the dword) and multi-message capability
	// (bits 1-3), and has the multi-message enable field (bits 4-6) set,
	// which SetupMSI must clear.
	const control = uint32(0x00fe) // bit7 (64-bit capable) | bits4-6 (multi-message enable) | bits1-3 (multi-message capable)
	acc.WriteDword(dev.Bus, dev.Slot, dev.Function, 0x40, uint32(capMSI)|control<<16)

	ok := SetupMSI(acc, dev, 0x30)
	if !ok {
		t.Fatal("expected SetupMSI to find the MSI capability and succeed")
	}

	addrRaw := ReadConfig(acc, dev.Bus, dev.Slot, dev.Function, 0x44, 4)
	addr := uint32(addrRaw[0]) | uint32(addrRaw[1])<<8 | uint32(addrRaw[2])<<16 | uint32(addrRaw[3])<<24
	if addr != msiMessageAddressLow {
		t.Fatalf("expected message address %#x, got %#x", msiMessageAddressLow, addr)
	}

	dataRaw := ReadConfig(acc, dev.Bus, dev.Slot, dev.Function, 0x4c, 2)
	if dataRaw[0] != 0x30 {
		t.Fatalf("expected message data (vector) 0x30, got %#x", dataRaw[0])
	}

	controlRaw := ReadConfig(acc, dev.Bus, dev.Slot, dev.Function, 0x42, 2)
	control := uint16(controlRaw[0]) | uint16(controlRaw[1])<<8
	if control&msiControlEnable == 0 {
		t.Fatal("expected MSI enable bit to be set")
	}
	if control&msiControlMultiMsgMask != 0 {
		t.Fatalf("expected multi-message bits to be cleared, got control %#x", control)
	}
}

func TestSetupMSIReturnsFalseWithoutCapability(t *testing.T) {
	acc := newFakeAccessor()
	dev := Device{Bus: 0, Slot: 10, Function: 0}
	acc.WriteDword(dev.Bus, dev.Slot, dev.Function, offsetStatus, 0) // no capability list

	if SetupMSI(acc, dev, 0x30) {
		t.Fatal("expected SetupMSI to fail when there is no capability list")
	}
}
