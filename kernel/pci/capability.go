package pci

const (
	offsetCapabilitiesPointer = 0x34
	offsetStatus              = 0x06
	statusCapabilitiesList    = 1 << 4

	capMSI = 0x05

	msiControlEnable        = 1 << 0
	msiControl64BitCapable  = 1 << 7
	msiControlMultiMsgMask  = 0b1110000
	msiMessageAddressLow    = 0xfee00000
)

// Capability is one entry in a device's capability list, identified by
// its dword-aligned offset into configuration space.
type Capability struct {
	Offset uint8
	Type   uint8
}

// Capabilities walks dev's capability chain (starting from the
// capabilities pointer register) and returns every entry found. The
// chain is only meaningful when the status register's capabilities-list
// bit is set.
func Capabilities(acc Accessor, dev Device) []Capability {
	statusRaw := ReadConfig(acc, dev.Bus, dev.Slot, dev.Function, offsetStatus, 2)
	status := uint16(statusRaw[0]) | uint16(statusRaw[1])<<8
	if status&statusCapabilitiesList == 0 {
		return nil
	}

	ptrRaw := ReadConfig(acc, dev.Bus, dev.Slot, dev.Function, offsetCapabilitiesPointer, 1)
	offset := ptrRaw[0] &^ 0x3

	var caps []Capability
	seen := make(map[uint8]bool)
	for offset != 0 && !seen[offset] {
		seen[offset] = true
		entry := ReadConfig(acc, dev.Bus, dev.Slot, dev.Function, uint32(offset), 2)
		caps = append(caps, Capability{Offset: offset, Type: entry[0]})
		offset = entry[1] &^ 0x3
	}
	return caps
}

// FindCapability returns the first capability of the given type, if any.
func FindCapability(acc Accessor, dev Device, capType uint8) (Capability, bool) {
	for _, c := range Capabilities(acc, dev) {
		if c.Type == capType {
			return c, true
		}
	}
	return Capability{}, false
}

// SetupMSI finds dev's MSI capability, disables multi-message delivery,
// sets the enable bit, and points the message at vector on the local
// APIC (message address 0xFEE00000, message data = vector), matching the
// fixed-destination, edge-triggered MSI encoding the LAPIC expects.
// Reports false if dev has no MSI capability.
func SetupMSI(acc Accessor, dev Device, vector uint8) bool {
	cap, ok := FindCapability(acc, dev, capMSI)
	if !ok {
		return false
	}

	controlRaw := ReadConfig(acc, dev.Bus, dev.Slot, dev.Function, uint32(cap.Offset)+0x2, 2)
	control := uint16(controlRaw[0]) | uint16(controlRaw[1])<<8
	control &^= msiControlMultiMsgMask
	control |= msiControlEnable

	addrData := []byte{
		byte(msiMessageAddressLow), byte(msiMessageAddressLow >> 8),
		byte(msiMessageAddressLow >> 16), byte(msiMessageAddressLow >> 24),
	}
	WriteConfig(acc, dev.Bus, dev.Slot, dev.Function, uint32(cap.Offset)+0x4, addrData)

	dataOffset := uint32(cap.Offset) + 0x8
	if control&msiControl64BitCapable != 0 {
		WriteConfig(acc, dev.Bus, dev.Slot, dev.Function, dataOffset, []byte{0, 0, 0, 0})
		dataOffset = uint32(cap.Offset) + 0xc
	}
	WriteConfig(acc, dev.Bus, dev.Slot, dev.Function, dataOffset, []byte{vector, 0})

	controlOut := []byte{byte(control), byte(control >> 8)}
	WriteConfig(acc, dev.Bus, dev.Slot, dev.Function, uint32(cap.Offset)+0x2, controlOut)
	return true
}
