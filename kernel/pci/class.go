package pci

// classEntry is one class/subclass pair's human-readable name, used only
// for descriptive boot-log output; it carries no driver-matching
// semantics.
type classEntry struct {
	class, subclass uint8
	name            string
}

var classNames = []classEntry{
	{0x00, 0x00, "Unclassified | Non-VGA-Compatible Unclassified Device"},
	{0x00, 0x01, "Unclassified | VGA-Compatible Unclassified Device"},
	{0x01, 0x00, "Mass Storage Controller | SCSI Bus Controller"},
	{0x01, 0x01, "Mass Storage Controller | IDE Controller"},
	{0x01, 0x02, "Mass Storage Controller | Floppy Disk Controller"},
	{0x01, 0x03, "Mass Storage Controller | IPI Bus Controller"},
	{0x01, 0x04, "Mass Storage Controller | RAID Controller"},
	{0x01, 0x05, "Mass Storage Controller | ATA Controller"},
	{0x01, 0x06, "Mass Storage Controller | SATA Controller"},
	{0x01, 0x07, "Mass Storage Controller | Serial Attached SCSI Controller"},
	{0x01, 0x08, "Mass Storage Controller | Non-Volatile Memory Controller"},
	{0x02, 0x00, "Network Controller | Ethernet Controller"},
	{0x03, 0x00, "Display Controller | VGA Compatible Controller"},
	{0x03, 0x02, "Display Controller | 3D Controller (Not VGA-Compatible)"},
	{0x04, 0x01, "Multimedia Controller | Multimedia Audio Controller"},
	{0x04, 0x03, "Multimedia Controller | Audio Device"},
	{0x05, 0x00, "Memory Controller | RAM Controller"},
	{0x06, 0x00, "Bridge Device | Host Bridge"},
	{0x06, 0x01, "Bridge Device | ISA Bridge"},
	{0x06, 0x04, "Bridge Device | PCI-to-PCI Bridge"},
	{0x06, 0x09, "Bridge Device | PCI-to-PCI Bridge"},
	{0x07, 0x00, "Simple Communication Controller | Serial Controller"},
	{0x08, 0x00, "Base System Peripherals | PIC"},
	{0x08, 0x01, "Base System Peripherals | DMA Controller"},
	{0x08, 0x02, "Base System Peripherals | Timer"},
	{0x08, 0x03, "Base System Peripherals | RTC Controller"},
	{0x09, 0x00, "Input Devices | Keyboard Controller"},
	{0x09, 0x02, "Input Devices | Mouse Controller"},
	{0x0c, 0x03, "Serial Bus Controller | USB Controller"},
	{0x0c, 0x05, "Serial Bus Controller | SMBus"},
}

var classFallback = map[uint8]string{
	0x00: "Unclassified",
	0x01: "Mass Storage Controller",
	0x02: "Network Controller",
	0x03: "Display Controller",
	0x04: "Multimedia Controller",
	0x05: "Memory Controller",
	0x06: "Bridge Device",
	0x07: "Simple Communication Controller",
	0x08: "Base System Peripheral",
	0x09: "Input Device",
	0x0a: "Docking Station",
	0x0b: "Processor",
	0x0c: "Serial Bus Controller",
	0x0d: "Wireless Controller",
	0x0e: "Intelligent I/O Controller",
	0x0f: "Satellite Communication Controller",
	0x10: "Encryption Controller",
	0x11: "Data Acquisition and Signal Processing Controller",
	0x12: "Processing Accelerator",
	0x13: "Non-Essential Instrumentation",
	0x40: "Co-Processor",
	0xff: "Unassigned Class",
}

// ClassName returns a human-readable "class | subclass" description for
// logging, falling back to the bare class name or "Unknown Class" when
// the specific subclass isn't in the registry.
func ClassName(class, subclass uint8) string {
	for _, e := range classNames {
		if e.class == class && e.subclass == subclass {
			return e.name
		}
	}
	if name, ok := classFallback[class]; ok {
		return name
	}
	return "Unknown Class"
}
