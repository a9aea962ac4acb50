package vmm

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/cpu"
	"github.com/NudelErde/CrackOS3/kernel/gate"
	"github.com/NudelErde/CrackOS3/kernel/kfmt"
)

var (
	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "unrecoverable page fault"}

	// readCR2Fn/handleInterruptFn are overridden by tests.
	readCR2Fn         = cpu.ReadCR2
	handleInterruptFn = gate.HandleInterrupt
)

// InstallFaultHandlers wires the page-fault and general-protection-fault
// vectors into the IDT. Every mapping this kernel creates is eager (see
// goruntime's sysMap/sysAlloc and the C3 heap tiers), so unlike the
// recursive-self-map design this replaces, a page fault here never
// indicates a lazily-deferred commit to service — it always means a
// genuine bug or protection violation, so both handlers simply report and
// panic.
func InstallFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
}

func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())

	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch regs.Info {
	case 0:
		kfmt.Printf("read from non-present page")
	case 1:
		kfmt.Printf("page protection violation (read)")
	case 2:
		kfmt.Printf("write to non-present page")
	case 3:
		kfmt.Printf("page protection violation (write)")
	case 4:
		kfmt.Printf("page-fault in user-mode")
	case 8:
		kfmt.Printf("page table has reserved bit set")
	case 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}

func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}
