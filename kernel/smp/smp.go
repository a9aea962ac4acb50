// Package smp brings up application processors discovered via the MADT.
// The boot CPU walks each remote core through the INIT/de-init/SIPI
// sequence while the trampoline (a 16-bit real-mode stub loaded below
// 1MiB) switches it into long mode and parks it in the idle loop.
package smp

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/apic"
	"github.com/NudelErde/CrackOS3/kernel/cpu"
	"github.com/NudelErde/CrackOS3/kernel/timer"
)

var (
	errTrampolineMisaligned = &kernel.Error{Module: "smp", Message: "AP trampoline is not page-aligned"}
	errTrampolineTooHigh    = &kernel.Error{Module: "smp", Message: "AP trampoline physical address does not fit in a SIPI vector byte"}
)

// Core describes one application processor discovered via the MADT's
// local-APIC entries.
type Core struct {
	ProcessorID uint8
	APICID      uint8
}

// trampolineEntryAddr returns the physical address of the 16-bit real-mode
// entry point every AP starts executing at on SIPI. It must be a multiple
// of 4KiB so it fits in SIPI's byte-scaled vector field (addr>>12).
func trampolineEntryAddr() uintptr

// trampolineDataPageTableL4Addr/trampolineDataGDTPtrAddr/
// trampolineDataIDTPtrAddr/trampolineStackPtrAddr return the physical
// addresses of four scratch slots the trampoline reads once it has
// switched into long mode: the shared CR3 value, the GDT descriptor
// captured via SGDT, the IDT descriptor captured via SIDT, and the stack
// pointer for the new core, each filled in by the boot CPU before sending
// the SIPI.
func trampolineDataPageTableL4Addr() uintptr
func trampolineDataGDTPtrAddr() uintptr
func trampolineDataIDTPtrAddr() uintptr
func trampolineStackPtrAddr() uintptr

// writeTrampolineWord stores value at the physical scratch address the
// trampoline will read it from.
func writeTrampolineWord(physAddr uintptr, value uint64)

// resetAPResponse clears the shared flag the trampoline sets once an AP
// has switched into long mode and loaded the boot IDT.
func resetAPResponse()

// apResponseReceived reports whether resetAPResponse's flag has since been
// set by a starting AP.
func apResponseReceived() bool

// currentCR3/currentGDTR/currentIDTR capture the boot CPU's active CR3,
// GDTR and IDTR so they can be published into the trampoline's scratch
// slots before any AP is started.
func currentCR3() uint64
func currentGDTR() uint64
func currentIDTR() uint64

var (
	sleepFn              = timer.Sleep
	pauseFn              = cpu.Pause
	resetAPResponseFn     = resetAPResponse
	apResponseReceivedFn  = apResponseReceived
	writeTrampolineWordFn = writeTrampolineWord
)

// BringUp walks every core in cores other than bootAPICID through the
// INIT / de-init / SIPI sequence, using lapic (the boot CPU's local APIC)
// to issue the IPIs and stackTop(core) as the new core's kernel stack top
// physical address. It blocks until every started core has acknowledged entry into
// long mode.
func BringUp(lapic apic.LocalAPIC, bootAPICID uint8, cores []Core, stackTop func(core Core) uint64) *kernel.Error {
	trampolineAddr := trampolineEntryAddr()
	if trampolineAddr%4096 != 0 {
		return errTrampolineMisaligned
	}
	vector := trampolineAddr >> 12
	if vector > 0xff {
		return errTrampolineTooHigh
	}

	writeTrampolineWordFn(trampolineDataPageTableL4Addr(), currentCR3())
	writeTrampolineWordFn(trampolineDataGDTPtrAddr(), currentGDTR())
	writeTrampolineWordFn(trampolineDataIDTPtrAddr(), currentIDTR())

	for _, core := range cores {
		if core.APICID == bootAPICID {
			continue
		}

		writeTrampolineWordFn(trampolineStackPtrAddr(), stackTop(core))
		resetAPResponseFn()

		lapic.SendInit(core.APICID)
		for lapic.IsInterruptPending() {
			pauseFn()
		}
		sleepFn(10)

		lapic.SendDeinit(core.APICID)
		for lapic.IsInterruptPending() {
			pauseFn()
		}
		sleepFn(10)

		lapic.SendSIPI(uint8(vector), core.APICID)
		for lapic.IsInterruptPending() {
			pauseFn()
		}
		sleepFn(1)

		if !apResponseReceivedFn() {
			lapic.SendSIPI(uint8(vector), core.APICID)
			for lapic.IsInterruptPending() {
				pauseFn()
			}
		}

		sleepFn(100)
		for !apResponseReceivedFn() {
			pauseFn()
		}
	}

	return nil
}
