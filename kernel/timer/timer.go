// Package timer implements the one-shot LAPIC-timer notify/sleep protocol
// that is this kernel's only asynchronous timing mechanism. The scheduler
// (kernel/proc) reschedules from the notify callback; kernel/smp's AP
// bring-up delays ride on Sleep.
package timer

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/apic"
	"github.com/NudelErde/CrackOS3/kernel/cpu"
	"github.com/NudelErde/CrackOS3/kernel/gate"
)

// maxTicks is the largest count the LAPIC timer's 32-bit initial-count
// register can hold with the high bit left clear, i.e. 2^31-1.
const maxTicks = uint32(1)<<31 - 1

var errSleepOverlap = &kernel.Error{Module: "timer", Message: "sleep already in progress on this core"}

var (
	timerVector uint8
	ticksPerMs  uint32

	ticksNeeded uint32
	prevInit    uint32
	callback    func()
	sleeping    bool

	enableFn  = cpu.EnableInterrupts
	disableFn = cpu.DisableInterrupts
	pauseFn   = cpu.Pause

	registerHandlerFn = gate.RegisterHandler

	// setTimerDivideFn/setTimerLVTFn/setTimerInitialCountFn/sendEOIFn wrap
	// the bound LocalAPIC's methods so tests can exercise the notify/sleep
	// state machine without touching real LAPIC MMIO registers.
	setTimerDivideFn      func(uint32)
	setTimerLVTFn         func(vector uint8, masked bool)
	setTimerInitialCountFn func(uint32)
	sendEOIFn             func()
)

// Init binds the per-core timer to l's LAPIC timer LVT entry, using the
// calibrated ticksPerMs (see apic.Calibrate) to convert millisecond
// durations into timer ticks, and registers the timer interrupt handler on
// vector.
func Init(l apic.LocalAPIC, vector uint8, calibratedTicksPerMs uint32) {
	setTimerDivideFn = l.SetTimerDivide
	setTimerLVTFn = l.SetTimerLVT
	setTimerInitialCountFn = l.SetTimerInitialCount
	sendEOIFn = l.SendEOI

	timerVector = vector
	ticksPerMs = calibratedTicksPerMs
	registerHandlerFn(vector, onFire, nil)
}

// Notify arms the timer to invoke cb after approximately ms milliseconds.
// A notify in flight is replaced by the new one; it is the caller's
// responsibility not to stack overlapping notifications (see Sleep, which
// enforces this for the common case).
func Notify(ms uint32, cb func()) {
	ticksNeeded = ms * ticksPerMs
	callback = cb
	arm()
}

// arm programs the LAPIC timer for min(ticksNeeded, maxTicks), recording
// the amount actually armed in prevInit so onFire knows how much of
// ticksNeeded it just consumed.
func arm() {
	prevInit = ticksNeeded
	if prevInit > maxTicks {
		prevInit = maxTicks
	}
	setTimerDivideFn(0x3)
	setTimerLVTFn(timerVector, false)
	setTimerInitialCountFn(prevInit)
}

// onFire is the timer interrupt handler: it consumes the ticks this firing
// accounted for, running the callback once the full requested duration has
// elapsed or reloading for the remainder otherwise.
func onFire(vector uint8, errorCode uint64, regs *gate.Registers, user interface{}) {
	ticksNeeded -= prevInit
	if ticksNeeded == 0 {
		if cb := callback; cb != nil {
			cb()
		}
	} else {
		arm()
	}
	sendEOIFn()
}

// Sleep busy-waits for approximately ms milliseconds with interrupts
// enabled. Two sleeps may not overlap on the same core; a nested call
// panics via errSleepOverlap.
func Sleep(ms uint32) {
	if sleeping {
		panic(errSleepOverlap)
	}
	sleeping = true
	defer func() { sleeping = false }()

	Notify(ms, nil)
	enableFn()
	for ticksNeeded > 0 {
		pauseFn()
	}
}
