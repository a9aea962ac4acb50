package apic

import (
	"github.com/NudelErde/CrackOS3/kernel/cpu"
	"github.com/NudelErde/CrackOS3/kernel/gate"
)

const (
	pitChannel0Port = 0x40
	pitCommandPort  = 0x43
	pitFrequencyHz  = 1193182
	legacyPITIRQ    = 0

	calibrationRounds = 10
	calibrationWindowMs = 10

	maxTimerCount = 0xFFFFFFFF
)

// outbFn/enableFn/disableFn/pauseFn are overridden by tests so calibration
// can run without touching real I/O ports or interrupt state.
var (
	outbFn    = cpu.Outb
	enableFn  = cpu.EnableInterrupts
	disableFn = cpu.DisableInterrupts
	pauseFn   = cpu.Pause

	registerHandlerFn = gate.RegisterHandler
)

// pitOneShot programs PIT channel 0 (lobyte/hibyte access, mode 0:
// interrupt on terminal count) for a one-shot firing ms milliseconds from
// now.
func pitOneShot(ms uint32) {
	ticks := uint16((pitFrequencyHz / 1000) * ms)
	outbFn(pitCommandPort, 0b00110000)
	outbFn(pitChannel0Port, uint8(ticks))
	outbFn(pitChannel0Port, uint8(ticks>>8))
}

// Calibrate derives the LAPIC timer's ticks-per-millisecond by racing it
// against a PIT one-shot over calibrationRounds 10ms windows: arm the LAPIC
// timer counting down from 0xFFFFFFFF with divide /16, let the PIT fire,
// sample how far the LAPIC counter dropped, repeat, and average. Legacy
// IRQ 0 is unmasked on ioapic only for the duration of this call, matching
// the "PIT IRQ unmasked only during this procedure" requirement.
func Calibrate(lapic LocalAPIC, ioapic IOAPIC, pitVector uint8) uint32 {
	running := false
	registerHandlerFn(pitVector, func(vector uint8, errorCode uint64, regs *gate.Registers, user interface{}) {
		running = false
		lapic.SendEOI()
	}, nil)
	ioapic.SetMask(legacyPITIRQ, false)

	var total uint64
	for i := 0; i < calibrationRounds; i++ {
		lapic.SetTimerDivide(0x3)
		lapic.SetTimerInitialCount(maxTimerCount)
		lapic.SetTimerLVT(0xff, false)

		pitOneShot(calibrationWindowMs)
		running = true

		enableFn()
		for running {
			pauseFn()
		}
		disableFn()

		count := lapic.TimerCurrentCount()
		lapic.SetTimerLVT(0xff, true)

		total += uint64(maxTimerCount - count)
	}

	ioapic.SetMask(legacyPITIRQ, true)
	return uint32(total / (calibrationRounds * calibrationWindowMs))
}
