package apic

import (
	"testing"

	"github.com/NudelErde/CrackOS3/kernel/gate"
)

func TestCalibrateAveragesAcrossRounds(t *testing.T) {
	withFakeMMIO(t, 0x400)
	lapic := NewLocalAPIC(0)
	ioapic := NewIOAPIC(0x1000)

	savedOutb, savedEnable, savedDisable, savedPause, savedRegister :=
		outbFn, enableFn, disableFn, pauseFn, registerHandlerFn
	t.Cleanup(func() {
		outbFn, enableFn, disableFn, pauseFn, registerHandlerFn =
			savedOutb, savedEnable, savedDisable, savedPause, savedRegister
	})

	var fired func(vector uint8, errorCode uint64, regs *gate.Registers, user interface{})
	registerHandlerFn = func(n uint8, fn gate.Handler, user interface{}) {
		fired = fn
	}
	outbFn = func(port uint16, value uint8) {}

	const countDrop = 1000
	pauseCalls := 0
	pauseFn = func() {
		pauseCalls++
		// Simulate the PIT firing during each round's busy-wait: drop the
		// LAPIC counter and invoke the registered handler once per round.
		*lapic.reg(regTimerCurrentCount) = maxTimerCount - countDrop
		fired(0, 0, nil, nil)
	}
	enableFn = func() {}
	disableFn = func() {}

	got := Calibrate(lapic, ioapic, 0x50)

	if got != countDrop/calibrationWindowMs {
		t.Fatalf("expected %d ticks/ms, got %d", countDrop/calibrationWindowMs, got)
	}
	if pauseCalls != calibrationRounds {
		t.Fatalf("expected one pause per round (%d), got %d", calibrationRounds, pauseCalls)
	}
}
