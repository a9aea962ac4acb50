package timer

import (
	"testing"

	"github.com/NudelErde/CrackOS3/kernel/apic"
	"github.com/NudelErde/CrackOS3/kernel/gate"
)

func resetTimerState(t *testing.T) {
	t.Helper()
	savedEnable, savedDisable, savedPause, savedRegister := enableFn, disableFn, pauseFn, registerHandlerFn
	savedDivide, savedLVT, savedCount, savedEOI :=
		setTimerDivideFn, setTimerLVTFn, setTimerInitialCountFn, sendEOIFn

	setTimerDivideFn = func(uint32) {}
	setTimerLVTFn = func(uint8, bool) {}
	setTimerInitialCountFn = func(uint32) {}
	sendEOIFn = func() {}

	t.Cleanup(func() {
		enableFn, disableFn, pauseFn, registerHandlerFn = savedEnable, savedDisable, savedPause, savedRegister
		setTimerDivideFn, setTimerLVTFn, setTimerInitialCountFn, sendEOIFn =
			savedDivide, savedLVT, savedCount, savedEOI
		ticksNeeded, prevInit, callback, sleeping = 0, 0, nil, false
	})
}

func TestInitRegistersHandler(t *testing.T) {
	resetTimerState(t)

	var registeredVector uint8
	registerHandlerFn = func(n uint8, fn gate.Handler, user interface{}) { registeredVector = n }

	Init(apic.LocalAPIC{}, 0x40, 1000)

	if registeredVector != 0x40 {
		t.Fatalf("expected vector 0x40 to be registered, got 0x%x", registeredVector)
	}
	if ticksPerMs != 1000 {
		t.Fatalf("expected ticksPerMs 1000, got %d", ticksPerMs)
	}
}

func TestOnFireRunsCallbackOnceFullyElapsed(t *testing.T) {
	resetTimerState(t)
	ticksPerMs = 1

	ran := 0
	Notify(5, func() { ran++ })
	if ticksNeeded != 5 {
		t.Fatalf("expected ticksNeeded 5, got %d", ticksNeeded)
	}

	onFire(0, 0, nil, nil)
	if ran != 1 {
		t.Fatalf("expected callback to run once, got %d", ran)
	}
	if ticksNeeded != 0 {
		t.Fatalf("expected ticksNeeded to reach 0, got %d", ticksNeeded)
	}
}

func TestOnFireReloadsForRemainder(t *testing.T) {
	resetTimerState(t)
	ticksPerMs = 1

	const tooBig = maxTicks + 100
	ticksNeeded = tooBig
	arm()
	if prevInit != maxTicks {
		t.Fatalf("expected first arm to clamp to maxTicks, got %d", prevInit)
	}

	onFire(0, 0, nil, nil)
	if ticksNeeded != 100 {
		t.Fatalf("expected 100 ticks remaining after first firing, got %d", ticksNeeded)
	}
	if prevInit != 100 {
		t.Fatalf("expected the reload to arm exactly the remainder, got %d", prevInit)
	}
}

func TestSleepBusyWaitsUntilElapsed(t *testing.T) {
	resetTimerState(t)
	ticksPerMs = 1

	enableCalls := 0
	enableFn = func() { enableCalls++ }
	pauseCalls := 0
	pauseFn = func() {
		pauseCalls++
		onFire(0, 0, nil, nil)
	}

	Sleep(3)

	if enableCalls != 1 {
		t.Fatalf("expected interrupts to be enabled once, got %d calls", enableCalls)
	}
	if pauseCalls != 1 {
		t.Fatalf("expected one pause/fire cycle to drain the 3 armed ticks, got %d", pauseCalls)
	}
	if sleeping {
		t.Fatal("expected sleeping flag to be cleared after Sleep returns")
	}
}

func TestSleepPanicsOnOverlap(t *testing.T) {
	resetTimerState(t)
	sleeping = true

	defer func() {
		if recover() == nil {
			t.Fatal("expected Sleep to panic when already sleeping")
		}
	}()
	Sleep(1)
}
