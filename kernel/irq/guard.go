// Package irq provides the scoped interrupt guard used throughout the
// kernel to protect data mutated from both task and interrupt context.
package irq

import "github.com/NudelErde/CrackOS3/kernel/cpu"

const ifFlag = uint64(1) << 9

// readFlagsFn/disableFn/enableFn are overridden by tests.
var (
	readFlagsFn = cpu.ReadFlags
	disableFn   = cpu.DisableInterrupts
	enableFn    = cpu.EnableInterrupts
)

// Guard captures the caller's interrupt-flag state, disables interrupts,
// and restores the original state on Release. It must not leak IF=1 into a
// caller that itself expects interrupts to stay disabled after Release --
// a guard only restores what it personally observed at Enter.
type Guard struct {
	wasEnabled bool
}

// Enter starts a new interrupt-disabled critical section.
func Enter() *Guard {
	g := &Guard{wasEnabled: readFlagsFn()&ifFlag != 0}
	disableFn()
	return g
}

// Release restores interrupts to the state observed by Enter.
func (g *Guard) Release() {
	if g.wasEnabled {
		enableFn()
	}
}
