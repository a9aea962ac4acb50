package proc

import (
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

// enter is the context-switch primitive: it saves the caller's current
// stack pointer and a resume address into *oldStack/*oldCode, then
// switches to stack/code. Control returns to the caller (with oldStack/
// oldCode populated) the next time some other call to enter names that
// resume point as its own target — i.e. enter is how the scheduler both
// leaves the kernel context to run a thread and how a thread falls back
// into the kernel context when its slice ends.
//
// Implemented in assembly (pushes/restores every general-purpose
// register around the stack swap, per original_source's enter()); no Go
// body exists for it, matching the declaration-only convention
// kernel/smp uses for its trampoline entry points.
func enter(stack, code uint64, oldStack, oldCode *uint64)

// callIndirect invokes the function at functionPointer with the first
// argumentCount entries of arguments marshaled into the System V x86-64
// integer-argument ABI (RDI, RSI, RDX, RCX, R8, R9, then the stack,
// 16-byte aligned), returning its RAX. send_message uses this to jump
// into a registered method's call address without the compiler needing a
// fixed-arity Go function type for every possible method signature.
//
// Implemented in assembly, per original_source's call_indirect(); no Go
// body exists for it, matching kernel/smp's declaration-only convention.
func callIndirect(functionPointer uint64, arguments *uint64, argumentCount uint64) uint64

// kernelContext is the per-boot-CPU slot enter() swaps a thread's
// context against. Only the boot CPU is ever ticked (§5: application
// processors stay parked), so a single package-level slot is enough —
// unlike original_source's per-core kernel_context/current_thread arrays,
// which exist for a scheduler that ticks every core.
var kernelContext ExecuteContext

// current is the thread presently executing, or nil when the scheduler
// itself is running (no thread entered yet, or the last one just
// returned).
var current *Thread

// Current returns the thread presently executing, if any.
func Current() (*Thread, bool) {
	if current == nil {
		return nil, false
	}
	return current, true
}

var (
	mapFn        = vmm.Map
	flushCacheFn = flushCache

	// enterFn/callIndirectFn wrap the two asm-only primitives above so
	// tests can exercise the scheduler and send_message's call path
	// without a real context switch or indirect call underneath them.
	enterFn        = enter
	callIndirectFn = callIndirect
)

// flushCache invalidates cached address-translation state after a batch
// of mappings changes; on this architecture that is a TLB flush per page,
// already performed by vmm.Map itself, so entering a thread has nothing
// further to do beyond the per-page flushes Map issued along the way.
// The hook exists so a future global invalidation (e.g. reloading CR3)
// has a single call site to replace.
func flushCache() {}

// mapAreas installs every area of areas into root's address space.
func mapAreas(root pmm.Frame, areas []MemoryArea) {
	for _, a := range areas {
		for off := uint64(0); off < a.Size; off += uint64(mem.PageSize) {
			mapFn(root, vmm.PhysAddr(a.Phys+uintptr(off)), a.Virt+vmm.VirtAddr(off), a.Flags)
		}
	}
}

// EnterThread performs the four steps spec.md names for entering a
// thread: map the thread's own memory areas, map the memory areas of the
// process it is presently executing in (the top of WorkingIn, or its
// Owner), flush the TLB, and switch context into its saved stack/code.
// It returns once the thread falls back out to the kernel context (its
// slice having ended, or the thread having returned from its entry
// point), with t.Context holding wherever it left off.
func EnterThread(root pmm.Frame, t *Thread) bool {
	proc, ok := t.current()
	if !ok {
		return false
	}

	mapAreas(root, t.Memory)
	mapAreas(root, proc.Memory)
	flushCacheFn()

	current = t
	enterFn(t.Context.StackPtr, t.Context.CodePtr, &kernelContext.StackPtr, &kernelContext.CodePtr)
	current = nil
	return true
}

// preempt is installed as the timer's notify callback while a thread is
// running (see Scheduler.RunOneSlice): fired from the timer interrupt
// handler on the running thread's own stack, it swaps back to the resume
// point EnterThread saved in kernelContext, saving the thread's
// live register state into its own Context so it can be resumed later
// exactly where it left off. This is the same enter() primitive used in
// both directions — original_source's onFire does the same from its
// naked-asm timer ISR.
func preempt() {
	if current == nil {
		return
	}
	t := current
	enterFn(kernelContext.StackPtr, kernelContext.CodePtr, &t.Context.StackPtr, &t.Context.CodePtr)
}
