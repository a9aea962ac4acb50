// Package proc implements the process, thread and IPC model (C9): the
// context-switch primitive, the process/thread tree, the adopt/disown/
// friend relationships between processes, method registration, the
// send_message call path, and the round-robin scheduler that drives it
// all from the timer's notify callback.
package proc

import (
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

// PID identifies a process for its whole lifetime; pids are never reused.
type PID uint64

// MemoryArea is one mapped region of a thread's or process's address
// space: a physical region with the page flags it should be mapped with.
type MemoryArea struct {
	Virt  vmm.VirtAddr
	Phys  uintptr
	Flags vmm.Flags
	Size  uint64
}

// ExecuteContext is the pair of registers the context-switch primitive
// exchanges: the stack it resumes on and the instruction it resumes at.
type ExecuteContext struct {
	StackPtr uint64
	CodePtr  uint64
}

// Ref is a weak reference to a Process. A Process is strongly owned by
// exactly one list at a time — the scheduler's run queue, a parent's
// Children, or (after disown promotes a pending adoption) an adopter's
// Children — so every other pointer a process or thread holds to a
// process (Parent, Friends, PendingAdoption, Adopter, Self, a thread's
// Owner) is a Ref rather than a plain *Process: it must not keep the
// target alive on its own, and it must be able to report that the target
// has gone away. Go has no runtime-level weak pointer usable in a
// freestanding build, so liveness here is tracked explicitly: destroy
// marks a process dead, and Lock refuses to resolve a dead target.
type Ref struct {
	p *Process
}

// weakRef wraps p as a Ref.
func weakRef(p *Process) Ref {
	return Ref{p: p}
}

// Lock resolves r, or reports ok=false if r is empty or its target has
// been destroyed.
func (r Ref) Lock() (p *Process, ok bool) {
	if r.p == nil || r.p.dead {
		return nil, false
	}
	return r.p, true
}

// Valid reports whether r currently resolves to a live process.
func (r Ref) Valid() bool {
	_, ok := r.Lock()
	return ok
}

// ArgumentKind distinguishes how send_message computes an argument's
// (pointer, size) pair from the caller's argument vector.
type ArgumentKind int

const (
	// ArgFixedLength args (including plain number args, width=8 length=1)
	// consume one caller argument slot: size = Width*Length.
	ArgFixedLength ArgumentKind = iota
	// ArgDynamicLength args consume two slots: a pointer and an element
	// count; size = Width*count.
	ArgDynamicLength
	// ArgNullTerminated args consume one slot (a pointer) and scan memory
	// for a zero element of the declared width.
	ArgNullTerminated
)

// ArgumentDescriptor is one entry in a method's argument list.
type ArgumentDescriptor struct {
	Type   ArgumentKind
	Width  uint64
	Length uint64 // only meaningful for ArgFixedLength
}

// MethodDescriptor is one method a process has registered for other
// processes to call via send_message.
type MethodDescriptor struct {
	Name                  string
	Arguments             []ArgumentDescriptor
	ExpectedArgumentCount int
	CallAddress           uint64
}

// Thread is one schedulable execution context. WorkingIn is the stack of
// processes this thread is currently executing a called-into method of,
// innermost last; Owner is the thread's home process when WorkingIn is
// empty.
type Thread struct {
	Context   ExecuteContext
	Owner     Ref
	WorkingIn []*Process
	Memory    []MemoryArea
}

// current returns the process t is presently executing in: the top of
// WorkingIn, or Owner if t has not called into anyone.
func (t *Thread) current() (*Process, bool) {
	if n := len(t.WorkingIn); n > 0 {
		return t.WorkingIn[n-1], true
	}
	return t.Owner.Lock()
}

// CurrentFor is current's exported form, for callers (kernel/syscall)
// outside this package that need to resolve which process a syscall
// should operate on.
func (t *Thread) CurrentFor() (*Process, bool) {
	return t.current()
}

// Process is one process in the capability tree: its registered methods,
// its relationships to other processes, and the memory it owns.
type Process struct {
	Methods []MethodDescriptor
	Name    string
	PID     PID

	MainThread Thread

	Parent          Ref
	Children        []*Process
	Friends         []Ref
	PendingAdoption []Ref
	Adopter         Ref
	Self            Ref

	Memory []MemoryArea

	// MethodCallArgumentMemory is the ordered-by-virtual-address map of
	// regions send_message has recorded in this process's method-argument
	// window (16TiB-32TiB) for calls currently in flight against it.
	MethodCallArgumentMemory *argWindow

	dead bool
}

var nextPID PID

// New allocates a process with a fresh pid and an empty argument window.
// The caller is responsible for setting Self once the process has a
// stable address (mirroring original_source's process()/self wiring,
// which can only point a weak self-reference at an already-allocated
// shared_ptr).
func New() *Process {
	p := &Process{PID: nextPID, MethodCallArgumentMemory: newArgWindow()}
	nextPID++
	return p
}

// destroy marks p dead: every Ref pointed at it stops resolving. Called
// only when p's one strong owner drops it without promoting it elsewhere
// (the "dropped" branch of disown).
func (p *Process) destroy() {
	p.dead = true
}
