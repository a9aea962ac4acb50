package proc

import (
	"testing"

	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

func resetSchedulerStubs(t *testing.T) {
	t.Helper()
	savedNotify, savedEnter, savedMap, savedFlush := notifyFn, enterFn, mapFn, flushCacheFn
	savedCurrent := current
	t.Cleanup(func() {
		notifyFn, enterFn, mapFn, flushCacheFn = savedNotify, savedEnter, savedMap, savedFlush
		current = savedCurrent
	})
}

func schedulableProcess() *Process {
	p := New()
	p.Self = weakRef(p)
	p.MainThread.Owner = weakRef(p)
	return p
}

func TestSchedulerAddAndRemove(t *testing.T) {
	s := NewScheduler()
	a, b := schedulableProcess(), schedulableProcess()
	s.Add(a)
	s.Add(b)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	s.Remove(a)
	if s.Len() != 1 {
		t.Fatalf("Len() after Remove = %d, want 1", s.Len())
	}
	s.Remove(a)
	if s.Len() != 1 {
		t.Fatalf("Remove of an absent process must be a no-op, Len() = %d", s.Len())
	}
}

func TestSchedulerRunOneSliceRotatesRoundRobin(t *testing.T) {
	resetSchedulerStubs(t)
	mapFn = func(pmm.Frame, vmm.PhysAddr, vmm.VirtAddr, vmm.Flags) {}
	flushCacheFn = func() {}
	notifyFn = func(ms uint32, cb func()) {}

	var ranThreads []*Thread
	enterFn = func(stack, code uint64, oldStack, oldCode *uint64) {
		ranThreads = append(ranThreads, current)
	}

	s := NewScheduler()
	a, b := schedulableProcess(), schedulableProcess()
	s.Add(a)
	s.Add(b)

	s.RunOneSlice(pmm.Frame(0), 10)
	s.RunOneSlice(pmm.Frame(0), 10)
	s.RunOneSlice(pmm.Frame(0), 10)

	if len(ranThreads) != 3 {
		t.Fatalf("expected 3 slices run, got %d", len(ranThreads))
	}
	want := []*Thread{&a.MainThread, &b.MainThread, &a.MainThread}
	for i, th := range want {
		if ranThreads[i] != th {
			t.Fatalf("slice %d ran thread %v, want %v (round-robin order a, b, a)", i, ranThreads[i], th)
		}
	}
}

func TestSchedulerRunOneSliceSkipsDeadProcesses(t *testing.T) {
	resetSchedulerStubs(t)
	mapFn = func(pmm.Frame, vmm.PhysAddr, vmm.VirtAddr, vmm.Flags) {}
	flushCacheFn = func() {}
	notifyFn = func(ms uint32, cb func()) {}

	var ranThreads []*Thread
	enterFn = func(stack, code uint64, oldStack, oldCode *uint64) {
		ranThreads = append(ranThreads, current)
	}

	s := NewScheduler()
	dead := schedulableProcess()
	dead.dead = true
	live := schedulableProcess()
	s.Add(dead)
	s.Add(live)

	s.RunOneSlice(pmm.Frame(0), 10)

	if len(ranThreads) != 1 || ranThreads[0] != &live.MainThread {
		t.Fatalf("expected only the live process's thread to run, got %v", ranThreads)
	}
}

func TestSchedulerRunOneSliceNoOpWhenEmpty(t *testing.T) {
	resetSchedulerStubs(t)
	called := false
	notifyFn = func(ms uint32, cb func()) { called = true }

	s := NewScheduler()
	s.RunOneSlice(pmm.Frame(0), 10)

	if called {
		t.Fatalf("expected RunOneSlice to do nothing when the run queue is empty")
	}
}
