package proc

import (
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/timer"
)

// notifyFn arms a one-shot timer that invokes cb after ms milliseconds;
// overridden in tests and bound to kernel/timer.Notify in the real
// kernel. Scheduler does not call kernel/timer's Notify directly so
// that tests can drive slice-end deterministically instead of through a
// simulated LAPIC timer.
var notifyFn = timer.Notify

// Scheduler is the round-robin, run-to-completion-of-timeslice loop named
// in scheduler.h: init()/add_process()/run_one_slice(duration) map onto
// NewScheduler/Add/RunOneSlice. It ticks only the boot CPU (§5);
// application processors stay parked in this revision.
type Scheduler struct {
	ready []*Process
	pos   int
}

// NewScheduler returns an empty scheduler, matching scheduler::init()'s
// role of giving the boot CPU a fresh run queue.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add enrolls p's main thread in the run queue. A process stays enrolled
// until explicitly removed (Remove) — disown/destroy does not implicitly
// drop it, mirroring scheduler.h's thin add-only interface.
func (s *Scheduler) Add(p *Process) {
	s.ready = append(s.ready, p)
}

// Remove drops p from the run queue, if present.
func (s *Scheduler) Remove(p *Process) {
	for i, q := range s.ready {
		if q == p {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			if s.pos > i {
				s.pos--
			}
			if s.pos >= len(s.ready) {
				s.pos = 0
			}
			return
		}
	}
}

// Len reports how many processes are currently enrolled.
func (s *Scheduler) Len() int { return len(s.ready) }

// RunOneSlice enters the next ready process's main thread for
// approximately ms milliseconds (arming the timer-driven preempt
// callback before entering, so the slice ends via the same context-
// switch primitive used to start it), then advances to the following
// process for next time. It is a no-op if nothing is enrolled, and skips
// over any process that has been destroyed since it was enrolled.
func (s *Scheduler) RunOneSlice(root pmm.Frame, ms uint32) {
	n := len(s.ready)
	if n == 0 {
		return
	}
	for tried := 0; tried < n; tried++ {
		p := s.ready[s.pos]
		s.pos = (s.pos + 1) % n
		if p.dead {
			continue
		}
		notifyFn(ms, preempt)
		EnterThread(root, &p.MainThread)
		return
	}
}
