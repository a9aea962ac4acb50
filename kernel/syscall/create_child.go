package syscall

import (
	"github.com/NudelErde/CrackOS3/kernel/kfmt"
	"github.com/NudelErde/CrackOS3/kernel/proc"
)

// schedulerFn enrolls a newly created child in the run queue; bound to
// the live Scheduler at boot time. create_child's own sequence ends with
// "schedule the child" (spec.md §4.10) without otherwise naming a
// scheduler type, so Dispatch reaches it through this seam rather than
// importing a concrete *proc.Scheduler.
var schedulerFn func(*proc.Process)

// SetScheduler installs the function create_child uses to enroll a new
// child process once it has been materialized.
func SetScheduler(fn func(*proc.Process)) {
	schedulerFn = fn
}

func handleCreateChild(t *proc.Thread, data *CreateChildData) {
	p, ok := self(t)
	if !ok {
		return
	}
	child, err := p.CreateChild(data.CodeEntry, data.Descriptors)
	if err != nil {
		kfmt.Printf("syscall: create_child failed: %s\n", err.Error())
		return
	}
	data.Result = child
	if schedulerFn != nil {
		schedulerFn(child)
	}
}

func handleSendMessage(t *proc.Thread, data *SendMessageData) {
	result, err := t.SendMessage(proc.SendMessageArgs{
		Target:     data.Target,
		MethodID:   data.MethodID,
		Arguments:  data.Arguments,
		CallerRoot: data.CallerRoot,
	})
	if err != nil {
		kfmt.Printf("syscall: send_message failed: %s\n", err.Error())
		return
	}
	data.Result = result
}

func handleListProcesses(t *proc.Thread, data *ListProcessesData) {
	p, ok := self(t)
	if !ok {
		return
	}
	target, ok := p.GetProcessByDescriptor(data.Target, data.WithAdoption)
	if !ok {
		kfmt.Printf("syscall: list_processes target not found\n")
		return
	}
	target.CleanupDead()

	for _, child := range target.Children {
		data.Children = append(data.Children, ProcessSummary{PID: child.PID, Name: child.Name})
	}
	for _, ref := range target.Friends {
		if friend, ok := ref.Lock(); ok {
			data.Friends = append(data.Friends, ProcessSummary{PID: friend.PID, Name: friend.Name})
		}
	}
	if data.WithAdoption {
		for _, ref := range target.PendingAdoption {
			if pending, ok := ref.Lock(); ok {
				data.Pending = append(data.Pending, ProcessSummary{PID: pending.PID, Name: pending.Name})
			}
		}
	}
}
