// Package syscall is the C10 dispatch point: a single vector (0x80, IST
// 0) demultiplexed by number onto the C9 process/IPC operations, with
// every call serialized by one global spinlock for its duration (§5).
package syscall

import (
	"github.com/NudelErde/CrackOS3/kernel/kfmt"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/proc"
	"github.com/NudelErde/CrackOS3/kernel/sync"
)

// Syscall numbers, as listed in spec.md §4.10.
const (
	NumDisown        = 0
	NumAdopt         = 1
	NumMakeFriend    = 2
	NumCreateChild   = 3
	NumSetName       = 4
	NumListProcesses = 5
	NumSendMessage   = 6
	NumAskAbilities  = 7
	NumDebugHalt     = 69
)

// lock is the "one global spinlock around all syscall dispatch" named in
// §5's shared-resource policy table.
var lock sync.Spinlock

// DisownData, AdoptData, ... are the per-syscall argument/result structs
// named in spec.md §6. They hold Go slices, strings and pointers, so they
// are not plain byte layouts; Dispatch's caller (the vector-0x80 gate
// handler) fills one in from the raw struct pointer the interrupt
// brought in RCX and passes it here typed.
type (
	DisownData struct{}

	AdoptData struct {
		Target proc.Descriptor
	}

	MakeFriendData struct {
		A, B proc.Descriptor
	}

	CreateChildData struct {
		CodeEntry   uint64
		Descriptors []proc.MemoryDescriptor
		Result      *proc.Process
	}

	SetNameData struct {
		Name string
	}

	ListProcessesData struct {
		Target       proc.Descriptor
		WithAdoption bool
		Children     []ProcessSummary
		Friends      []ProcessSummary
		Pending      []ProcessSummary
	}

	ProcessSummary struct {
		PID  proc.PID
		Name string
	}

	SendMessageData struct {
		Target     proc.Descriptor
		MethodID   int
		Arguments  []uint64
		CallerRoot pmm.Frame
		Result     uint64
	}

	AskAbilitiesData struct {
		Target  proc.Descriptor
		Methods []proc.MethodDescriptor
	}
)

// Dispatch demultiplexes one syscall for thread t's owning process,
// holding lock for the duration of the call. Unknown numbers are fatal,
// per spec.md §4.10.
func Dispatch(t *proc.Thread, number uint64, data interface{}) {
	lock.Acquire()
	defer lock.Release()

	switch number {
	case NumDisown:
		handleDisown(t, data.(*DisownData))
	case NumAdopt:
		handleAdopt(t, data.(*AdoptData))
	case NumMakeFriend:
		handleMakeFriend(t, data.(*MakeFriendData))
	case NumCreateChild:
		handleCreateChild(t, data.(*CreateChildData))
	case NumSetName:
		handleSetName(t, data.(*SetNameData))
	case NumListProcesses:
		handleListProcesses(t, data.(*ListProcessesData))
	case NumSendMessage:
		handleSendMessage(t, data.(*SendMessageData))
	case NumAskAbilities:
		handleAskAbilities(t, data.(*AskAbilitiesData))
	case NumDebugHalt:
		kfmt.Panic("syscall: debug halt requested")
	default:
		kfmt.Panic("syscall: unknown syscall number")
	}
}

func self(t *proc.Thread) (*proc.Process, bool) {
	return t.CurrentFor()
}

func handleDisown(t *proc.Thread, _ *DisownData) {
	p, ok := self(t)
	if !ok {
		return
	}
	if err := p.Disown(); err != nil {
		kfmt.Printf("syscall: disown failed: %s\n", err.Error())
	}
}

func handleAdopt(t *proc.Thread, data *AdoptData) {
	p, ok := self(t)
	if !ok {
		return
	}
	target, ok := p.GetProcessByDescriptor(data.Target, false)
	if !ok {
		kfmt.Printf("syscall: adopt target not found\n")
		return
	}
	if err := p.Adopt(target); err != nil {
		kfmt.Printf("syscall: adopt failed: %s\n", err.Error())
	}
}

func handleMakeFriend(t *proc.Thread, data *MakeFriendData) {
	p, ok := self(t)
	if !ok {
		return
	}
	a, ok := p.GetProcessByDescriptor(data.A, false)
	if !ok {
		kfmt.Printf("syscall: make_friend target A not found\n")
		return
	}
	b, ok := p.GetProcessByDescriptor(data.B, false)
	if !ok {
		kfmt.Printf("syscall: make_friend target B not found\n")
		return
	}
	proc.MakeFriend(a, b)
}

func handleSetName(t *proc.Thread, data *SetNameData) {
	p, ok := self(t)
	if !ok {
		return
	}
	p.Name = data.Name
}

func handleAskAbilities(t *proc.Thread, data *AskAbilitiesData) {
	p, ok := self(t)
	if !ok {
		return
	}
	if data.Target.Kind == proc.DescriptorSelf {
		p.RegisterMethods(data.Methods)
		return
	}
	target, ok := p.GetProcessByDescriptor(data.Target, false)
	if !ok {
		kfmt.Printf("syscall: ask_abilities target not found\n")
		return
	}
	data.Methods = target.Methods
}
