package syscall

import (
	"testing"

	"github.com/NudelErde/CrackOS3/kernel/proc"
)

// selfRefFor returns a proc.Ref that resolves to p. proc.Ref has no
// exported constructor (by design — see kernel/proc's grounding notes on
// weak references), so tests outside that package build one the same way
// any other relationship between two processes is recorded: through
// proc.MakeFriend, which is happy to link two freshly made processes.
func selfRefFor(p *proc.Process) proc.Ref {
	holder := proc.New()
	proc.MakeFriend(p, holder)
	return holder.Friends[len(holder.Friends)-1]
}

func TestDispatchSetName(t *testing.T) {
	p := proc.New()
	th := &proc.Thread{Owner: selfRefFor(p)}

	Dispatch(th, NumSetName, &SetNameData{Name: "shell"})

	if p.Name != "shell" {
		t.Fatalf("p.Name = %q, want %q", p.Name, "shell")
	}
}

func TestDispatchDisownWithoutAdopterDestroysChild(t *testing.T) {
	parent := proc.New()
	child := proc.New()
	child.Parent = selfRefFor(parent)
	parent.Children = append(parent.Children, child)

	watcher := proc.New()
	proc.MakeFriend(child, watcher)
	ref := watcher.Friends[len(watcher.Friends)-1]

	th := &proc.Thread{Owner: selfRefFor(child)}
	Dispatch(th, NumDisown, &DisownData{})

	if len(parent.Children) != 0 {
		t.Fatalf("expected child removed from parent.Children, got %d entries", len(parent.Children))
	}
	if ref.Valid() {
		t.Fatalf("expected the disowned, adopter-less child to be destroyed")
	}
}

func TestDispatchAdoptLinksTargetAsPendingAdoption(t *testing.T) {
	caller := proc.New()
	target := proc.New()
	proc.MakeFriend(target, caller)

	th := &proc.Thread{Owner: selfRefFor(caller)}
	Dispatch(th, NumAdopt, &AdoptData{Target: proc.Descriptor{Kind: proc.DescriptorPID, PID: target.PID}})

	if len(caller.PendingAdoption) != 1 {
		t.Fatalf("expected one pending adoption entry, got %d", len(caller.PendingAdoption))
	}
	if got, ok := target.Adopter.Lock(); !ok || got != caller {
		t.Fatalf("target.Adopter = %v, %v; want caller", got, ok)
	}
}

func TestDispatchMakeFriendLinksBResolvedTargets(t *testing.T) {
	caller := proc.New()
	a := proc.New()
	b := proc.New()
	proc.MakeFriend(a, caller)
	proc.MakeFriend(b, caller)

	th := &proc.Thread{Owner: selfRefFor(caller)}
	Dispatch(th, NumMakeFriend, &MakeFriendData{
		A: proc.Descriptor{Kind: proc.DescriptorPID, PID: a.PID},
		B: proc.Descriptor{Kind: proc.DescriptorPID, PID: b.PID},
	})

	if len(b.Friends) != 1 {
		t.Fatalf("expected make_friend(a, b) to add exactly one entry to b.Friends, got %d", len(b.Friends))
	}
	if got, ok := b.Friends[0].Lock(); !ok || got != a {
		t.Fatalf("b.Friends[0] = %v, %v; want a", got, ok)
	}
}

func TestDispatchAskAbilitiesSelfRegistersMethods(t *testing.T) {
	p := proc.New()
	th := &proc.Thread{Owner: selfRefFor(p)}

	Dispatch(th, NumAskAbilities, &AskAbilitiesData{
		Target:  proc.Descriptor{Kind: proc.DescriptorSelf},
		Methods: []proc.MethodDescriptor{{Name: "m"}},
	})

	if len(p.Methods) != 1 || p.Methods[0].Name != "m" {
		t.Fatalf("expected self-registration to install one method, got %v", p.Methods)
	}
}

func TestDispatchAskAbilitiesRemoteReadsTargetMethods(t *testing.T) {
	caller := proc.New()
	target := proc.New()
	proc.MakeFriend(target, caller)
	target.RegisterMethods([]proc.MethodDescriptor{{Name: "echo"}})

	th := &proc.Thread{Owner: selfRefFor(caller)}
	data := &AskAbilitiesData{Target: proc.Descriptor{Kind: proc.DescriptorPID, PID: target.PID}}
	Dispatch(th, NumAskAbilities, data)

	if len(data.Methods) != 1 || data.Methods[0].Name != "echo" {
		t.Fatalf("expected data.Methods to be filled with target's methods, got %v", data.Methods)
	}
}

func TestDispatchListProcessesEnumeratesChildrenAndFriends(t *testing.T) {
	self := proc.New()
	self.Self = selfRefFor(self)
	child := proc.New()
	child.Name = "kid"
	child.Parent = selfRefFor(self)
	self.Children = append(self.Children, child)

	friend := proc.New()
	friend.Name = "buddy"
	proc.MakeFriend(friend, self)

	th := &proc.Thread{Owner: selfRefFor(self)}
	data := &ListProcessesData{Target: proc.Descriptor{Kind: proc.DescriptorSelf}}
	Dispatch(th, NumListProcesses, data)

	if len(data.Children) != 1 || data.Children[0].PID != child.PID || data.Children[0].Name != "kid" {
		t.Fatalf("data.Children = %v, want one entry for child", data.Children)
	}
	if len(data.Friends) != 1 || data.Friends[0].PID != friend.PID || data.Friends[0].Name != "buddy" {
		t.Fatalf("data.Friends = %v, want one entry for friend", data.Friends)
	}
	if data.Pending != nil {
		t.Fatalf("expected no pending-adoption entries without WithAdoption, got %v", data.Pending)
	}
}

func TestDispatchSendMessageUnresolvableTargetLeavesResultZero(t *testing.T) {
	caller := proc.New()
	th := &proc.Thread{Owner: selfRefFor(caller)}

	data := &SendMessageData{Target: proc.Descriptor{Kind: proc.DescriptorPID, PID: proc.PID(999999999)}}
	Dispatch(th, NumSendMessage, data)

	if data.Result != 0 {
		t.Fatalf("expected Result to stay zero when the target cannot be resolved, got %d", data.Result)
	}
}

func TestSetSchedulerInstallsHook(t *testing.T) {
	called := false
	SetScheduler(func(*proc.Process) { called = true })
	t.Cleanup(func() { SetScheduler(nil) })

	schedulerFn(proc.New())

	if !called {
		t.Fatalf("expected the installed scheduler hook to run")
	}
}
