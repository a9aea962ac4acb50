package syscall

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel/gate"
	"github.com/NudelErde/CrackOS3/kernel/kfmt"
	"github.com/NudelErde/CrackOS3/kernel/proc"
)

// RegisterGateHandler installs the vector-0x80 handler spec.md §4.10
// names, IST 0. gate.Registers.Info already carries "the syscall number
// for syscall entries" per its own doc comment, so the number needs no
// separate convention; RCX carries a pointer to the per-syscall struct
// for that number, built in kernel memory by whatever trapped (the boot
// work that wires real user processes through this path still needs to
// decide how a request originating in a loaded ELF binary gets such a
// struct built on its behalf, since none of those structs are POD byte
// layouts a raw int 0x80 from unprivileged code could have populated
// directly — see DESIGN.md's C10 entry).
func RegisterGateHandler() {
	gate.RegisterHandler(0x80, func(vector uint8, errorCode uint64, regs *gate.Registers, user interface{}) {
		t, ok := proc.Current()
		if !ok {
			kfmt.Panic("syscall: vector 0x80 trapped with no thread entered")
		}
		data := dataFor(regs.Info, regs.RCX)
		if data == nil {
			kfmt.Panic("syscall: unknown syscall number")
		}
		Dispatch(t, regs.Info, data)
	}, nil)
}

// dataFor reinterprets ptr as the typed struct pointer Dispatch expects
// for the given syscall number, matching Dispatch's own switch.
func dataFor(number uint64, ptr uint64) interface{} {
	switch number {
	case NumDisown:
		return (*DisownData)(unsafe.Pointer(uintptr(ptr)))
	case NumAdopt:
		return (*AdoptData)(unsafe.Pointer(uintptr(ptr)))
	case NumMakeFriend:
		return (*MakeFriendData)(unsafe.Pointer(uintptr(ptr)))
	case NumCreateChild:
		return (*CreateChildData)(unsafe.Pointer(uintptr(ptr)))
	case NumSetName:
		return (*SetNameData)(unsafe.Pointer(uintptr(ptr)))
	case NumListProcesses:
		return (*ListProcessesData)(unsafe.Pointer(uintptr(ptr)))
	case NumSendMessage:
		return (*SendMessageData)(unsafe.Pointer(uintptr(ptr)))
	case NumAskAbilities:
		return (*AskAbilitiesData)(unsafe.Pointer(uintptr(ptr)))
	case NumDebugHalt:
		return (*DisownData)(nil) // unused by Dispatch's debug-halt branch, just needs to be non-nil
	default:
		return nil
	}
}
