package proc

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

var (
	errMethodNotFound   = &kernel.Error{Module: "proc", Message: "method id out of bounds"}
	errTargetNotFound   = &kernel.Error{Module: "proc", Message: "send_message target not found"}
	errTooFewArguments  = &kernel.Error{Module: "proc", Message: "not enough arguments for dynamic-length parameter"}
	errNoVirtualSpace   = &kernel.Error{Module: "proc", Message: "no free virtual memory in target's argument window"}
	errUnmappedArgument = &kernel.Error{Module: "proc", Message: "argument memory is not mapped in the caller"}
)

// RegisterMethods implements syscall-7 on self: it replaces self's
// Methods with descriptors, recomputing each one's ExpectedArgumentCount
// (one caller-argument slot per fixed-length/null-terminated argument,
// two for every dynamic-length one, matching
// process::add_kernel_method_by_array).
func (self *Process) RegisterMethods(methods []MethodDescriptor) {
	out := make([]MethodDescriptor, len(methods))
	for i, m := range methods {
		m.ExpectedArgumentCount = 0
		for _, a := range m.Arguments {
			if a.Type == ArgDynamicLength {
				m.ExpectedArgumentCount += 2
			} else {
				m.ExpectedArgumentCount++
			}
		}
		out[i] = m
	}
	self.Methods = out
}

// translateFn resolves a virtual address in the caller's currently
// active address space to its backing physical address; send_message
// uses it to find the physical pages behind an argument buffer so it can
// map the same pages into the target's window. Overridden in tests.
var translateFn = func(root pmm.Frame, virt uintptr) (uintptr, bool) {
	phys, ok := vmm.Translate(root, vmm.VirtAddr(virt))
	return uintptr(phys), ok
}

// nullTerminatedLength scans memory at ptr in width-sized elements until
// it finds one whose every byte is zero, returning the element count
// before it.
func nullTerminatedLength(ptr uintptr, width uint64) uint64 {
	var n uint64
	for {
		allZero := true
		base := ptr + uintptr(n*width)
		for i := uint64(0); i < width; i++ {
			if *(*byte)(unsafe.Pointer(base + uintptr(i))) != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			return n
		}
		n++
	}
}

// SendMessageArgs is the marshaled form of a send_message syscall: the
// caller's raw argument vector (interpreted per the target method's
// ArgumentDescriptor list) and the root of the caller's active address
// space, needed to translate argument pointers to physical pages.
type SendMessageArgs struct {
	Target     Descriptor
	MethodID   int
	Arguments  []uint64
	CallerRoot pmm.Frame
}

// installedRegion records one region send_message mapped into the
// target's argument window, so it can be unmapped on return.
type installedRegion struct {
	key uint64
}

// SendMessage implements syscall-6 for thread t (owned by process S),
// per spec.md's six-step method-invocation sequence: resolve the target,
// push it onto t.WorkingIn, compute each argument's (ptr, size), record
// the backing pages as regions of the target's 16-32TiB window in
// MethodCallArgumentMemory, invoke the method, then unwind. It writes no
// page-table entries for those regions and does not reload the target's
// address space before the call.
func (t *Thread) SendMessage(args SendMessageArgs) (uint64, *kernel.Error) {
	caller, ok := t.current()
	if !ok {
		return 0, errTargetNotFound
	}
	target, ok := caller.GetProcessByDescriptor(args.Target, false)
	if !ok {
		return 0, errTargetNotFound
	}
	if args.MethodID < 0 || args.MethodID >= len(target.Methods) {
		return 0, errMethodNotFound
	}
	method := target.Methods[args.MethodID]

	t.WorkingIn = append(t.WorkingIn, target)
	var installed []installedRegion
	cleanup := func() {
		for _, r := range installed {
			target.MethodCallArgumentMemory.remove(r.key)
		}
		t.WorkingIn = t.WorkingIn[:len(t.WorkingIn)-1]
	}

	callArgs := make([]uint64, 0, len(method.Arguments))
	dataIdx := 0
	for _, arg := range method.Arguments {
		var ptr, size uint64
		switch arg.Type {
		case ArgFixedLength:
			if dataIdx >= len(args.Arguments) {
				cleanup()
				return 0, errTooFewArguments
			}
			ptr = args.Arguments[dataIdx]
			size = arg.Width * arg.Length
		case ArgDynamicLength:
			if dataIdx+1 >= len(args.Arguments) {
				cleanup()
				return 0, errTooFewArguments
			}
			ptr = args.Arguments[dataIdx]
			size = arg.Width * args.Arguments[dataIdx+1]
			dataIdx++
		case ArgNullTerminated:
			if dataIdx >= len(args.Arguments) {
				cleanup()
				return 0, errTooFewArguments
			}
			ptr = args.Arguments[dataIdx]
			size = nullTerminatedLength(uintptr(ptr), arg.Width) * arg.Width
		}
		dataIdx++
		callArgs = append(callArgs, ptr)

		if size == 0 {
			continue
		}
		mappedPtr, regions, err := t.installArgument(target, args.CallerRoot, uintptr(ptr), size)
		if err != nil {
			cleanup()
			return 0, err
		}
		installed = append(installed, regions...)
		callArgs[len(callArgs)-1] = mappedPtr
	}

	var argsPtr *uint64
	if len(callArgs) > 0 {
		argsPtr = &callArgs[0]
	}
	result := callIndirectFn(method.CallAddress, argsPtr, uint64(len(callArgs)))
	cleanup()
	return result, nil
}

// installArgument records the physical pages backing [ptr, ptr+size) in
// the caller's address space as regions at a freshly found gap in target's
// argument window, splitting across contiguity breaks in the source's physical
// backing exactly as spec.md's step 4 describes, and returns the
// installed region(s) so SendMessage can record them for cleanup.
func (t *Thread) installArgument(target *Process, callerRoot pmm.Frame, ptr uintptr, size uint64) (uint64, []installedRegion, *kernel.Error) {
	pageSize := uint64(mem.PageSize)
	alignedStart := uintptr(ptr) &^ uintptr(pageSize-1)
	off := uint64(ptr) - uint64(alignedStart)
	mappedSize := (off + size + pageSize - 1) &^ (pageSize - 1)

	base, ok := findWindowGap(target.MethodCallArgumentMemory, mappedSize)
	if !ok {
		return 0, nil, errNoVirtualSpace
	}

	var installed []installedRegion
	var curVirt, curPhys uint64
	var curLen uint64
	flush := func() {
		if curLen == 0 {
			return
		}
		key := curVirt
		target.MethodCallArgumentMemory.insert(MemoryArea{
			Virt:  vmm.VirtAddr(curVirt),
			Phys:  uintptr(curPhys),
			Flags: vmm.Flags{Writeable: true, User: true},
			Size:  curLen,
		})
		installed = append(installed, installedRegion{key: key})
	}

	for o := uint64(0); o < mappedSize; o += pageSize {
		phys, ok := translateFn(callerRoot, alignedStart+uintptr(o))
		if !ok {
			for _, r := range installed {
				target.MethodCallArgumentMemory.remove(r.key)
			}
			return 0, nil, errUnmappedArgument
		}
		virt := base + o
		if curLen > 0 && curPhys+curLen == uint64(phys) {
			curLen += pageSize
		} else {
			flush()
			curVirt, curPhys, curLen = virt, uint64(phys), pageSize
		}
	}
	flush()

	return base + off, installed, nil
}

// findWindowGap walks w in key order looking for the first gap of at
// least size bytes between the method-argument window's base (16TiB) and
// its end (32TiB), per spec.md's "walking the ordered map in key order to
// find the first gap".
func findWindowGap(w *argWindow, size uint64) (uint64, bool) {
	pageSize := uint64(mem.PageSize)
	lastEnd := uint64(vmm.ArgWindowBase)
	found := uint64(0)
	ok := false
	w.iterate(func(area MemoryArea) bool {
		start := uint64(area.Virt)
		if start-lastEnd >= size {
			found = lastEnd
			ok = true
			return false
		}
		lastEnd = (start + area.Size + pageSize - 1) &^ (pageSize - 1)
		return true
	})
	if ok {
		return found, true
	}
	if uint64(vmm.ArgWindowEnd)-lastEnd < size {
		return 0, false
	}
	return lastEnd, true
}
