package proc

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

var errOutOfMemory = &kernel.Error{Module: "proc", Message: "out of memory"}

// stackSize and stackTop match spec.md's create_child contract: a 1MiB
// stack reserved at the top of the method-argument window, distinct from
// the 16TiB-ending stack an ELF-loaded process gets (vmm.UserStackTop), since a
// created child's argument window is the same 16-32TiB range its own
// method calls will later carve regions out of.
const (
	stackSize = uint64(1) * uint64(mem.Mb)
	stackTop  = uint64(vmm.ArgWindowEnd)
)

// MemoryDescriptor is one memory region a create_child caller asks the
// kernel to materialize for the new child: it is copied out of the
// caller's address space into freshly allocated, zeroed physical pages.
type MemoryDescriptor struct {
	SourceVirt uintptr
	Size       uint64
	Flags      vmm.Flags
	TargetVirt vmm.VirtAddr
}

// allocContigFn allocates n contiguous physical pages, returning their
// first physical address. Tests set it; nothing in the kernel build
// assigns it. allocator.AllocContig has the matching signature but does
// not zero the frames it returns.
var allocContigFn func(n uint64) (uintptr, bool)

// copyFromFn copies size bytes starting at src (a virtual address in the
// calling process's currently active address space) to dst (a physical
// address, reached through the identity map). Overridden in tests.
var copyFromFn func(dst, src uintptr, size uint64)

var identityAddrFn = func(phys uintptr) uintptr {
	return uintptr(vmm.IdentityAddr(vmm.PhysAddr(phys)))
}

// CreateChild implements syscall-3: it allocates a new process as a child
// of parent, reserves its 1MiB stack, and materializes every requested
// memory descriptor by allocating rounded-up physical pages, zeroing
// them, and copying the source bytes out of the parent's address space.
// The caller schedules the returned process (Scheduler.Add).
func (parent *Process) CreateChild(codeEntry uint64, descriptors []MemoryDescriptor) (*Process, *kernel.Error) {
	child := New()
	child.Self = weakRef(child)
	child.Parent = weakRef(parent)
	child.MainThread.Owner = weakRef(child)
	child.MainThread.Context.CodePtr = codeEntry

	stackPages := stackSize / uint64(mem.PageSize)
	stackPhys, ok := allocContigFn(stackPages)
	if !ok {
		return nil, errOutOfMemory
	}
	child.MainThread.Memory = append(child.MainThread.Memory, MemoryArea{
		Virt:  vmm.VirtAddr(stackTop - stackSize),
		Phys:  stackPhys,
		Flags: vmm.Flags{Writeable: true, User: true},
		Size:  stackSize,
	})
	child.MainThread.Context.StackPtr = stackTop - 8

	for _, desc := range descriptors {
		pages := (desc.Size + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
		phys, ok := allocContigFn(pages)
		if !ok {
			return nil, errOutOfMemory
		}
		virt := identityAddrFn(phys)
		zero(virt, pages*uint64(mem.PageSize))
		copyFromFn(virt, desc.SourceVirt, desc.Size)

		child.Memory = append(child.Memory, MemoryArea{
			Virt:  desc.TargetVirt,
			Phys:  phys,
			Flags: desc.Flags,
			Size:  pages * uint64(mem.PageSize),
		})
	}

	parent.Children = append(parent.Children, child)
	return child, nil
}

func zero(virt uintptr, size uint64) {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(virt)), size)
	for i := range buf {
		buf[i] = 0
	}
}
