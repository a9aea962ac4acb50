package vmm

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/mem"
)

// goRuntimeCursor bumps forward through the dedicated 32-64TiB arena set
// aside for the Go runtime's own allocator (maps, slices, interfaces); it
// is distinct from C3's kmalloc arenas, which back explicit kernel/process
// allocations instead of ordinary Go values.
var goRuntimeCursor uintptr = GoRuntimeArenaBase

var errGoRuntimeArenaExhausted = &kernel.Error{
	Module:  "vmm",
	Message: "go runtime arena exhausted",
}

// EarlyReserveRegion reserves size bytes of virtual address space in the Go
// runtime arena without mapping any physical memory, for use by the
// bootstrapped Go allocator's sysReserve/sysAlloc hooks.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	rounded := PageRound(size)
	if goRuntimeCursor+uintptr(rounded) > GoRuntimeArenaEnd {
		return 0, errGoRuntimeArenaExhausted
	}
	addr := goRuntimeCursor
	goRuntimeCursor += uintptr(rounded)
	return addr, nil
}
