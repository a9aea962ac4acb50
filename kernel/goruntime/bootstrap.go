// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm/allocator"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

var (
	earlyReserveRegionFn = vmm.EarlyReserveRegion
	frameAllocFn         = allocator.AllocFrame
	mallocInitFn         = mallocInit
	algInitFn            = algInit
	modulesInitFn        = modulesInit
	typeLinksInitFn      = typeLinksInit
	itabsInitFn          = itabsInit

	// mapFn installs a mapping in the kernel's resident address space; it
	// is swapped out in tests so sysMap/sysAlloc can be exercised without
	// touching a real page table.
	mapFn = mapKernel

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de
)

func mapKernel(virt vmm.VirtAddr, frame uintptr, flags vmm.Flags) {
	vmm.Map(vmm.KernelRoot(), vmm.PhysAddr(frame), virt, flags)
}

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionStartAddr, err := earlyReserveRegionFn(mem.Size(size))
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(regionStartAddr)
}

// sysMap commits physical memory for a region previously reserved via
// sysReserve. The kernel always backs the region with real frames up
// front rather than lazily through a copy-on-write zero page, since the
// kernel does not yet run a page-fault handler capable of servicing a
// deferred commit.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	regionStartAddr := vmm.PageRoundDown(uintptr(virtAddr))
	regionSize := vmm.PageRound(mem.Size(size))

	for off := mem.Size(0); off < regionSize; off += mem.PageSize {
		frame, ok := frameAllocFn()
		if !ok {
			return unsafe.Pointer(uintptr(0))
		}
		mapFn(vmm.VirtAddr(regionStartAddr+uintptr(off)), frame.Address(), vmm.Flags{Writeable: true, NoExecute: true})
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// sysAlloc reserves enough physical frames to satisfy the allocation request
// and establishes a contiguous virtual page mapping for them, returning the
// pointer to the virtual region start.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := vmm.PageRound(mem.Size(size))
	regionStartAddr, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	for off := mem.Size(0); off < regionSize; off += mem.PageSize {
		frame, ok := frameAllocFn()
		if !ok {
			return unsafe.Pointer(uintptr(0))
		}
		mapFn(vmm.VirtAddr(regionStartAddr+uintptr(off)), frame.Address(), vmm.Flags{Writeable: true, NoExecute: true})
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// monotonicClockFn backs nanotime. It starts out as a dummy counter because
// nanotime can be called (via mallocinit) before kernel/timer has anything
// to calibrate against; SetMonotonicClock lets boot wire in the real LAPIC-
// timer-backed clock once kernel/timer.Init has run, without goruntime
// importing kernel/timer and inverting the boot dependency order.
var monotonicClockFn = dummyMonotonicClock

var dummyClockTicks uint64

func dummyMonotonicClock() uint64 {
	dummyClockTicks++
	return dummyClockTicks
}

// SetMonotonicClock installs fn as the source of nanotime's clock value.
// Called once by boot after kernel/timer has been calibrated and started.
func SetMonotonicClock(fn func() uint64) {
	monotonicClockFn = fn
}

// nanotime returns a monotonically increasing clock value.
//
// This function replaces runtime.nanotime and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	return monotonicClockFn()
}

// getRandomData populates the given slice with random data. The runtime
// package normally reads a random stream from /dev/random but since that is
// not available, we use a prng instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. After a call to init
// the following runtime features become available for use:
//  - heap memory allocation (new, make e.t.c)
//  - map primitives
//  - interfaces
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
	getRandomData(nil)
	stat = nanotime()
}
