// Package kmain is the kernel's single entry point: the rt0 assembly stub
// jumps here once the GDT is loaded and a minimal Go stack exists, and
// Kmain is expected to never return.
package kmain

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/cpu"
	"github.com/NudelErde/CrackOS3/kernel/gate"
	"github.com/NudelErde/CrackOS3/kernel/goruntime"
	"github.com/NudelErde/CrackOS3/kernel/hal"
	"github.com/NudelErde/CrackOS3/kernel/hal/multiboot"
	"github.com/NudelErde/CrackOS3/kernel/heap"
	"github.com/NudelErde/CrackOS3/kernel/kfmt"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm/allocator"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
	"github.com/NudelErde/CrackOS3/kernel/proc"
	"github.com/NudelErde/CrackOS3/kernel/syscall"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// scheduler is the single run queue ticked by the boot CPU; spec.md §5
// keeps application processors parked, so there is exactly one of these
// for the whole machine, matching kernel/proc's single-core Current/
// kernelContext simplification.
var scheduler = proc.NewScheduler()

// Kmain is the only Go symbol visible from the rt0 initialization code.
// It is invoked with the multiboot info pointer and the physical bounds
// of the loaded kernel image; it must never return.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)
	kfmt.Printf("Starting CrackOS3\n")

	// The loader info block itself has no exported size accessor; one
	// page is enough to cover every multiboot tag this kernel reads
	// (memory map, MADT/MCFG's containing RSDP tag, command line) and
	// keeps the reservation conservative without needing to reach into
	// the multiboot package's internals.
	loaderInfoEnd := multibootInfoPtr + uintptr(pageSize)

	if err := allocator.Init(kernelStart, kernelEnd, multibootInfoPtr, loaderInfoEnd); err != nil {
		kfmt.Panic(err)
	}

	root := pmm.FrameFromAddress(cpu.ActivePDT())
	vmm.Init(root, allocator.HighestFrame(), allocator.AllocFrame)

	// Only once vmm.Init has made root walkable can hal map the
	// framebuffer BAR and install a real output sink; everything printed
	// before this point sits in kfmt's ring buffer.
	hal.DetectHardware(root)

	if err := goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	heap.Init(root, allocator.AllocFrame)

	gate.Init()
	syscall.RegisterGateHandler()
	syscall.SetScheduler(scheduler.Add)

	// TODO: ACPI/APIC bring-up, AP startup via kernel/smp, PCI/AHCI/xHCI
	// device enumeration and the GPT+ext4 walk to the first ELF binary
	// are not wired up yet (kernel/gpt, kernel/ext4 and kernel/elf don't
	// exist in this tree) — see DESIGN.md's "Remaining components" for
	// the open items that block the acceptance walkthrough in spec.md §7
	// from running end to end. Nothing is ever enrolled in scheduler
	// until that wiring exists, so there is no process to run yet.
	if scheduler.Len() == 0 {
		kfmt.Printf("kmain: no process loaded, halting\n")
		cpu.DisableInterrupts()
		for {
			cpu.Halt()
		}
	}

	for scheduler.Len() > 0 {
		scheduler.RunOneSlice(root, sliceMillis)
	}

	// Use kfmt.Panic instead of panic so the compiler can't treat this
	// as dead code and eliminate it.
	kfmt.Panic(errKmainReturned)
}

const (
	pageSize    = 4096
	sliceMillis = 10
)
