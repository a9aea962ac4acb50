// Package hal owns the one piece of hardware this kernel talks to directly
// before any driver subsystem exists: the boot-time text console that
// kernel/kfmt's Printf family writes through.
package hal

import (
	"io"

	"github.com/NudelErde/CrackOS3/kernel/hal/multiboot"
	"github.com/NudelErde/CrackOS3/kernel/kfmt"
	"github.com/NudelErde/CrackOS3/kernel/mem"
	"github.com/NudelErde/CrackOS3/kernel/mem/pmm"
	"github.com/NudelErde/CrackOS3/kernel/mem/vmm"
)

// Terminal is the minimal character sink kfmt.Printf writes to once a
// console has been detected and mapped.
type Terminal interface {
	io.Writer
	io.ByteWriter
}

// ActiveTerminal is the terminal DetectHardware installs, or nil before it
// has run. kfmt.Printf tolerates a nil sink by buffering into its own ring
// buffer, so callers never need to check this before printing.
var ActiveTerminal Terminal

// getFramebufferInfoFn and mapFramebufferFn are overridden in tests so
// DetectHardware can be exercised without a real multiboot framebuffer tag
// or a live page table.
var (
	getFramebufferInfoFn = multiboot.GetFramebufferInfo
	mapFramebufferFn     = vmm.MapDevice
)

// DetectHardware probes the multiboot framebuffer tag left by the
// bootloader. When it describes an EGA-compatible text mode, DetectHardware
// maps it into the device window of root and installs it as ActiveTerminal.
// Any other framebuffer type (or no tag at all) leaves ActiveTerminal nil;
// kfmt.Printf output is simply buffered until something else sets a sink.
//
// root must already be installed (vmm.Init must have run) since mapping the
// framebuffer requires a walkable page table.
func DetectHardware(root pmm.Frame) {
	info := getFramebufferInfoFn()
	if info == nil || info.Type != multiboot.FramebufferTypeEGA {
		return
	}

	size := mem.Size(info.Width) * mem.Size(info.Height) * 2
	virt, err := mapFramebufferFn(root, vmm.PhysAddr(info.PhysAddr), size)
	if err != nil {
		kfmt.Printf("hal: failed to map EGA framebuffer: %s\n", err.Message)
		return
	}

	term := NewTextTerminal(info.Width, info.Height, uintptr(virt))
	ActiveTerminal = term
	kfmt.SetOutputSink(term)
}
