// Package block turns a byte-addressed Read/Write contract into the
// sector-aligned requests an AHCI port actually understands.
package block

import (
	"github.com/NudelErde/CrackOS3/kernel"
)

var errOutOfBounds = &kernel.Error{Module: "block", Message: "OUT_OF_BOUNDS"}
var errBufferCount = &kernel.Error{Module: "block", Message: "buffer count does not match region count"}

// Device is the subset of an AHCI port's lifecycle the block layer
// drives: enough to issue sector-aligned reads/writes and wait for them,
// without depending on kernel/ahci directly (so it can be driven by a
// fake in tests, and in principle by any other sector-addressed
// transport built the same way).
type Device interface {
	SectorSizeBytes() uint32
	SectorCountTotal() uint64
	SupportsQueueing() bool
	IssueRead(lba uint64, count uint16, buf uintptr, size uint32) (slot uint8, err *kernel.Error)
	IssueWrite(lba uint64, count uint16, buf uintptr, size uint32) (slot uint8, err *kernel.Error)
	Wait(slot uint8) *kernel.Error
	WaitAll() *kernel.Error
}

// region is one of up to three aligned pieces a write decomposes into: a
// possibly-partial head sector, a run of whole sectors, and a
// possibly-partial tail sector.
type region struct {
	off, len uint64
	partial  bool
}

// Block wraps a Device with the byte-addressed contract spec.md's
// block-device abstraction names.
type Block struct {
	dev Device
}

// New wraps dev.
func New(dev Device) *Block { return &Block{dev: dev} }

func (b *Block) sectorSize() uint64 { return uint64(b.dev.SectorSizeBytes()) }

// checkBounds fails with OUT_OF_BOUNDS when [off, off+size) runs past
// sector_count*sector_size.
func (b *Block) checkBounds(off, size uint64) *kernel.Error {
	total := b.dev.SectorCountTotal() * b.sectorSize()
	if off+size > total {
		return errOutOfBounds
	}
	return nil
}

// AlignedSpan returns the sector-aligned [alignedOff, alignedOff+alignedSize)
// range that fully covers [off, off+size) — the range Read actually reads
// into its temporary buffer. The caller slices the wanted bytes out at
// off-alignedOff.
func (b *Block) AlignedSpan(off, size uint64) (alignedOff, alignedSize uint64) {
	sector := b.sectorSize()
	alignedOff = (off / sector) * sector
	end := off + size
	alignedEnd := ((end + sector - 1) / sector) * sector
	return alignedOff, alignedEnd - alignedOff
}

// Read reads the sector-aligned span covering [off, off+size) into buf
// (sized AlignedSpan's alignedSize) with a single request, since AHCI
// always reads whole sectors regardless of how little of the last one is
// wanted — there is no read-modify-write concern on the read path the
// way there is on write. The caller is responsible for slicing the
// wanted size bytes out of buf starting at off-alignedOff.
func (b *Block) Read(off, size uint64, buf uintptr) *kernel.Error {
	if size == 0 {
		return nil
	}
	if err := b.checkBounds(off, size); err != nil {
		return err
	}
	sector := b.sectorSize()
	alignedOff, alignedSize := b.AlignedSpan(off, size)
	lba := alignedOff / sector
	count := alignedSize / sector

	if !b.dev.SupportsQueueing() {
		if err := b.dev.WaitAll(); err != nil {
			return err
		}
	}
	slot, err := b.dev.IssueRead(lba, uint16(count), buf, uint32(alignedSize))
	if err != nil {
		return err
	}
	return b.dev.Wait(slot)
}

// plan decomposes [off, off+size) into head-partial, middle-full-run,
// tail-partial regions, per spec.md's C8 write policy: a write of exactly
// one sector at a sector-aligned offset is a single (non-partial)
// region; a write that ends exactly on a sector boundary produces two
// regions (head + full run), never three.
func (b *Block) plan(off, size uint64) []region {
	if size == 0 {
		return nil
	}
	sector := b.sectorSize()
	end := off + size
	startAligned := off%sector == 0
	endAligned := end%sector == 0

	if startAligned && endAligned {
		return []region{{off: off, len: size, partial: false}}
	}

	nextBoundary := (off/sector + 1) * sector
	if nextBoundary >= end {
		// The whole span sits inside a single sector.
		return []region{{off: off, len: size, partial: true}}
	}

	var regions []region
	cursor := off
	if !startAligned {
		regions = append(regions, region{off: cursor, len: nextBoundary - cursor, partial: true})
		cursor = nextBoundary
	}

	prevBoundary := (end / sector) * sector
	if prevBoundary > cursor {
		regions = append(regions, region{off: cursor, len: prevBoundary - cursor, partial: false})
		cursor = prevBoundary
	}

	if end > cursor {
		regions = append(regions, region{off: cursor, len: end - cursor, partial: true})
	}

	return regions
}

// Write decomposes [off, off+size) into up to three aligned regions.
// Head and tail regions are partial sectors and require a
// read-modify-write, which the caller performs before calling Write:
// writeBufs[i] must already hold the full sector(s) to write for
// regions[i] (regions is what plan(off, size) returns; callers that need
// to see the decomposition before merging should call Plan). On
// NCQ-capable devices every region's slot is issued before any is
// awaited; otherwise each region is awaited before the next is issued.
func (b *Block) Write(off, size uint64, writeBufs []uintptr) *kernel.Error {
	if err := b.checkBounds(off, size); err != nil {
		return err
	}
	regions := b.plan(off, size)
	if len(regions) == 0 {
		return nil
	}
	if len(writeBufs) != len(regions) {
		return errBufferCount
	}

	sector := b.sectorSize()
	issue := func(r region, buf uintptr) (uint8, *kernel.Error) {
		lba := r.off / sector
		count := (r.len + sector - 1) / sector
		return b.dev.IssueWrite(lba, uint16(count), buf, uint32(count*sector))
	}

	if b.dev.SupportsQueueing() {
		slots := make([]uint8, len(regions))
		for i, r := range regions {
			slot, err := issue(r, writeBufs[i])
			if err != nil {
				return err
			}
			slots[i] = slot
		}
		for _, slot := range slots {
			if err := b.dev.Wait(slot); err != nil {
				return err
			}
		}
		return nil
	}

	if err := b.dev.WaitAll(); err != nil {
		return err
	}
	for i, r := range regions {
		slot, err := issue(r, writeBufs[i])
		if err != nil {
			return err
		}
		if err := b.dev.Wait(slot); err != nil {
			return err
		}
	}
	return nil
}

// Plan exposes the write-region decomposition so a caller can tell which
// regions need a read-modify-write (region.partial) before building
// writeBufs. It returns (offset, length, partial) triples.
func (b *Block) Plan(off, size uint64) []struct {
	Off, Len uint64
	Partial  bool
} {
	regions := b.plan(off, size)
	out := make([]struct {
		Off, Len uint64
		Partial  bool
	}, len(regions))
	for i, r := range regions {
		out[i] = struct {
			Off, Len uint64
			Partial  bool
		}{r.off, r.len, r.partial}
	}
	return out
}
