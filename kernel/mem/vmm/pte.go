package vmm

import "github.com/NudelErde/CrackOS3/kernel/mem/pmm"

// PTEFlag describes a flag that can be applied to a page table entry.
type PTEFlag uintptr

// entry mirrors the hardware page-table-entry layout: a present/write/
// user/write-through/cache-disabled/accessed/dirty/page-size/global/XD bit
// set, a 40-bit frame number and 14 bits of implementation-defined
// metadata that C3's page-tier allocator uses to record whether an entire
// subtree below this entry is full.
type entry uint64

const (
	FlagPresent PTEFlag = 1 << iota
	FlagRW
	FlagUser
	FlagWriteThrough
	FlagCacheDisabled
	FlagAccessed
	FlagDirty
	FlagHugePage
	FlagGlobal
)

// FlagNoExecute is bit 63 (the XD bit); kept separate from the iota block
// since it does not belong to the low contiguous run of flag bits.
const FlagNoExecute PTEFlag = 1 << 63

// metaShift/metaMask locate the 14 bits of implementation-defined metadata
// between the flag bits (0-11) and the 40-bit frame field (12-51).
const (
	metaShift = 52
	metaMask  = uintptr(0x3fff) << metaShift

	// MetaSubtreeFull is the allocator "subtree full" marker C3's page
	// tier uses to skip fully-allocated subtrees in O(1) per level.
	MetaSubtreeFull = uintptr(1) << metaShift

	physMask = uintptr(0x000ffffffffff000)
)

func (e entry) HasFlags(f PTEFlag) bool    { return uintptr(e)&uintptr(f) == uintptr(f) }
func (e entry) HasAnyFlag(f PTEFlag) bool  { return uintptr(e)&uintptr(f) != 0 }
func (e *entry) SetFlags(f PTEFlag)        { *e = entry(uintptr(*e) | uintptr(f)) }
func (e *entry) ClearFlags(f PTEFlag)      { *e = entry(uintptr(*e) &^ uintptr(f)) }
func (e entry) Meta() uintptr              { return uintptr(e) & metaMask }
func (e *entry) SetMeta(bits uintptr)      { *e = entry((uintptr(*e) &^ metaMask) | (bits & metaMask)) }
func (e *entry) ClearMeta(bits uintptr)    { *e = entry(uintptr(*e) &^ (bits & metaMask)) }

// Frame returns the physical page frame this entry points to.
func (e entry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(e) & physMask)
}

// SetFrame updates the entry to point at the given physical frame,
// preserving its flags and metadata bits.
func (e *entry) SetFrame(f pmm.Frame) {
	*e = entry((uintptr(*e) &^ physMask) | f.Address())
}
