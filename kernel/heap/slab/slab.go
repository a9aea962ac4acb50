// Package slab implements the kernel heap's slab tier: allocations of up
// to 2047 bytes, grouped into ten fixed-size buckets and backed by
// slab pages carved out of the page tier (C3).
package slab

import (
	"github.com/NudelErde/CrackOS3/kernel"
	"github.com/NudelErde/CrackOS3/kernel/heap/page"
	"github.com/NudelErde/CrackOS3/kernel/mem"
)

// bucketSizes are the ten fixed preferred sizes a slab page's objects are
// rounded up to.
var bucketSizes = [10]mem.Size{4, 8, 16, 32, 64, 128, 256, 512, 1024, 2047}

// slabPage describes one page-tier page carved into fixed-size objects for
// a single bucket, plus a free-object bitmap and the one-byte bucket tag
// the spec requires each slab page to carry.
type slabPage struct {
	base     uintptr
	bucket   int
	capacity int
	free     []bool // free[i] is true when object i is unused
	freeLeft int
	next     *slabPage
}

var buckets [10]*slabPage

// pageAllocFn/pageFreeFn indirect through the page tier so tests can back
// slab pages with ordinary Go memory instead of a real mapped page.
var (
	pageAllocFn = page.Alloc
	pageFreeFn  = page.Free
)

// bucketFor returns the index of the smallest bucket that can satisfy
// size, rounding size 0 up into the smallest bucket per the boundary rule
// that kmalloc(0) is allowed and returns a slab-sized pointer.
func bucketFor(size mem.Size) int {
	for i, b := range bucketSizes {
		if size <= b {
			return i
		}
	}
	return len(bucketSizes) - 1
}

// capacityFor computes how many objects of objSize fit in one page once
// the trailing per-object free bitmap and one-byte bucket tag are
// accounted for.
func capacityFor(objSize mem.Size) int {
	for cap := int(mem.PageSize / objSize); cap > 0; cap-- {
		bitmapBytes := (cap + 7) / 8
		if mem.Size(cap)*objSize+mem.Size(bitmapBytes)+1 <= mem.PageSize {
			return cap
		}
	}
	return 1
}

// Init resets the bucket free-page lists; it must be called once, after
// the page tier is initialized.
func Init() {
	for i := range buckets {
		buckets[i] = nil
	}
}

// Alloc returns a pointer to a zero-initialized object from the smallest
// bucket that can hold size bytes (size 0 included).
func Alloc(size mem.Size) uintptr {
	idx := bucketFor(size)
	objSize := bucketSizes[idx]

	sp := buckets[idx]
	for sp != nil && sp.freeLeft == 0 {
		sp = sp.next
	}
	if sp == nil {
		sp = newSlabPage(idx, objSize)
		sp.next = buckets[idx]
		buckets[idx] = sp
	}

	for i, free := range sp.free {
		if free {
			sp.free[i] = false
			sp.freeLeft--
			addr := sp.base + uintptr(i)*uintptr(objSize)
			kernel.Memset(addr, 0, uintptr(objSize))
			return addr
		}
	}
	panic("slab: accounting inconsistency, freeLeft > 0 but no free object found")
}

func newSlabPage(bucket int, objSize mem.Size) *slabPage {
	base := pageAllocFn()
	cap := capacityFor(objSize)
	sp := &slabPage{
		base:     base,
		bucket:   bucket,
		capacity: cap,
		free:     make([]bool, cap),
		freeLeft: cap,
	}
	for i := range sp.free {
		sp.free[i] = true
	}
	return sp
}

// Size returns the bucket's preferred object size for a pointer previously
// returned by Alloc.
func Size(ptr uintptr) mem.Size {
	if sp := find(ptr); sp != nil {
		return bucketSizes[sp.bucket]
	}
	return 0
}

// Free releases the object at ptr back to its slab page. Once every object
// in a slab page is free, the page itself is returned to the page tier.
func Free(ptr uintptr) {
	for idx := range buckets {
		prev := (*slabPage)(nil)
		for sp := buckets[idx]; sp != nil; sp, prev = sp.next, sp {
			objSize := uintptr(bucketSizes[idx])
			if ptr < sp.base || ptr >= sp.base+uintptr(sp.capacity)*objSize {
				continue
			}

			i := int((ptr - sp.base) / objSize)
			if sp.free[i] {
				return
			}
			sp.free[i] = true
			sp.freeLeft++

			if sp.freeLeft == sp.capacity {
				if prev == nil {
					buckets[idx] = sp.next
				} else {
					prev.next = sp.next
				}
				pageFreeFn(sp.base)
			}
			return
		}
	}
}

func find(ptr uintptr) *slabPage {
	for idx := range buckets {
		objSize := uintptr(bucketSizes[idx])
		for sp := buckets[idx]; sp != nil; sp = sp.next {
			if ptr >= sp.base && ptr < sp.base+uintptr(sp.capacity)*objSize {
				return sp
			}
		}
	}
	return nil
}
