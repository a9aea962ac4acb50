package slab

import (
	"testing"
	"unsafe"

	"github.com/NudelErde/CrackOS3/kernel/mem"
)

// fakePages backs pageAllocFn with ordinary Go-managed memory so these
// tests never touch a real mapped page.
var fakePages [][]byte

func setupFakePageAllocator(t *testing.T) {
	t.Helper()
	fakePages = nil
	pageAllocFn = func() uintptr {
		buf := make([]byte, mem.PageSize)
		fakePages = append(fakePages, buf)
		return uintptr(unsafe.Pointer(&buf[0]))
	}
	pageFreeFn = func(uintptr) {}
	t.Cleanup(func() {
		pageAllocFn = nil
		pageFreeFn = nil
	})
}

func unsafeBytes(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func TestBucketFor(t *testing.T) {
	specs := []struct {
		size mem.Size
		want int
	}{
		{0, 0},
		{4, 0},
		{5, 1},
		{1024, 8},
		{1025, 9},
		{2047, 9},
	}
	for _, spec := range specs {
		if got := bucketFor(spec.size); got != spec.want {
			t.Errorf("bucketFor(%d) = %d, want %d", spec.size, got, spec.want)
		}
	}
}

func TestCapacityForFitsInOnePage(t *testing.T) {
	for _, objSize := range bucketSizes {
		cap := capacityFor(objSize)
		bitmapBytes := (cap + 7) / 8
		used := mem.Size(cap)*objSize + mem.Size(bitmapBytes) + 1
		if used > mem.PageSize {
			t.Errorf("capacityFor(%d) = %d overflows a page: uses %d of %d bytes", objSize, cap, used, mem.PageSize)
		}
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	setupFakePageAllocator(t)
	Init()

	p := Alloc(32)
	if p == 0 {
		t.Fatal("expected a non-zero pointer")
	}
	if got := Size(p); got != 32 {
		t.Errorf("expected bucket size 32, got %d", got)
	}
	Free(p)
	if got := Size(p); got != 0 {
		t.Errorf("expected Size to return 0 after Free, got %d", got)
	}
}

func TestAllocReturnsZeroedMemory(t *testing.T) {
	setupFakePageAllocator(t)
	Init()

	p := Alloc(8)
	for i, b := range unsafeBytes(p, 8) {
		if b != 0 {
			t.Fatalf("expected zeroed object, byte %d = %d", i, b)
		}
	}
}

func TestFreeReturnsEmptyPageToPageTier(t *testing.T) {
	setupFakePageAllocator(t)
	Init()

	objSize := bucketSizes[0]
	cap := capacityFor(objSize)

	ptrs := make([]uintptr, cap)
	for i := range ptrs {
		ptrs[i] = Alloc(objSize)
	}
	if buckets[0] == nil || buckets[0].freeLeft != 0 {
		t.Fatal("expected the bucket's slab page to be fully allocated")
	}

	for _, p := range ptrs {
		Free(p)
	}
	if buckets[0] != nil {
		t.Fatal("expected the fully-freed slab page to be removed from the bucket list")
	}
}
