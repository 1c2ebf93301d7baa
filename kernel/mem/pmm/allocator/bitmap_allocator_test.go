package allocator

import (
	"testing"
	"unsafe"

	"ardentos/kernel"
	"ardentos/kernel/hal/multiboot"
	"ardentos/kernel/mem"
	"ardentos/kernel/mem/pmm"
	"ardentos/kernel/mem/vmm"

	"github.com/boljen/go-bitmap"
)

func TestBitmapAllocatorSetup(t *testing.T) {
	mockTTY()
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))

	defer func() {
		reserveRegionFn = vmm.EarlyReserveRegion
		mapFn = vmm.Map
	}()

	backingStore := make([]byte, 1<<20)
	backingAddr := uintptr(unsafe.Pointer(&backingStore[0]))

	reserveRegionFn = func(size mem.Size) (uintptr, *kernel.Error) {
		return backingAddr, nil
	}
	mapFn = func(_ vmm.Page, _ pmm.Frame, _ vmm.PageTableEntryFlag) *kernel.Error {
		return nil
	}

	EarlyAllocator.init(0xa0000, 0xa0000)

	var alloc BitmapAllocator
	if err := alloc.init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(alloc.pools) == 0 {
		t.Fatal("expected at least one free-memory pool to be discovered")
	}

	if alloc.totalPages == 0 {
		t.Fatal("expected totalPages to be non-zero")
	}
}

func TestBitmapAllocatorAllocFree(t *testing.T) {
	pool := framePool{
		startFrame: 0,
		endFrame:   7,
		freeCount:  8,
		freeBitmap: bitmap.NewSlice(make([]byte, bitmap.Len(8))),
	}

	alloc := BitmapAllocator{
		totalPages: 8,
		pools:      []framePool{pool},
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame != 0 {
		t.Fatalf("expected first allocation to be frame 0; got %d", frame)
	}
	if exp := uint32(1); alloc.reservedPages != exp {
		t.Errorf("expected reservedPages to be %d; got %d", exp, alloc.reservedPages)
	}

	alloc.FreeFrame(frame)
	if exp := uint32(0); alloc.reservedPages != exp {
		t.Errorf("expected reservedPages to be %d after free; got %d", exp, alloc.reservedPages)
	}
}

func TestBitmapAllocatorOutOfMemory(t *testing.T) {
	alloc := BitmapAllocator{
		pools: []framePool{{
			startFrame: 0,
			endFrame:   0,
			freeCount:  0,
			freeBitmap: bitmap.NewSlice(make([]byte, bitmap.Len(1))),
		}},
	}

	if _, err := alloc.AllocFrame(); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory; got %v", err)
	}
}

func TestPoolForFrame(t *testing.T) {
	alloc := BitmapAllocator{
		pools: []framePool{
			{startFrame: 0, endFrame: 9},
			{startFrame: 256, endFrame: 512},
		},
	}

	if got := alloc.poolForFrame(pmm.Frame(5)); got != 0 {
		t.Errorf("expected pool 0; got %d", got)
	}
	if got := alloc.poolForFrame(pmm.Frame(300)); got != 1 {
		t.Errorf("expected pool 1; got %d", got)
	}
	if got := alloc.poolForFrame(pmm.Frame(1000)); got != -1 {
		t.Errorf("expected -1 for an unmapped frame; got %d", got)
	}
}
