package allocator

import (
	"reflect"
	"unsafe"

	"ardentos/kernel"
	"ardentos/kernel/hal/multiboot"
	"ardentos/kernel/kfmt/early"
	"ardentos/kernel/mem"
	"ardentos/kernel/mem/pmm"
	"ardentos/kernel/mem/vmm"
	"ardentos/kernel/sync"

	"github.com/boljen/go-bitmap"
)

var (
	// FrameAllocator is a BitmapAllocator instance that serves as the
	// primary allocator for reserving pages once the boot memory
	// allocator has been decommissioned.
	FrameAllocator BitmapAllocator

	// allocLock serializes AllocFrame/FreeFrame/Stats against each other and
	// against interrupt handlers, per spec.md §4.1's "All mutators take an
	// interrupt-disabling spinlock. Stat readers take the same lock so
	// snapshots are consistent."
	allocLock sync.Spinlock

	// The following functions are used by tests to mock calls to the vmm
	// package and are automatically inlined by the compiler.
	reserveRegionFn = vmm.EarlyReserveRegion
	mapFn           = vmm.Map
)

type markAs bool

const (
	markReserved markAs = false
	markFree            = true
)

// framePool tracks free/reserved frames for a single contiguous memory
// region reported by the bootloader using a bit per frame.
type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// Bit i of freeBitmap corresponds to frame (startFrame + i).
	startFrame pmm.Frame

	// endFrame tracks the last frame in the pool.
	endFrame pmm.Frame

	// freeCount tracks the available pages in this pool, allowing the
	// allocator to skip fully allocated pools without scanning their bitmap.
	freeCount uint32

	// freeBitmap stores one bit per frame; a set bit means the frame is
	// reserved. Backed by raw kernel memory reserved via reserveRegionFn.
	freeBitmap bitmap.Bitmap
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps.
type BitmapAllocator struct {
	// totalPages tracks the total number of pages across all pools.
	totalPages uint32

	// reservedPages tracks the number of reserved pages across all pools.
	reservedPages uint32

	pools    []framePool
	poolsHdr reflect.SliceHeader
}

// init allocates space for the allocator structures using the early bootmem
// allocator and flags any allocated pages as reserved.
func (alloc *BitmapAllocator) init() *kernel.Error {
	if err := alloc.setupPoolBitmaps(); err != nil {
		return err
	}

	alloc.reserveKernelFrames()
	alloc.reserveEarlyAllocatorFrames()
	alloc.printStats()
	return nil
}

// setupPoolBitmaps uses the early allocator and vmm region reservation
// helper to initialize the list of available pools and their free bitmaps.
func (alloc *BitmapAllocator) setupPoolBitmaps() *kernel.Error {
	var (
		err                 *kernel.Error
		sizeofPool          = unsafe.Sizeof(framePool{})
		pageSizeMinus1      = uint64(mem.PageSize - 1)
		requiredBitmapBytes mem.Size
	)

	// Detect available memory regions and calculate their pool bitmap
	// requirements.
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		alloc.poolsHdr.Len++
		alloc.poolsHdr.Cap++

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame.
		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mem.PageShift) - 1
		pageCount := uint32(regionEndFrame - regionStartFrame + 1)
		alloc.totalPages += pageCount

		requiredBitmapBytes += mem.Size(bitmap.Len(int(pageCount)))
		return true
	})

	// Reserve enough pages to hold the allocator state.
	requiredBytes := mem.Size(((uint64(uintptr(alloc.poolsHdr.Len)*sizeofPool) + uint64(requiredBitmapBytes)) + pageSizeMinus1) &^ pageSizeMinus1)
	requiredPages := requiredBytes >> mem.PageShift
	alloc.poolsHdr.Data, err = reserveRegionFn(requiredBytes)
	if err != nil {
		return err
	}

	for page, index := vmm.PageFromAddress(alloc.poolsHdr.Data), mem.Size(0); index < requiredPages; page, index = page+1, index+1 {
		nextFrame, err := earlyAllocFrame()
		if err != nil {
			return err
		}

		if err = mapFn(page, nextFrame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}

		mem.Memset(page.Address(), 0, mem.PageSize)
	}

	alloc.pools = *(*[]framePool)(unsafe.Pointer(&alloc.poolsHdr))

	// Run a second pass to initialize the free bitmap for each pool.
	bitmapStartAddr := alloc.poolsHdr.Data + uintptr(alloc.poolsHdr.Len)*sizeofPool
	poolIndex := 0
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mem.PageShift) - 1
		pageCount := int(regionEndFrame - regionStartFrame + 1)
		bitmapBytes := uintptr(bitmap.Len(pageCount))

		rawBitmap := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
			Len:  int(bitmapBytes),
			Cap:  int(bitmapBytes),
			Data: bitmapStartAddr,
		}))

		alloc.pools[poolIndex].startFrame = regionStartFrame
		alloc.pools[poolIndex].endFrame = regionEndFrame
		alloc.pools[poolIndex].freeCount = uint32(pageCount)
		alloc.pools[poolIndex].freeBitmap = bitmap.NewSlice(rawBitmap)

		bitmapStartAddr += bitmapBytes
		poolIndex++
		return true
	})

	return nil
}

// markFrame updates the reservation flag for the bitmap entry that
// corresponds to the supplied frame.
func (alloc *BitmapAllocator) markFrame(poolIndex int, frame pmm.Frame, flag markAs) {
	if poolIndex < 0 || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	relFrame := int(frame - alloc.pools[poolIndex].startFrame)
	switch flag {
	case markFree:
		// Freeing an already-free frame is a silent no-op (spec.md §4.1):
		// without this check a double free would double-credit freeCount.
		if !alloc.pools[poolIndex].freeBitmap.Get(relFrame) {
			return
		}
		alloc.pools[poolIndex].freeBitmap.Set(relFrame, false)
		alloc.pools[poolIndex].freeCount++
		alloc.reservedPages--
	case markReserved:
		alloc.pools[poolIndex].freeBitmap.Set(relFrame, true)
		alloc.pools[poolIndex].freeCount--
		alloc.reservedPages++
	}
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not contained in any of the available memory pools (e.g it
// points to a reserved memory region).
func (alloc *BitmapAllocator) poolForFrame(frame pmm.Frame) int {
	for poolIndex, pool := range alloc.pools {
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return poolIndex
		}
	}

	return -1
}

// AllocFrame reserves and returns the next available physical frame.
func (alloc *BitmapAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	allocLock.Acquire()
	defer allocLock.Release()

	for poolIndex := range alloc.pools {
		pool := &alloc.pools[poolIndex]
		if pool.freeCount == 0 {
			continue
		}

		for relFrame := 0; relFrame <= int(pool.endFrame-pool.startFrame); relFrame++ {
			if !pool.freeBitmap.Get(relFrame) {
				frame := pool.startFrame + pmm.Frame(relFrame)
				alloc.markFrame(poolIndex, frame, markReserved)
				return frame, nil
			}
		}
	}

	return pmm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a previously allocated frame back to its pool. Freeing
// an already-free frame or one outside any pool is a silent no-op, per
// spec.md §4.1's choice of tolerance over panic for this case.
func (alloc *BitmapAllocator) FreeFrame(frame pmm.Frame) {
	allocLock.Acquire()
	defer allocLock.Release()

	alloc.markFrame(alloc.poolForFrame(frame), frame, markFree)
}

// Stats reports total/used/free byte counts across all pools, per spec.md
// §4.1's "Statistics queries return total/used/free bytes."
func (alloc *BitmapAllocator) Stats() (total, used, free mem.Size) {
	allocLock.Acquire()
	defer allocLock.Release()

	total = mem.Size(alloc.totalPages) * mem.PageSize
	used = mem.Size(alloc.reservedPages) * mem.PageSize
	free = total - used
	return
}

// reserveKernelFrames marks the bitmap entries for the frames occupied by
// the kernel image as reserved.
func (alloc *BitmapAllocator) reserveKernelFrames() {
	poolIndex := alloc.poolForFrame(EarlyAllocator.kernelStartFrame)
	for frame := EarlyAllocator.kernelStartFrame; frame <= EarlyAllocator.kernelEndFrame; frame++ {
		alloc.markFrame(poolIndex, frame, markReserved)
	}
}

// reserveEarlyAllocatorFrames decommissions the early allocator by flagging
// all frames it handed out as reserved. The early allocator does not track
// individual frames, only a counter, so we reset its state and "replay" its
// allocation requests to recover the exact frame list.
func (alloc *BitmapAllocator) reserveEarlyAllocatorFrames() {
	allocCount := EarlyAllocator.allocCount
	EarlyAllocator.allocCount, EarlyAllocator.lastAllocFrame = 0, 0
	for i := uint64(0); i < allocCount; i++ {
		frame, _ := EarlyAllocator.AllocFrame()
		alloc.markFrame(
			alloc.poolForFrame(frame),
			frame,
			markReserved,
		)
	}
}

func (alloc *BitmapAllocator) printStats() {
	early.Printf(
		"[bitmap_alloc] page stats: free: %d/%d (%d reserved)\n",
		alloc.totalPages-alloc.reservedPages,
		alloc.totalPages,
		alloc.reservedPages,
	)
}

var errOutOfMemory = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory"}

// earlyAllocFrame is a helper that delegates a frame allocation request to
// the early allocator instance. This function is passed as an argument to
// vmm.SetFrameAllocator instead of EarlyAllocator.AllocFrame. The latter
// confuses the compiler's escape analysis into thinking that
// EarlyAllocator.Frame escapes to heap.
func earlyAllocFrame() (pmm.Frame, *kernel.Error) {
	return EarlyAllocator.AllocFrame()
}

func bitmapAllocFrame() (pmm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame()
}

// Init sets up the kernel physical memory allocation sub-system. It first
// bootstraps the early allocator so the bitmap allocator can allocate its
// own bookkeeping structures, then switches the system over to it.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	EarlyAllocator.init(kernelStart, kernelEnd)
	EarlyAllocator.printMemoryMap()

	vmm.SetFrameAllocator(earlyAllocFrame)
	if err := FrameAllocator.init(); err != nil {
		return err
	}
	vmm.SetFrameAllocator(bitmapAllocFrame)
	return nil
}
