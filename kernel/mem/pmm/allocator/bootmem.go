package allocator

import (
	"ardentos/kernel"
	"ardentos/kernel/hal/multiboot"
	"ardentos/kernel/kfmt/early"
	"ardentos/kernel/mem"
	"ardentos/kernel/mem/pmm"
)

var (
	// EarlyAllocator points to a static instance of the boot memory
	// allocator which is used to bootstrap the kernel before the bitmap
	// allocator takes over.
	EarlyAllocator BootMemAllocator

	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// BootMemAllocator implements a rudimentary physical frame allocator used to
// bootstrap the kernel. It consumes the memory map reported by the
// bootloader and hands out frames from it using a simple bump counter; it
// never reuses a freed frame.
//
// The kernel image itself occupies a contiguous block of frames
// (kernelStartFrame..kernelEndFrame) which must never be handed out.
type BootMemAllocator struct {
	kernelStartFrame pmm.Frame
	kernelEndFrame   pmm.Frame

	// allocCount tracks the total number of allocated frames so that the
	// bitmap allocator can "replay" the same sequence of allocations once
	// it takes over and mark them as reserved.
	allocCount uint64

	// lastAllocFrame tracks the last frame handed out by AllocFrame.
	lastAllocFrame pmm.Frame
}

// init sets up the boot memory allocator, reserving the frames occupied by
// the kernel image so they are never handed out.
func (alloc *BootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	alloc.kernelStartFrame = pmm.Frame(kernelStart >> mem.PageShift)
	alloc.kernelEndFrame = pmm.Frame(kernelEnd >> mem.PageShift)
	alloc.allocCount = 0
	alloc.lastAllocFrame = 0
}

// printMemoryMap logs the system memory map reported by the bootloader.
func (alloc *BootMemAllocator) printMemoryMap() {
	early.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree mem.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		early.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	early.Printf("[boot_mem_alloc] free memory: %dKb\n", uint64(totalFree/mem.Kb))
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame that does not overlap the kernel
// image or any frame returned by a previous call.
func (alloc *BootMemAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	var (
		found       = false
		searchStart = alloc.lastAllocFrame + 1
	)

	if alloc.allocCount == 0 {
		searchStart = 0
	}

	var candidate pmm.Frame
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		pageSizeMinus1 := uint64(mem.PageSize - 1)
		regionStartFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
		regionEndFrame := pmm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mem.PageShift) - 1

		for f := regionStartFrame; f <= regionEndFrame; f++ {
			if f < searchStart {
				continue
			}
			if f >= alloc.kernelStartFrame && f <= alloc.kernelEndFrame {
				continue
			}
			candidate = f
			found = true
			return false
		}

		return true
	})

	if !found {
		return pmm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	alloc.lastAllocFrame = candidate
	return candidate, nil
}
