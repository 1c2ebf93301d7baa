package vmm

import (
	"ardentos/kernel"
	"ardentos/kernel/cpu"
	"ardentos/kernel/mem"
	"ardentos/kernel/mem/pmm"
)

// FrameAllocatorFn is a function that can allocate a physical memory frame
// on behalf of the vmm package.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

var (
	// allocFrameFn points to the frame allocator currently in use by the
	// system. It starts off pointing to a stub that always fails; callers
	// must invoke SetFrameAllocator before attempting any mapping that
	// requires a fresh physical frame.
	allocFrameFn FrameAllocatorFn = func() (pmm.Frame, *kernel.Error) {
		return pmm.InvalidFrame, errNoFrameAllocator
	}

	// flushTLBEntryFn is used by tests to mock calls to cpu.FlushTLBEntry.
	// Automatically inlined by the compiler in non-test builds.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// unmapFn is a test seam for Unmap, used internally whenever a mapping
	// established purely to zero out a freshly allocated page table frame
	// needs to be torn down again. Automatically inlined by the compiler
	// in non-test builds.
	unmapFn = Unmap

	errNoFrameAllocator = &kernel.Error{Module: "vmm", Message: "no frame allocator has been installed"}
)

// SetFrameAllocator updates the function used by the vmm package whenever it
// needs to reserve a new physical memory frame, e.g while allocating a new
// page table or satisfying a copy-on-write fault.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	allocFrameFn = allocFn
}

// Map establishes a mapping between a virtual page and a physical memory
// frame using the currently active page table, allocating any intermediate
// page table levels that do not yet exist.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(level uint8, entry *pageTableEntry) bool {
		if level == pageLevels-1 {
			entry.SetFrame(frame)
			entry.SetFlags(flags)
			return true
		}

		if !entry.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = allocFrameFn()
			if err != nil {
				return false
			}

			// Zero the freshly allocated table before linking it in;
			// until the parent entry below is updated the recursive
			// mapping trick cannot reach it, so a temporary mapping
			// is used instead.
			tmpPage, tmpErr := MapTemporary(newTableFrame)
			if tmpErr != nil {
				err = tmpErr
				return false
			}
			mem.Memset(tmpPage.Address(), 0, mem.PageSize)
			unmapFn(tmpPage)

			entry.SetFrame(newTableFrame)
			entry.SetFlags(FlagPresent | FlagRW)
		} else if entry.HasFlags(FlagHugePage) {
			err = ErrInvalidMapping
			return false
		}

		return true
	})

	if err != nil {
		return err
	}

	flushTLBEntryFn(page.Address())
	return nil
}

// Unmap removes the mapping (if any) for the supplied virtual page from the
// currently active page table and flushes its TLB entry.
func Unmap(page Page) *kernel.Error {
	entry, err := pteForAddress(page.Address())
	if err != nil {
		return err
	}

	entry.ClearFlags(FlagPresent)
	flushTLBEntryFn(page.Address())
	return nil
}

// MapRegion establishes mappings for size bytes starting at virtAddrStart,
// allocating a fresh physical frame for each page in the region.
func MapRegion(virtAddrStart uintptr, size mem.Size, flags PageTableEntryFlag) *kernel.Error {
	pageCount := size.Pages()
	startPage := PageFromAddress(virtAddrStart)
	for i := uint32(0); i < pageCount; i++ {
		frame, err := allocFrameFn()
		if err != nil {
			return err
		}

		if err = Map(startPage+Page(i), frame, flags); err != nil {
			return err
		}
	}

	return nil
}

// IdentityMapRegion maps size bytes starting at physAddrStart to a virtual
// address with the same numeric value as the physical one.
func IdentityMapRegion(physAddrStart uintptr, size mem.Size, flags PageTableEntryFlag) *kernel.Error {
	pageCount := size.Pages()
	startFrame := pmm.Frame(physAddrStart >> mem.PageShift)
	startPage := PageFromAddress(physAddrStart)
	for i := uint32(0); i < pageCount; i++ {
		if err := Map(startPage+Page(i), startFrame+pmm.Frame(i), flags); err != nil {
			return err
		}
	}

	return nil
}

// MapTemporary maps frame to a reserved virtual address slot, allowing the
// caller to inspect or modify the contents of a physical frame that is not
// part of the currently active page table hierarchy (e.g. a newly allocated
// table for an inactive PDT). The mapping must be torn down with Unmap once
// the caller is done with it.
func MapTemporary(frame pmm.Frame) (Page, *kernel.Error) {
	page := PageFromAddress(tempMappingAddr)
	if err := Map(page, frame, FlagPresent|FlagRW|FlagNoExecute); err != nil {
		return 0, err
	}

	return page, nil
}

// Translate returns the physical address that corresponds to the given
// virtual address using the currently active page table.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	entry, err := pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	return entry.Frame().Address() | PageOffset(virtAddr), nil
}

// PageOffset returns the offset of a virtual address within its enclosing page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & uintptr(mem.PageSize-1)
}

// ReservedZeroedFrame looks up the physical frame currently backing page. If
// the page is not yet backed by a physical frame (e.g. it belongs to a lazily
// allocated region), a fresh zeroed frame is allocated, mapped in and
// returned; this supports on-demand allocation of pages that were reserved
// via EarlyReserveRegion but never explicitly mapped.
func ReservedZeroedFrame(page Page, flags PageTableEntryFlag) (pmm.Frame, *kernel.Error) {
	entry, err := pteForAddress(page.Address())
	if err == nil {
		return entry.Frame(), nil
	}

	frame, err := allocFrameFn()
	if err != nil {
		return pmm.InvalidFrame, err
	}

	if err = Map(page, frame, flags); err != nil {
		return pmm.InvalidFrame, err
	}

	mem.Memset(page.Address(), 0, mem.PageSize)
	return frame, nil
}
