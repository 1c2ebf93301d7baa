package vmm

import (
	"ardentos/kernel"
	"ardentos/kernel/mem"
)

var (
	// reservedEnd tracks the next free virtual address that can be handed
	// out by EarlyReserveRegion. It is seeded by Init to a page right after
	// the last identity-mapped kernel page.
	reservedEnd uintptr

	errEarlyReserveNoSpace = &kernel.Error{Module: "vmm", Message: "early reserve: virtual address space exhausted"}
)

// EarlyReserveRegion reserves a page-aligned region of virtual address space
// of the requested size without actually mapping any physical frames to it.
// It is intended for use by early boot code (e.g. the frame allocators) that
// need a chunk of addressable memory to set up their own bookkeeping
// structures before a full-featured allocator is available.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	if reservedEnd == 0 {
		return 0, errEarlyReserveNoSpace
	}

	pageCount := (size + mem.PageSize - 1) >> mem.PageShift
	if pageCount == 0 {
		pageCount = 1
	}

	reservedStart := reservedEnd
	reservedEnd += uintptr(pageCount) << mem.PageShift
	return reservedStart, nil
}
