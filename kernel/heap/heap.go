// Package heap implements the kernel's general-purpose dynamic memory
// allocator: a segregated doubly-linked free list over one or more
// contiguous arenas, with first-fit allocation, block splitting and
// neighbour coalescing on free. It is grounded on the same block-size
// accounting conventions as kernel/mem (Size, PageShift) and grows by
// calling into kernel/mem/vmm for fresh pages, exactly the way the
// bitmap/bootmem physical allocators call down into the vmm package for
// their own bookkeeping memory.
package heap

import (
	"unsafe"

	"ardentos/kernel"
	"ardentos/kernel/mem"
	"ardentos/kernel/mem/vmm"
	"ardentos/kernel/sync"

	"github.com/hashicorp/go-multierror"
)

// sentinel is the magic value stored in every live block header. A mismatch
// indicates heap corruption.
const sentinel uint32 = 0xC0FFEE42

// alignment is the byte alignment guaranteed for every pointer returned by
// Alloc/Zalloc/Realloc.
const alignment = 16

// minSplitSlack is the minimum number of leftover bytes (including the new
// block's header) required before a block is split instead of handed out
// whole.
const minSplitSlack = 64

// arenaGrowSize is the size of each region attached to the heap once the
// initial static arena is exhausted. spec.md suggests a starting arena of
// 256 KiB; ardentos keeps growing in that same increment rather than
// doubling, since a fixed increment keeps the per-arena accounting trivial
// to validate during a corruption Walk.
const arenaGrowSize = 256 * mem.Kb

// staticArenaSize is the size of the heap's initial, statically-reserved
// arena.
const staticArenaSize = 256 * 1024

// header prefixes every block (free or used) inside an arena.
type header struct {
	magic uint32
	size  uint32 // payload size in bytes, excluding this header
	free  bool
	_     [3]byte // padding to keep prev/next 8-byte aligned
	prev  *header // previous block in address order (nil at arena start)
	next  *header // next block in address order (nil at arena end)
}

const headerSize = unsafe.Sizeof(header{})

var (
	lock sync.Spinlock

	// The following seams let tests exercise grow() without touching real
	// hardware-backed page tables. Automatically inlined by the compiler
	// in non-test builds.
	reserveRegionFn = vmm.EarlyReserveRegion
	mapRegionFn     = vmm.MapRegion

	// staticArena backs the heap before any vmm-backed growth occurs.
	staticArena [staticArenaSize]byte

	headBlock *header // first block, of the first arena, in address order
	tailBlock *header // last block of the most-recently-added arena

	usedBytes mem.Size
	freeBytes mem.Size

	errCorruptHeader = &kernel.Error{Module: "heap", Message: "corrupt block header"}
	errDoubleFree    = &kernel.Error{Module: "heap", Message: "double free"}
	errOutOfMemory   = &kernel.Error{Module: "heap", Message: "out of memory"}
)

// Init prepares the heap's initial static arena. It must be called exactly
// once before any call to Alloc/Zalloc/Realloc/Free.
func Init() {
	lock.Acquire()
	defer lock.Release()

	addArena(uintptr(unsafe.Pointer(&staticArena[0])), mem.Size(len(staticArena)))
}

// Stats reports the current byte accounting for the heap. Header overhead is
// counted, not subtracted: used+free always equals the total size of every
// arena attached so far, block headers included.
func Stats() (used, free mem.Size) {
	lock.Acquire()
	defer lock.Release()
	return usedBytes, freeBytes
}

// addArena links size bytes starting at addr onto the heap as a single free
// block, chained after the current tail block (if any).
func addArena(addr uintptr, size mem.Size) {
	addr = alignUp(addr, alignment)
	blk := (*header)(unsafe.Pointer(addr))
	payload := size - mem.Size(headerSize)

	blk.magic = sentinel
	blk.size = uint32(payload)
	blk.free = true
	blk.prev = tailBlock
	blk.next = nil

	if tailBlock != nil {
		tailBlock.next = blk
	}
	if headBlock == nil {
		headBlock = blk
	}
	tailBlock = blk
	freeBytes += payload + mem.Size(headerSize)
}

func alignUp(v uintptr, a uintptr) uintptr {
	return (v + a - 1) &^ (a - 1)
}

// payloadAddr returns the address handed to callers for a given block.
func (h *header) payloadAddr() uintptr {
	return uintptr(unsafe.Pointer(h)) + headerSize
}

func headerFromPayload(p uintptr) *header {
	return (*header)(unsafe.Pointer(p - headerSize))
}

// Alloc reserves n bytes, 16-byte aligned, and returns the address of the
// usable region. It returns errOutOfMemory if growth also fails.
func Alloc(n mem.Size) (uintptr, *kernel.Error) {
	if n == 0 {
		n = 1
	}
	n = mem.Size(alignUp(uintptr(n), alignment))

	lock.Acquire()
	defer lock.Release()

	blk := firstFit(n)
	if blk == nil {
		if err := grow(n); err != nil {
			return 0, err
		}
		blk = firstFit(n)
		if blk == nil {
			return 0, errOutOfMemory
		}
	}

	splitOrTake(blk, n)
	blk.free = false
	usedBytes += mem.Size(blk.size)
	freeBytes -= mem.Size(blk.size)
	return blk.payloadAddr(), nil
}

// Zalloc reserves space for count elements of size n each and zero-fills it.
func Zalloc(n mem.Size, count uint) (uintptr, *kernel.Error) {
	total := n * mem.Size(count)
	addr, err := Alloc(total)
	if err != nil {
		return 0, err
	}
	mem.Memset(addr, 0, total)
	return addr, nil
}

// Free releases a block previously returned by Alloc/Zalloc/Realloc. A
// corrupted header or a double-free is reported and the free is refused
// rather than escalated to a BSOD, per spec.md §7: the bug likely corrupted
// the very structures a BSOD would need to render.
func Free(p uintptr) *kernel.Error {
	if p == 0 {
		return nil
	}

	lock.Acquire()
	defer lock.Release()

	blk := headerFromPayload(p)
	if blk.magic != sentinel {
		return errCorruptHeader
	}
	if blk.free {
		return errDoubleFree
	}

	blk.free = true
	usedBytes -= mem.Size(blk.size)
	freeBytes += mem.Size(blk.size)

	coalesce(blk)
	return nil
}

// Realloc resizes the block at p to n bytes, preserving min(oldSize, n)
// bytes of content. Per spec.md §4.3 the heap lock is released around the
// copy phase (both the implicit Alloc and Free re-acquire it); this is sound
// on a single core with no preemption inside kernel code, a fact recorded as
// an open hazard in spec.md §9 for any future SMP port.
func Realloc(p uintptr, n mem.Size) (uintptr, *kernel.Error) {
	if p == 0 {
		return Alloc(n)
	}

	lock.Acquire()
	oldBlk := headerFromPayload(p)
	if oldBlk.magic != sentinel {
		lock.Release()
		return 0, errCorruptHeader
	}
	oldSize := mem.Size(oldBlk.size)
	lock.Release()

	newAddr, err := Alloc(n)
	if err != nil {
		return 0, err
	}

	copySize := oldSize
	if n < copySize {
		copySize = n
	}
	mem.Memcopy(newAddr, p, copySize)

	if err := Free(p); err != nil {
		return 0, err
	}
	return newAddr, nil
}

// firstFit scans the block list for the first free block able to hold n
// bytes.
func firstFit(n mem.Size) *header {
	for blk := headBlock; blk != nil; blk = blk.next {
		if blk.free && mem.Size(blk.size) >= n {
			return blk
		}
	}
	return nil
}

// splitOrTake splits blk if it has enough slack to host an independent
// n-byte block plus another free header; otherwise the whole block is
// handed out unsplit (this also covers the boundary case of an exact-size
// match per spec.md §8).
func splitOrTake(blk *header, n mem.Size) {
	slack := mem.Size(blk.size) - n
	if slack < mem.Size(headerSize)+minSplitSlack {
		return
	}

	newAddr := blk.payloadAddr() + uintptr(n)
	newBlk := (*header)(unsafe.Pointer(newAddr))
	newBlk.magic = sentinel
	newBlk.size = uint32(slack - mem.Size(headerSize))
	newBlk.free = true
	newBlk.prev = blk
	newBlk.next = blk.next
	if blk.next != nil {
		blk.next.prev = newBlk
	} else {
		tailBlock = newBlk
	}
	blk.next = newBlk
	blk.size = uint32(n)
}

// coalesce merges blk with its immediately-adjacent (in the block list)
// neighbours if they are also free. Arena boundaries (a block whose
// neighbour lives in a different, non-contiguous arena) never get merged
// because growth always appends a fresh arena as its own block with no
// address relationship to the previous tail.
func coalesce(blk *header) {
	if next := blk.next; next != nil && next.free && adjacent(blk, next) {
		blk.size = uint32(mem.Size(blk.size) + mem.Size(headerSize) + mem.Size(next.size))
		blk.next = next.next
		if next.next != nil {
			next.next.prev = blk
		} else {
			tailBlock = blk
		}
	}

	if prev := blk.prev; prev != nil && prev.free && adjacent(prev, blk) {
		prev.size = uint32(mem.Size(prev.size) + mem.Size(headerSize) + mem.Size(blk.size))
		prev.next = blk.next
		if blk.next != nil {
			blk.next.prev = prev
		} else {
			tailBlock = prev
		}
	}
}

// adjacent reports whether b immediately follows a in memory (no gap).
func adjacent(a, b *header) bool {
	return a.payloadAddr()+uintptr(a.size) == uintptr(unsafe.Pointer(b))
}

// grow attaches a fresh vmm-backed region able to satisfy an n-byte request,
// rounding up to whole pages in increments of arenaGrowSize.
func grow(n mem.Size) *kernel.Error {
	need := n + mem.Size(headerSize)
	growSize := arenaGrowSize
	for growSize < need {
		growSize += arenaGrowSize
	}

	pageCount := growSize.Pages()
	virt, err := reserveRegionFn(mem.Size(pageCount) * mem.PageSize)
	if err != nil {
		return err
	}
	if err := mapRegionFn(virt, mem.Size(pageCount)*mem.PageSize, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
		return err
	}

	addArena(virt, mem.Size(pageCount)*mem.PageSize)
	return nil
}

// Walk validates every live block's invariants (magic sentinel, 16-byte
// aligned size, free flag well-formed, no two adjacent free blocks) and
// accumulates every violation instead of stopping at the first one, so a
// single diagnostic call reports the full extent of corruption.
func Walk() error {
	lock.Acquire()
	defer lock.Release()

	var result *multierror.Error
	var prevFree bool
	for blk := headBlock; blk != nil; blk = blk.next {
		if blk.magic != sentinel {
			result = multierror.Append(result, errCorruptHeader)
			continue
		}
		if mem.Size(blk.size)%alignment != 0 {
			result = multierror.Append(result, &kernel.Error{Module: "heap", Message: "block size not 16-byte aligned"})
		}
		if blk.free && prevFree && adjacent(blk.prev, blk) {
			result = multierror.Append(result, &kernel.Error{Module: "heap", Message: "adjacent free blocks were not coalesced"})
		}
		prevFree = blk.free
	}

	if result == nil {
		return nil
	}
	return result
}
