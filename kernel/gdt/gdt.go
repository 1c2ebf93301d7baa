// Package gdt builds the kernel's own Global Descriptor Table: kernel and
// user code/data segments plus a long-mode TSS carrying the ring-0 stack the
// CPU reloads on every interrupt, SYSCALL or ring-3-to-ring-0 transition.
// Grounded on original_source/kernel/gdt.c and
// original_source/include/thuban/gdt.h (struct gdt_entry/tss_entry, the
// GDT_KERNEL_CODE/GDT_USER_CODE/GDT_TSS selector layout); the boot-time rt0
// stub still installs a throwaway flat GDT just long enough to reach Go
// code (spec.md §4.2's "initial kernel mapping is assumed to be set up by
// the boot stub" applies the same way here), and Init replaces it with the
// real descriptor table before kernel/trap and kernel/pic arm interrupts,
// matching spec.md §2's L5 "GDT / IDT / PIC" layer.
package gdt

import "unsafe"

// Segment selectors, matching original_source/include/thuban/gdt.h exactly
// so kernel/syscall's SYSCALL/SYSRET MSR setup and kernel/user's ring-3
// trampoline agree on the same values.
const (
	KernelCodeSelector = uint16(0x08)
	KernelDataSelector = uint16(0x10)
	UserCodeSelector   = uint16(0x18)
	UserDataSelector   = uint16(0x20)
	TSSSelector        = uint16(0x28)
)

const (
	// numEntries: null, kernel code, kernel data, user code, user data,
	// plus the two 8-byte halves of the 16-byte long-mode TSS descriptor.
	numEntries = 7

	accessPresent  = 1 << 7
	accessRing3    = 3 << 5
	accessCode     = 1<<4 | 1<<3 | 1<<1 // code, readable
	accessData     = 1<<4 | 1<<1        // data, writable
	accessTSSAvail = 0x9                // available 64-bit TSS type

	granLongMode    = 1 << 5
	granGranularity = 1 << 7

	// sizeofTSS is len(struct tss) per original_source's struct
	// tss_entry: one uint32 + 12 uint64s + one uint32-equivalent pair of
	// uint16s (104 bytes, matching the standard x86-64 TSS layout).
	sizeofTSS = 4 + 8*12 + 4
)

// entry is one 8-byte GDT descriptor, laid out exactly as
// original_source's struct gdt_entry (packed, little-endian fields).
type entry struct {
	limitLow    uint16
	baseLow     uint16
	baseMiddle  uint8
	access      uint8
	granularity uint8
	baseHigh    uint8
}

// tss mirrors original_source's struct tss_entry; only rsp0 (the ring-0
// stack loaded on any transition into the kernel) and iomapBase (set past
// the structure's end so no I/O permission bitmap is consulted) matter
// here, since this kernel has no ring-3 I/O ports and no
// interrupt-stack-table users yet.
type tss struct {
	reserved0 uint32
	rsp0      uint64
	rsp1      uint64
	rsp2      uint64
	reserved1 uint64
	ist       [7]uint64
	reserved2 uint64
	reserved3 uint16
	iomapBase uint16
}

// descriptorPtr is the operand LGDT consumes: a 16-bit limit and a 64-bit
// linear base address, packed with no padding between them. base is held as
// four little-endian 16-bit words so it starts right after limit.
type descriptorPtr struct {
	limit uint16
	base  [4]uint16
}

var (
	table    [numEntries]entry
	theTSS   tss
	tablePtr descriptorPtr

	// loadGDTFn/loadTSSFn are test seams; automatically inlined by the
	// compiler in non-test builds. Both are asm-backed (loadGDT issues
	// LGDT plus reloads CS/SS/DS/ES/FS/GS; loadTSS issues LTR).
	loadGDTFn = loadGDT
	loadTSSFn = loadTSS
)

func setEntry(i int, base uint32, limit uint32, access, gran uint8) {
	table[i] = entry{
		limitLow:    uint16(limit & 0xffff),
		baseLow:     uint16(base & 0xffff),
		baseMiddle:  uint8((base >> 16) & 0xff),
		access:      access,
		granularity: gran | uint8((limit>>16)&0x0f),
		baseHigh:    uint8((base >> 24) & 0xff),
	}
}

// setTSSDescriptor installs the 16-byte long-mode TSS system-segment
// descriptor across table[5] and table[6] (a plain 8-byte gdt_entry only
// has room for a 32-bit base; long mode borrows the following slot for the
// high 32 bits of the base address, per the AMD64 system-descriptor
// format).
func setTSSDescriptor(base uint64, limit uint32) {
	setEntry(5, uint32(base), limit, accessPresent|accessTSSAvail, 0)
	table[6] = entry{
		limitLow: uint16(base >> 32),
		baseLow:  uint16(base >> 48),
	}
}

func tableAddr() uint64 { return uint64(uintptr(unsafe.Pointer(&table[0]))) }
func tssAddr() uint64   { return uint64(uintptr(unsafe.Pointer(&theTSS))) }

// Init builds the kernel/user/TSS descriptors, points LGDT at them, reloads
// the segment registers and loads the task register. kernelStack is the
// initial ring-0 stack (TSS.RSP0) the CPU switches to on any interrupt,
// exception, SYSCALL or ring-3-to-ring-0 transition until SetKernelStack is
// called again.
func Init(kernelStack uintptr) {
	setEntry(1, 0, 0xfffff, accessPresent|accessCode, granLongMode|granGranularity)
	setEntry(2, 0, 0xfffff, accessPresent|accessData, granGranularity)
	setEntry(3, 0, 0xfffff, accessPresent|accessRing3|accessCode, granLongMode|granGranularity)
	setEntry(4, 0, 0xfffff, accessPresent|accessRing3|accessData, granGranularity)

	theTSS = tss{rsp0: uint64(kernelStack), iomapBase: sizeofTSS}
	setTSSDescriptor(tssAddr(), sizeofTSS-1)

	base := tableAddr()
	tablePtr = descriptorPtr{
		limit: uint16(numEntries*8 - 1),
		base:  [4]uint16{uint16(base), uint16(base >> 16), uint16(base >> 32), uint16(base >> 48)},
	}

	loadGDTFn(uintptr(unsafe.Pointer(&tablePtr)))
	loadTSSFn()
}

// SetKernelStack updates TSS.RSP0, the stack the CPU loads whenever a
// ring-3 program traps back into ring 0 (interrupt, exception or SYSCALL),
// per original_source/kernel/user/usermode.c's gdt_set_kernel_stack call
// immediately before jump_to_usermode.
func SetKernelStack(stack uintptr) {
	theTSS.rsp0 = uint64(stack)
}
