// Package vmm implements a 4-level amd64 virtual memory manager built on
// top of the recursive page table mapping trick: the last entry of the
// active P4 table is made to point back to itself, which lets the MMU be
// used to reach and modify any page table entry, at any level, using
// ordinary load/store instructions instead of walking physical memory by
// hand.
package vmm

import (
	"ardentos/kernel"
	"ardentos/kernel/cpu"
	"ardentos/kernel/kfmt/early"
)

var (
	// readCR2Fn is used by tests to mock calls to cpu.ReadCR2.
	// Automatically inlined by the compiler in non-test builds.
	readCR2Fn = cpu.ReadCR2

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "unrecoverable page fault"}
)

// Init prepares the virtual memory subsystem. It reserves the region of
// virtual address space used by EarlyReserveRegion and identity-maps the
// currently loaded kernel ELF sections using the proper access flags.
func Init(reservedRegionStart uintptr) *kernel.Error {
	reservedEnd = reservedRegionStart

	if err := setupPDTForKernel(); err != nil {
		return err
	}

	early.Printf("[vmm] kernel sections mapped; page fault handler armed\n")
	return nil
}
