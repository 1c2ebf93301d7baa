package vmm

import (
	"ardentos/kernel"
	"ardentos/kernel/cpu"
	"ardentos/kernel/hal/multiboot"
	"ardentos/kernel/mem"
	"ardentos/kernel/mem/pmm"
)

var (
	// activePDTFn is used by tests to mock calls to cpu.ActivePDT.
	// Automatically inlined by the compiler in non-test builds.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to mock calls that load a new PDT frame
	// into CR3. Automatically inlined by the compiler in non-test builds.
	switchPDTFn = cpu.SwitchPDT

	// visitElfSectionsFn is used by tests to mock calls to
	// multiboot.VisitElfSections. Automatically inlined by the compiler in
	// non-test builds.
	visitElfSectionsFn = multiboot.VisitElfSections
)

// PageDirectoryTable describes the top-most page table structure (P4 on
// amd64) used by the MMU to map virtual to physical addresses.
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// Init allocates a new P4 table frame, sets up its recursive mapping entry
// and populates the kernel's higher-half entries so this table can be
// activated without losing access to kernel code and data.
func (pdt *PageDirectoryTable) Init() *kernel.Error {
	frame, err := allocFrameFn()
	if err != nil {
		return err
	}

	pdt.pdtFrame = frame

	tmpPage, err := MapTemporary(frame)
	if err != nil {
		return err
	}
	defer unmapFn(tmpPage)

	mem.Memset(tmpPage.Address(), 0, mem.PageSize)

	// Install the recursive mapping entry: the last P4 entry points back
	// to the P4 table itself.
	lastEntry := (*pageTableEntry)(ptePtrFn(tmpPage.Address() + (511 << 3)))
	lastEntry.SetFrame(frame)
	lastEntry.SetFlags(FlagPresent | FlagRW)

	// Copy over the kernel's higher-half entries (index 256-510) from the
	// currently active table so the new table can still reach kernel code
	// and the physical identity mapping once activated.
	activeFrame := pmm.Frame(activePDTFn() >> mem.PageShift)
	activePage, err := MapTemporary(activeFrame)
	if err != nil {
		return err
	}
	defer unmapFn(activePage)

	for i := 256; i < 511; i++ {
		src := (*pageTableEntry)(ptePtrFn(activePage.Address() + uintptr(i<<3)))
		dst := (*pageTableEntry)(ptePtrFn(tmpPage.Address() + uintptr(i<<3)))
		*dst = *src
	}

	return nil
}

// Activate loads this table's frame into CR3, making it the table used by
// the MMU for all subsequent address translations.
func (pdt *PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address())
}

// setupPDTForKernel scans the ELF section headers reported by the
// bootloader and identity-maps each loaded kernel section using the
// appropriate read/write/execute flags. It is invoked once, early during
// boot, before the recursive mapping trick can be relied upon for anything
// beyond the currently active (bootloader-provided) table.
func setupPDTForKernel() *kernel.Error {
	var setupErr *kernel.Error

	visitElfSectionsFn(func(name string, secFlags multiboot.ElfSectionFlag, address uintptr, size uint64) {
		if setupErr != nil || secFlags&multiboot.ElfSectionAllocated == 0 {
			return
		}

		flags := PageTableEntryFlag(FlagPresent)
		if secFlags&multiboot.ElfSectionWritable != 0 {
			flags |= FlagRW
		}
		if secFlags&multiboot.ElfSectionExecutable == 0 {
			flags |= FlagNoExecute
		}

		startPage := PageFromAddress(noEscape(address))
		endPage := PageFromAddress(noEscape(address + uintptr(size) - 1))

		for page := startPage; page <= endPage; page++ {
			frame := pmm.Frame(page.Address() >> mem.PageShift)
			if err := mapFn(page, frame, flags); err != nil {
				setupErr = err
				return
			}
		}
	})

	return setupErr
}

// noEscape hides a pointer value from the compiler's escape analysis. Used
// to prevent loop-carried addresses derived from bootloader structures from
// being incorrectly flagged as escaping to the heap.
//go:noinline
func noEscape(p uintptr) uintptr {
	return p
}
