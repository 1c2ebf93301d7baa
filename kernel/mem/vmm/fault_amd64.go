package vmm

import (
	"ardentos/kernel"
	"ardentos/kernel/mem"
)

// PageFaultErrorCode decodes the error code pushed onto the stack by the CPU
// when a page fault exception is raised.
type PageFaultErrorCode uint32

const (
	// PfPresent is set if the fault was caused by a page-protection
	// violation; when clear, the fault was caused by a non-present page.
	PfPresent PageFaultErrorCode = 1 << iota

	// PfWrite is set if the fault occurred on a write; when clear, the
	// fault occurred on a read.
	PfWrite

	// PfUser is set if the fault occurred while executing user-mode code.
	PfUser
)

// HasError returns true if the fault's error code includes the given flag.
func (c PageFaultErrorCode) HasError(flag PageFaultErrorCode) bool {
	return c&flag == flag
}

// HandlePageFault attempts to service a page fault using the faulting
// address supplied by the caller (typically read from CR2 by the trap
// dispatcher). A write fault against a copy-on-write page is resolved by
// allocating a fresh frame, copying the page contents over and granting the
// faulting page exclusive write access. Any other fault is considered
// unrecoverable and is returned as an error so the caller can escalate it
// into a kernel panic.
func HandlePageFault(faultAddr uintptr, errCode PageFaultErrorCode) *kernel.Error {
	page := PageFromAddress(faultAddr)

	entry, err := pteForAddress(page.Address())
	if err != nil {
		return errUnrecoverableFault
	}

	if !errCode.HasError(PfWrite) || !entry.HasFlags(FlagCopyOnWrite) {
		return errUnrecoverableFault
	}

	return resolveCopyOnWrite(page, entry)
}

// resolveCopyOnWrite duplicates the contents of a copy-on-write page into a
// freshly allocated frame and grants the faulting page owner exclusive
// write access to it.
func resolveCopyOnWrite(page Page, entry *pageTableEntry) *kernel.Error {
	newFrame, err := allocFrameFn()
	if err != nil {
		return err
	}

	tmpPage, err := MapTemporary(newFrame)
	if err != nil {
		return err
	}

	mem.Memcopy(tmpPage.Address(), page.Address(), mem.PageSize)
	unmapFn(tmpPage)

	entry.SetFrame(newFrame)
	entry.ClearFlags(FlagCopyOnWrite)
	entry.SetFlags(FlagRW)

	flushTLBEntryFn(page.Address())
	return nil
}

// HandleGeneralProtectionFault is invoked by the trap dispatcher whenever a
// general-protection exception is raised outside of the page fault path. The
// vmm package cannot recover from these so it always returns an error.
func HandleGeneralProtectionFault() *kernel.Error {
	return errUnrecoverableFault
}

// ActivePageFaultAddress reads the faulting address straight from the CPU's
// CR2 register.
func ActivePageFaultAddress() uintptr {
	return uintptr(readCR2Fn())
}
