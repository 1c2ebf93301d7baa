package gdt

// loadGDT issues LGDT against the descriptor pointer at gdtPtrAddr, then
// reloads CS via a far return/jump and SS/DS/ES/FS/GS with
// KernelCodeSelector/KernelDataSelector, matching original_source's
// asm-only gdt_flush.
func loadGDT(gdtPtrAddr uintptr)

// loadTSS issues LTR with TSSSelector, matching original_source's
// asm-only tss_flush.
func loadTSS()
