package cpu

var (
	// cpuidFn is a test seam; automatically inlined by the compiler in
	// non-test builds.
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register. The CPU populates
// this register with the faulting address whenever a page fault occurs.
func ReadCR2() uint64

// BootStackTop returns the top of the stack the rt0 boot stub set up
// before handing off to kmain.Kmain, matching original_source's `extern
// uint8_t stack_top[]` (defined in the assembly boot stub). kernel/gdt
// uses it as the TSS's initial ring-0 stack.
func BootStackTop() uintptr

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values placed in
// EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// Out8 writes a single byte to the given I/O port.
func Out8(port uint16, value uint8)

// In8 reads a single byte from the given I/O port.
func In8(port uint16) uint8

// Out16 writes a 16-bit word to the given I/O port.
func Out16(port uint16, value uint16)

// In16 reads a 16-bit word from the given I/O port.
func In16(port uint16) uint16

// Out32 writes a 32-bit dword to the given I/O port.
func Out32(port uint16, value uint32)

// In32 reads a 32-bit dword from the given I/O port.
func In32(port uint16) uint32

// IOWait performs a throwaway write to an unused port (0x80) to burn a few
// cycles. Several legacy devices (PIC, PS/2) require a short delay between
// consecutive I/O operations.
func IOWait()

// ReadMSR reads the model-specific register at the given address, returning
// the low and high 32-bit halves (as loaded into EDX:EAX by RDMSR).
func ReadMSR(addr uint32) (uint32, uint32)

// WriteMSR writes the given low/high halves into the model-specific
// register at the given address via WRMSR.
func WriteMSR(addr uint32, low, high uint32)
