// Package trap wires CPU exception vectors 0-31 to a single dispatcher that
// escalates into the BSOD renderer, and lets other subsystems register
// callbacks for the 16 legacy IRQ lines. It is grounded on the teacher's
// richer gate package
// (_examples/gopher-os-gopher-os/src/gopheros/kernel/gate/gate_amd64.go),
// which models the full register snapshot/IDT-slot abstraction that the
// outer kernel/panic.go snapshot only gestures at.
package trap

import (
	"ardentos/kernel/kfmt/early"
)

// Registers is a snapshot of all general-purpose registers, plus whichever
// vector/syscall number and IRET frame fields were active, at the moment an
// exception, IRQ or syscall occurred.
type Registers struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11    uint64
	R12, R13, R14, R15  uint64

	// Info carries the exception vector for exceptions, the IRQ line
	// number for hardware interrupts, or the syscall number for syscall
	// gate entries.
	Info uint64

	// ErrorCode is the CPU-pushed error code for exceptions that carry
	// one (e.g. page fault, GPF); zero otherwise.
	ErrorCode uint64

	// IRET frame, pushed automatically by the CPU before entry.
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// InterruptNumber identifies one of the 32 CPU exception vectors.
type InterruptNumber uint8

// CPU exception vectors that ardentos cares about naming explicitly; the
// remaining vectors still dispatch to the BSOD path but render with a
// generic "Reserved Exception" name.
const (
	DivideByZero               = InterruptNumber(0)
	Debug                      = InterruptNumber(1)
	NMI                        = InterruptNumber(2)
	Breakpoint                 = InterruptNumber(3)
	Overflow                   = InterruptNumber(4)
	BoundRangeExceeded         = InterruptNumber(5)
	InvalidOpcode              = InterruptNumber(6)
	DeviceNotAvailable         = InterruptNumber(7)
	DoubleFault                = InterruptNumber(8)
	InvalidTSS                 = InterruptNumber(10)
	SegmentNotPresent          = InterruptNumber(11)
	StackSegmentFault          = InterruptNumber(12)
	GPFException               = InterruptNumber(13)
	PageFaultException         = InterruptNumber(14)
	FloatingPointException     = InterruptNumber(16)
	AlignmentCheck             = InterruptNumber(17)
	MachineCheck               = InterruptNumber(18)
	SIMDFloatingPointException = InterruptNumber(19)
)

// exceptionNames maps a vector to its human-readable name for the BSOD
// header line. Vectors not present here render as "Reserved Exception".
var exceptionNames = map[InterruptNumber]string{
	DivideByZero:               "Divide By Zero",
	Debug:                      "Debug",
	NMI:                        "Non-Maskable Interrupt",
	Breakpoint:                 "Breakpoint",
	Overflow:                   "Overflow",
	BoundRangeExceeded:         "Bound Range Exceeded",
	InvalidOpcode:              "Invalid Opcode",
	DeviceNotAvailable:         "Device Not Available",
	DoubleFault:                "Double Fault",
	InvalidTSS:                 "Invalid TSS",
	SegmentNotPresent:          "Segment Not Present",
	StackSegmentFault:          "Stack Segment Fault",
	GPFException:               "General Protection Fault",
	PageFaultException:         "Page Fault",
	FloatingPointException:     "x87 Floating Point Exception",
	AlignmentCheck:             "Alignment Check",
	MachineCheck:               "Machine Check",
	SIMDFloatingPointException: "SIMD Floating Point Exception",
}

// exceptionName returns the human-readable name for num, matching spec.md
// §4.4's requirement that the BSOD include "a human-readable exception
// name" per vector.
func exceptionName(num InterruptNumber) string {
	if name, ok := exceptionNames[num]; ok {
		return name
	}
	return "Reserved Exception"
}

// IRQHandlerFn handles one of the 16 legacy PIC interrupt lines.
type IRQHandlerFn func(*Registers)

var irqHandlers [16]IRQHandlerFn

// IRQRegister installs handler as the callback for the given IRQ line
// (0..=15). A nil handler is rejected; to stop handling a line call
// IRQUnregister.
func IRQRegister(line uint8, handler IRQHandlerFn) {
	if line >= 16 || handler == nil {
		return
	}
	irqHandlers[line] = handler
}

// IRQUnregister removes any handler installed for the given IRQ line.
func IRQUnregister(line uint8) {
	if line >= 16 {
		return
	}
	irqHandlers[line] = nil
}

// Init installs the IDT and arms the exception/IRQ dispatch trampolines.
// Must run after the GDT is in place and before interrupts are enabled.
func Init() {
	installIDT()
	for vec := InterruptNumber(0); vec < 32; vec++ {
		HandleInterrupt(vec, 0, makeExceptionTrampoline(vec))
	}
	early.Printf("[trap] IDT installed; %d exception vectors armed\n", 32)
}

// makeExceptionTrampoline binds vec into a closure so dispatchException
// always knows which vector it was invoked for, without needing the asm
// entry stubs to pass it explicitly.
func makeExceptionTrampoline(vec InterruptNumber) func(*Registers) {
	return func(regs *Registers) {
		regs.Info = uint64(vec)
		dispatchException(vec, regs)
	}
}

// DispatchIRQ is invoked by the PIC glue (kernel/pic) for every hardware
// interrupt after translating the raw vector back into a 0..15 IRQ line.
func DispatchIRQ(line uint8, regs *Registers) {
	if line < 16 && irqHandlers[line] != nil {
		irqHandlers[line](regs)
	}
}

// HandleInterrupt arms the IDT gate for intNumber so that, on firing, it
// populates a Registers snapshot and calls handler. istOffset selects an
// interrupt-stack-table slot (0 disables IST for that gate). Implemented in
// assembly; declared here as the Go-visible seam the rest of the package
// dispatches through.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers))

// installIDT populates the IDT descriptor and loads it via LIDT. All gates
// start out non-present; Init enables the ones this package dispatches.
func installIDT()
