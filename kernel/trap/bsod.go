package trap

import (
	"unsafe"

	"ardentos/kernel/cpu"
	"ardentos/kernel/driver/video/console"
	"ardentos/kernel/hal"
	"ardentos/kernel/kfmt/early"
)

// Legacy PS/2 controller ports, polled directly (interrupts are disabled by
// the time the BSOD renders) rather than through the ps2 driver's
// interrupt-fed ring buffer.
const (
	ps2DataPort   = 0x60
	ps2StatusPort = 0x64

	ps2StatusOutputFull = 1 << 0

	ps2CmdPulseResetLine = 0xFE
)

// maxStackFrames bounds the BSOD stack trace to at most 10 frames, per
// spec.md §4.4.
const maxStackFrames = 10

// kernelVirtualBase is the lowest address a valid frame-pointer chain link
// can point into; frames below it (e.g. a clobbered/garbage RBP) terminate
// the walk instead of being dereferenced.
const kernelVirtualBase = 0xFFFF800000000000

var (
	// Test seams, automatically inlined by the compiler in non-test
	// builds.
	disableInterruptsFn = cpu.DisableInterrupts
	cpuHaltFn            = cpu.Halt
	in8Fn                = cpu.In8
	out8Fn               = cpu.Out8
	tripleFaultFn        = tripleFault
)

// dispatchException is invoked by the per-vector trampoline installed in
// Init. It always escalates to the BSOD; spec.md §4.4/§7 treat every CPU
// exception taken in kernel mode as fatal by construction — there is no
// user-mode process model here to hand the fault to instead.
func dispatchException(vec InterruptNumber, regs *Registers) {
	panicFromException(vec, regs)
}

// panicFromException renders the full-screen BSOD for a CPU exception:
// banner, error code, exception name, register dump and an RBP-chain stack
// trace, then blocks for a keypress and resets the machine.
func panicFromException(vec InterruptNumber, regs *Registers) {
	disableInterruptsFn()

	term := hal.ActiveTerminal
	term.SetAttr(console.White, console.Blue)
	term.Clear()
	term.SetPosition(0, 0)

	early.Printf("*** ardentos: fatal exception ***\n\n")
	early.Printf("Error Code: 0x%8x\n", uint32(regs.ErrorCode))
	early.Printf("Exception:  %s (vector %d)\n\n", exceptionName(vec), uint8(vec))

	dumpRegisters(regs)
	early.Printf("\nStack trace:\n")
	dumpStackTrace(regs.RBP)

	early.Printf("\nPress any key to reboot...\n")
	waitForKeypress()
	rebootMachine()
}

// dumpRegisters renders every general-purpose register plus the IRET frame,
// matching the layout of gate.Registers.DumpTo in the teacher's richer
// snapshot.
func dumpRegisters(r *Registers) {
	early.Printf("RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	early.Printf("RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	early.Printf("RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	early.Printf("RBP = %16x\n", r.RBP)
	early.Printf("R8  = %16x R9  = %16x\n", r.R8, r.R9)
	early.Printf("R10 = %16x R11 = %16x\n", r.R10, r.R11)
	early.Printf("R12 = %16x R13 = %16x\n", r.R12, r.R13)
	early.Printf("R14 = %16x R15 = %16x\n", r.R14, r.R15)
	early.Printf("RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	early.Printf("RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	early.Printf("RFL = %16x\n", r.RFlags)
}

// stackFrame mirrors the layout pushed by a standard frame-pointer prologue:
// [rbp] -> saved rbp, [rbp+8] -> return address.
type stackFrame struct {
	savedRBP uintptr
	retAddr  uintptr
}

// readFrameFn reads the (savedRBP, retAddr) pair at the given frame
// pointer. Overridden in tests since it otherwise dereferences raw memory.
var readFrameFn = func(rbp uintptr) stackFrame {
	f := (*stackFrame)(unsafe.Pointer(rbp))
	return *f
}

// dumpStackTrace walks the RBP chain starting at rbp, stopping at a zero
// return address, an out-of-range frame pointer, or maxStackFrames.
func dumpStackTrace(rbp uint64) {
	addr := uintptr(rbp)
	for depth := 0; depth < maxStackFrames; depth++ {
		if addr < kernelVirtualBase {
			early.Printf("  <stack trace terminated: frame below kernel base>\n")
			return
		}

		frame := readFrameFn(addr)
		if frame.retAddr == 0 {
			return
		}

		early.Printf("  #%d  %16x\n", depth, uint64(frame.retAddr))
		addr = frame.savedRBP
	}
}

// waitForKeypress polls the PS/2 status port directly (interrupts are
// disabled) until a scancode byte is available, draining any pending
// scancode first so a key pressed before the panic doesn't satisfy the wait
// immediately.
func waitForKeypress() {
	for in8Fn(ps2StatusPort)&ps2StatusOutputFull != 0 {
		in8Fn(ps2DataPort)
	}

	for in8Fn(ps2StatusPort)&ps2StatusOutputFull == 0 {
	}
	in8Fn(ps2DataPort)
}

// rebootMachine pulses the PS/2 controller's reset line; if the controller
// does not honor it, control falls through to triggering a triple fault as
// a last resort.
func rebootMachine() {
	out8Fn(ps2StatusPort, ps2CmdPulseResetLine)
	tripleFaultFn()
	cpuHaltFn()
}

// tripleFault forces a CPU reset by loading a null IDT and raising an
// interrupt, which the CPU cannot dispatch and so shuts down. Implemented
// in assembly since it is inherently unrecoverable, asm-only behavior.
func tripleFault()
