// Package pic remaps the legacy 8259 programmable interrupt controller
// pair off the CPU exception range and routes each of its 16 IRQ lines
// into kernel/trap's registered handler table, sending end-of-interrupt
// after every line. Grounded on the port-I/O sequencing style of the
// teacher's cpu package (kernel/cpu/cpu_amd64.go) generalized to the PIC's
// documented remap/mask/EOI protocol, since the pack never implemented a
// PIC driver itself.
package pic

import (
	"ardentos/kernel/cpu"
	"ardentos/kernel/kfmt/early"
	"ardentos/kernel/trap"
)

const (
	masterCmdPort  = 0x20
	masterDataPort = 0x21
	slaveCmdPort   = 0xA0
	slaveDataPort  = 0xA1

	cmdInit      = 0x11
	cmdEOI       = 0x20
	icw4Mode8086 = 0x01

	// VectorOffsetMaster/Slave are where the PIC's 16 lines land after the
	// remap, clear of the CPU's 0..31 exception range.
	VectorOffsetMaster = 0x20
	VectorOffsetSlave  = 0x28

	// KeyboardIRQ is the legacy PS/2 keyboard's IRQ line.
	KeyboardIRQ = uint8(1)

	cascadeIRQ = uint8(2)
)

var (
	out8Fn   = cpu.Out8
	in8Fn    = cpu.In8
	ioWaitFn = cpu.IOWait

	// handleInterruptFn is trap.HandleInterrupt, seamed out so tests can
	// exercise Init's remap/mask sequence without arming real IDT gates
	// (HandleInterrupt's body is asm-only).
	handleInterruptFn = trap.HandleInterrupt
)

// Init remaps both PICs to VectorOffsetMaster/VectorOffsetSlave, restores the
// line masks both PICs held before the remap, then unmasks the keyboard IRQ
// (line 1) as required to drive the shell's input.
func Init() {
	masterMask := in8Fn(masterDataPort)
	slaveMask := in8Fn(slaveDataPort)

	out8Fn(masterCmdPort, cmdInit)
	ioWaitFn()
	out8Fn(slaveCmdPort, cmdInit)
	ioWaitFn()

	out8Fn(masterDataPort, VectorOffsetMaster)
	ioWaitFn()
	out8Fn(slaveDataPort, VectorOffsetSlave)
	ioWaitFn()

	out8Fn(masterDataPort, 1<<cascadeIRQ)
	ioWaitFn()
	out8Fn(slaveDataPort, 2)
	ioWaitFn()

	out8Fn(masterDataPort, icw4Mode8086)
	ioWaitFn()
	out8Fn(slaveDataPort, icw4Mode8086)
	ioWaitFn()

	out8Fn(masterDataPort, masterMask)
	out8Fn(slaveDataPort, slaveMask)

	Unmask(KeyboardIRQ)

	handleInterruptFn(trap.InterruptNumber(VectorOffsetMaster), 0, dispatchMaster)
	for line := uint8(1); line < 8; line++ {
		handleInterruptFn(trap.InterruptNumber(VectorOffsetMaster+line), 0, makeDispatch(line))
	}
	for line := uint8(0); line < 8; line++ {
		handleInterruptFn(trap.InterruptNumber(VectorOffsetSlave+line), 0, makeDispatch(8+line))
	}

	early.Printf("[pic] remapped to 0x%x/0x%x; keyboard IRQ unmasked\n", VectorOffsetMaster, VectorOffsetSlave)
}

func dispatchMaster(regs *trap.Registers) {
	dispatch(0, regs)
}

func makeDispatch(line uint8) func(*trap.Registers) {
	return func(regs *trap.Registers) { dispatch(line, regs) }
}

// dispatch routes the IRQ to trap's handler table and sends EOI to the
// slave (if the line came from it) and always to the master.
func dispatch(line uint8, regs *trap.Registers) {
	regs.Info = uint64(line)
	trap.DispatchIRQ(line, regs)
	SendEOI(line)
}

// Mask disables a single IRQ line at the PIC.
func Mask(line uint8) {
	port := masterDataPort
	bit := line
	if line >= 8 {
		port = slaveDataPort
		bit -= 8
	}
	out8Fn(uint16(port), in8Fn(uint16(port))|(1<<bit))
}

// Unmask enables a single IRQ line at the PIC.
func Unmask(line uint8) {
	port := masterDataPort
	bit := line
	if line >= 8 {
		port = slaveDataPort
		bit -= 8
	}
	out8Fn(uint16(port), in8Fn(uint16(port))&^(1<<bit))
}

// SendEOI acknowledges the interrupt with both PICs (slave then master) when
// line originated on the slave, or just the master otherwise.
func SendEOI(line uint8) {
	if line >= 8 {
		out8Fn(slaveCmdPort, cmdEOI)
	}
	out8Fn(masterCmdPort, cmdEOI)
}
