// Package ps2 decodes legacy PS/2 keyboard scancodes (set 1) into ASCII and
// buffers them in a fixed-size ring, per spec.md §6 "PS/2 keyboard". Grounded
// on original_source's drivers/input/keyboard/ps2.c for the scancode tables,
// modifier-key state machine and extended-key (0xE0) handling, wired into
// kernel/trap's IRQ table through kernel/pic the same way that package wires
// its own dispatch trampolines.
package ps2

import (
	"ardentos/kernel/cpu"
	"ardentos/kernel/kfmt/early"
	"ardentos/kernel/pic"
	"ardentos/kernel/sync"
	"ardentos/kernel/trap"
)

const (
	dataPort   = 0x60
	statusPort = 0x64

	statusOutputFull = 1 << 0

	bufferSize = 256

	scancodeExtendedPrefix = 0xE0
	scancodeReleaseBit     = 0x80

	keyLShift    = 0x2A
	keyRShift    = 0x36
	keyLCtrl     = 0x1D
	keyLAlt      = 0x38
	keyCapsLock  = 0x3A
	keyExtLeft   = 0x4B
	keyExtRight  = 0x4D
)

var (
	in8Fn = cpu.In8

	irqRegisterFn = trap.IRQRegister
)

// US QWERTY set-1 scancode to ASCII, index by scancode. A zero entry means
// the key has no printable mapping.
var scancodeToASCII = [...]byte{
	0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b',
	'\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n',
	0, 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`',
	0, '\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0,
	'*', 0, ' ',
}

var scancodeToASCIIShift = [...]byte{
	0, 0, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b',
	'\t', 'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n',
	0, 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~',
	0, '|', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?', 0,
	'*', 0, ' ',
}

// state holds the keyboard's modifier latches and decoded-byte ring, guarded
// by lock so the IRQ handler (producer) and getchar/Available (consumers)
// never observe a torn buffer.
var (
	lock sync.Spinlock

	ring       [bufferSize]byte
	ringStart  int
	ringEnd    int

	shiftDown    bool
	ctrlDown     bool
	altDown      bool
	capsLock     bool
	extendedNext bool
)

// Init registers the keyboard IRQ handler. kernel/pic.Init already remapped
// the PICs and unmasked line 1 before this runs.
func Init() {
	irqRegisterFn(pic.KeyboardIRQ, handleIRQ)
	early.Printf("[ps2] keyboard handler armed on IRQ %d\n", pic.KeyboardIRQ)
}

func bufferAdd(c byte) {
	next := (ringEnd + 1) % bufferSize
	if next == ringStart {
		// Buffer full: drop the keystroke rather than overwrite unread
		// input, matching original_source's kb_buffer_add.
		return
	}
	ring[ringEnd] = c
	ringEnd = next
}

func handleExtendedKey(scancode uint8) {
	switch scancode {
	case keyExtLeft:
		bufferAdd(0x1B)
		bufferAdd('[')
		bufferAdd('D')
	case keyExtRight:
		bufferAdd(0x1B)
		bufferAdd('[')
		bufferAdd('C')
	}
}

// handleIRQ is the IRQ1 callback: decode one scancode byte per call. Reading
// the data port also lets the PS/2 controller clear its output-full latch.
func handleIRQ(_ *trap.Registers) {
	scancode := in8Fn(dataPort)

	lock.Acquire()
	defer lock.Release()

	if scancode == scancodeExtendedPrefix {
		extendedNext = true
		return
	}

	if scancode&scancodeReleaseBit != 0 {
		released := scancode &^ scancodeReleaseBit
		switch released {
		case keyLShift, keyRShift:
			shiftDown = false
		case keyLCtrl:
			ctrlDown = false
		case keyLAlt:
			altDown = false
		}
		extendedNext = false
		return
	}

	if extendedNext {
		handleExtendedKey(scancode)
		extendedNext = false
		return
	}

	switch scancode {
	case keyLShift, keyRShift:
		shiftDown = true
		return
	case keyLCtrl:
		ctrlDown = true
		return
	case keyLAlt:
		altDown = true
		return
	case keyCapsLock:
		capsLock = !capsLock
		return
	}

	if int(scancode) >= len(scancodeToASCII) {
		return
	}

	var c byte
	if shiftDown {
		c = scancodeToASCIIShift[scancode]
	} else {
		c = scancodeToASCII[scancode]
		if capsLock && c >= 'a' && c <= 'z' {
			c = c - 'a' + 'A'
		}
	}
	if ctrlDown && c >= 'a' && c <= 'z' {
		c = c - 'a' + 1
	}
	if c != 0 {
		bufferAdd(c)
	}
}

// Available reports whether at least one decoded character is waiting.
func Available() bool {
	lock.Acquire()
	defer lock.Release()
	return ringStart != ringEnd
}

// Getchar returns the next decoded character, or -1 if the buffer is empty.
// Non-blocking: callers that want to wait should poll with cpu.Halt between
// attempts, per spec.md §5's "Suspension points" note.
func Getchar() int {
	lock.Acquire()
	defer lock.Release()
	if ringStart == ringEnd {
		return -1
	}
	c := ring[ringStart]
	ringStart = (ringStart + 1) % bufferSize
	return int(c)
}

// Flush discards any buffered scancodes.
func Flush() {
	lock.Acquire()
	defer lock.Release()
	ringStart, ringEnd = 0, 0
}
