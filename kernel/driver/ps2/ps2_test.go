package ps2

import (
	"testing"

	"ardentos/kernel/pic"
	"ardentos/kernel/trap"

	"github.com/stretchr/testify/require"
)

func withScancode(t *testing.T, bytes ...uint8) {
	t.Helper()
	orig := in8Fn
	idx := 0
	in8Fn = func(_ uint16) uint8 {
		b := bytes[idx]
		if idx < len(bytes)-1 {
			idx++
		}
		return b
	}
	t.Cleanup(func() {
		in8Fn = orig
		lock.Acquire()
		ringStart, ringEnd = 0, 0
		shiftDown, ctrlDown, altDown, capsLock, extendedNext = false, false, false, false, false
		lock.Release()
	})
}

func TestInitRegistersKeyboardIRQHandler(t *testing.T) {
	orig := irqRegisterFn
	defer func() { irqRegisterFn = orig }()

	var gotLine uint8
	irqRegisterFn = func(line uint8, _ trap.IRQHandlerFn) { gotLine = line }

	Init()
	require.Equal(t, pic.KeyboardIRQ, gotLine)
}

func TestLowercaseLetterDecodes(t *testing.T) {
	withScancode(t, 0x1E) // 'a'
	handleIRQ(nil)

	require.True(t, Available())
	require.Equal(t, int('a'), Getchar())
	require.False(t, Available())
}

func TestShiftUppercasesLetter(t *testing.T) {
	withScancode(t, keyLShift)
	handleIRQ(nil)
	withScancode(t, 0x1E)
	handleIRQ(nil)

	require.Equal(t, int('A'), Getchar())
}

func TestShiftReleaseStopsUppercasing(t *testing.T) {
	withScancode(t, keyLShift)
	handleIRQ(nil)
	withScancode(t, keyLShift|scancodeReleaseBit)
	handleIRQ(nil)
	withScancode(t, 0x1E)
	handleIRQ(nil)

	require.Equal(t, int('a'), Getchar())
}

func TestCapsLockTogglesLetterCase(t *testing.T) {
	withScancode(t, keyCapsLock)
	handleIRQ(nil)
	withScancode(t, 0x1E)
	handleIRQ(nil)

	require.Equal(t, int('A'), Getchar())
}

func TestCtrlCombinationProducesControlCode(t *testing.T) {
	withScancode(t, keyLCtrl)
	handleIRQ(nil)
	withScancode(t, 0x2E) // 'c'
	handleIRQ(nil)

	require.Equal(t, 0x03, Getchar())
}

func TestExtendedArrowKeyEmitsEscapeSequence(t *testing.T) {
	withScancode(t, scancodeExtendedPrefix)
	handleIRQ(nil)
	withScancode(t, keyExtLeft)
	handleIRQ(nil)

	require.Equal(t, 0x1B, Getchar())
	require.Equal(t, int('['), Getchar())
	require.Equal(t, int('D'), Getchar())
}

func TestGetcharReturnsMinusOneWhenEmpty(t *testing.T) {
	require.Equal(t, -1, Getchar())
}

func TestFlushDiscardsBufferedInput(t *testing.T) {
	withScancode(t, 0x1E)
	handleIRQ(nil)
	require.True(t, Available())

	Flush()
	require.False(t, Available())
}
