package trap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExceptionNameKnownAndUnknown(t *testing.T) {
	require.Equal(t, "Page Fault", exceptionName(PageFaultException))
	require.Equal(t, "Reserved Exception", exceptionName(InterruptNumber(9)))
}

func TestIRQRegisterDispatchUnregister(t *testing.T) {
	defer func() {
		for i := range irqHandlers {
			irqHandlers[i] = nil
		}
	}()

	var fired bool
	IRQRegister(1, func(*Registers) { fired = true })

	DispatchIRQ(1, &Registers{})
	require.True(t, fired)

	IRQUnregister(1)
	fired = false
	DispatchIRQ(1, &Registers{})
	require.False(t, fired)
}

func TestIRQRegisterRejectsOutOfRangeLine(t *testing.T) {
	defer func() {
		for i := range irqHandlers {
			irqHandlers[i] = nil
		}
	}()

	IRQRegister(16, func(*Registers) {})
	require.Nil(t, irqHandlers[15])
}
