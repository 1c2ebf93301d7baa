package syscall

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

type msrWrite struct {
	msr    uint32
	lo, hi uint32
}

type msrState struct {
	writes []msrWrite
}

func withMSRs(t *testing.T) *msrState {
	t.Helper()
	origRead, origWrite := readMSRFn, writeMSRFn
	state := &msrState{}
	writeMSRFn = func(msr uint32, lo, hi uint32) {
		state.writes = append(state.writes, msrWrite{msr, lo, hi})
	}
	readMSRFn = func(msr uint32) (uint32, uint32) { return 0, 0 }
	t.Cleanup(func() {
		readMSRFn, writeMSRFn = origRead, origWrite
		table = [tableSize]handler{}
	})
	return state
}

func TestInitConfiguresSyscallMSRs(t *testing.T) {
	state := withMSRs(t)
	Init()

	sawSTAR, sawLSTAR, sawSFMASK, sawEFER := false, false, false, false
	for _, w := range state.writes {
		switch w.msr {
		case msrSTAR:
			sawSTAR = true
		case msrLSTAR:
			sawLSTAR = true
		case msrSFMASK:
			sawSFMASK = true
		case msrEFER:
			sawEFER = true
			require.Equal(t, uint32(eferSCE), w.lo&eferSCE)
		}
	}
	require.True(t, sawSTAR)
	require.True(t, sawLSTAR)
	require.True(t, sawSFMASK)
	require.True(t, sawEFER)
}

func TestInitRegistersAllBuiltinNumbers(t *testing.T) {
	withMSRs(t)
	Init()

	for _, num := range []int{SysExit, SysWrite, SysRead, SysOpen, SysClose, SysGetpid,
		SysYield, SysLseek, SysStat, SysFstat, SysMkdir, SysRmdir, SysGetdents, SysUnlink} {
		require.NotNil(t, table[num])
	}
}

func TestDispatchReturnsMinusOneForUnregisteredNumber(t *testing.T) {
	table = [tableSize]handler{}
	require.EqualValues(t, -1, Dispatch(31, [6]uint64{}))
}

func TestDispatchReturnsMinusOneForOutOfRangeNumber(t *testing.T) {
	require.EqualValues(t, -1, Dispatch(tableSize, [6]uint64{}))
	require.EqualValues(t, -1, Dispatch(1000, [6]uint64{}))
}

func TestRegisterIgnoresOutOfRangeNumbers(t *testing.T) {
	table = [tableSize]handler{}
	Register(-1, func([6]uint64) int64 { return 42 })
	Register(tableSize, func([6]uint64) int64 { return 42 })
	require.EqualValues(t, -1, Dispatch(0, [6]uint64{}))
}

func TestSysGetpidReturnsOne(t *testing.T) {
	require.EqualValues(t, 1, sysGetpid([6]uint64{}))
}

func TestSysYieldReturnsZero(t *testing.T) {
	require.EqualValues(t, 0, sysYield([6]uint64{}))
}

func TestSysExitReturnsZero(t *testing.T) {
	require.EqualValues(t, 0, sysExit([6]uint64{7}))
}

func TestStringAtStopsAtNUL(t *testing.T) {
	backing := append([]byte("/boot/config"), 0, 'X', 'X')
	addr := uint64(uintptr(unsafe.Pointer(ptrOf(backing))))
	require.Equal(t, "/boot/config", stringAt(addr, uint64(len(backing))))
}

func TestPutNameTruncatesAndTerminates(t *testing.T) {
	buf := make([]byte, nameMax)
	putName(buf, "short")
	require.Equal(t, byte(0), buf[5])
	require.Equal(t, "short", string(buf[:5]))

	long := strings.Repeat("x", nameMax+10)
	putName(buf, long)
	require.Equal(t, byte(0), buf[nameMax-1])
	require.Equal(t, long[:nameMax-1], string(buf[:nameMax-1]))
}

func ptrOf(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}
