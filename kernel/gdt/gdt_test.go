package gdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withMockedFlush(t *testing.T) *int {
	t.Helper()
	origLoadGDT, origLoadTSS := loadGDTFn, loadTSSFn

	var flushed int
	loadGDTFn = func(uintptr) { flushed++ }
	loadTSSFn = func() { flushed++ }

	t.Cleanup(func() { loadGDTFn, loadTSSFn = origLoadGDT, origLoadTSS })
	return &flushed
}

func TestInitBuildsKernelAndUserSegments(t *testing.T) {
	flushed := withMockedFlush(t)

	Init(0xdeadbeef)

	require.Equal(t, 2, *flushed)

	// Kernel code: present, ring 0, long-mode code segment.
	require.Equal(t, uint8(accessPresent|accessCode), table[1].access)
	// Kernel data: present, ring 0, writable.
	require.Equal(t, uint8(accessPresent|accessData), table[2].access)
	// User code: present, ring 3, long-mode code segment.
	require.Equal(t, uint8(accessPresent|accessRing3|accessCode), table[3].access)
	// User data: present, ring 3, writable.
	require.Equal(t, uint8(accessPresent|accessRing3|accessData), table[4].access)

	require.Equal(t, uint64(0xdeadbeef), theTSS.rsp0)
	require.Equal(t, uint16(numEntries*8-1), tablePtr.limit)
}

func TestSetKernelStackUpdatesRSP0(t *testing.T) {
	withMockedFlush(t)
	Init(1)

	SetKernelStack(0x1000)

	require.Equal(t, uint64(0x1000), theTSS.rsp0)
}

func TestSelectorsMatchOriginalLayout(t *testing.T) {
	require.Equal(t, uint16(0x08), KernelCodeSelector)
	require.Equal(t, uint16(0x10), KernelDataSelector)
	require.Equal(t, uint16(0x18), UserCodeSelector)
	require.Equal(t, uint16(0x20), UserDataSelector)
	require.Equal(t, uint16(0x28), TSSSelector)
}
