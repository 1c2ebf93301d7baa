package vmm

import (
	"testing"
	"unsafe"

	"ardentos/kernel/mem/pmm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var pte pageTableEntry

	if pte.HasFlags(FlagPresent) {
		t.Fatal("expected fresh entry to have no flags set")
	}

	pte.SetFlags(FlagPresent | FlagRW)
	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected entry to have FlagPresent and FlagRW set")
	}
	if !pte.HasAnyFlag(FlagPresent | FlagUserAccessible) {
		t.Fatal("expected HasAnyFlag to report a match")
	}

	pte.ClearFlags(FlagRW)
	if pte.HasFlags(FlagRW) {
		t.Fatal("expected FlagRW to be cleared")
	}
	if !pte.HasFlags(FlagPresent) {
		t.Fatal("expected FlagPresent to remain set")
	}
}

func TestPageTableEntryFrame(t *testing.T) {
	var pte pageTableEntry

	frame := pmm.Frame(0x1234)
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent | FlagRW)

	if got := pte.Frame(); got != frame {
		t.Fatalf("expected frame %d; got %d", frame, got)
	}

	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected SetFrame to preserve existing flags")
	}
}

func TestWalk(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	var physPages [pageLevels]pageTableEntry
	visited := 0

	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		level := visited
		visited++
		return unsafe.Pointer(&physPages[level])
	}

	walk(0, func(level uint8, pte *pageTableEntry) bool {
		return true
	})

	if exp := pageLevels; visited != exp {
		t.Fatalf("expected walk to visit %d levels; visited %d", exp, visited)
	}
}

func TestPteForAddress(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	t.Run("present mapping", func(t *testing.T) {
		var physPages [pageLevels]pageTableEntry
		for i := range physPages {
			physPages[i].SetFlags(FlagPresent)
		}

		callCount := 0
		ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
			p := &physPages[callCount]
			callCount++
			return unsafe.Pointer(p)
		}

		entry, err := pteForAddress(0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if entry == nil {
			t.Fatal("expected non-nil pte")
		}
	})

	t.Run("not present", func(t *testing.T) {
		var physPages [pageLevels]pageTableEntry

		callCount := 0
		ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
			p := &physPages[callCount]
			callCount++
			return unsafe.Pointer(p)
		}

		if _, err := pteForAddress(0); err != ErrInvalidMapping {
			t.Fatalf("expected ErrInvalidMapping; got %v", err)
		}
	})
}
